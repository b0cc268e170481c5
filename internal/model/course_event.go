package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CourseEvent is an append-only audit record of a course status transition.
// Writing one never blocks or rolls back the transition itself.
type CourseEvent struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	CourseID   uuid.UUID    `gorm:"type:uuid;not null;index" json:"course_id"`
	FromStatus CourseStatus `gorm:"type:course_status;not null" json:"from_status"`
	ToStatus   CourseStatus `gorm:"type:course_status;not null" json:"to_status"`
	Actor      string       `gorm:"type:varchar(64);not null" json:"actor"`
	Detail     string       `gorm:"type:text" json:"detail"`
	CreatedAt  time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CourseEvent) TableName() string {
	return "course_events"
}

func (e *CourseEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
