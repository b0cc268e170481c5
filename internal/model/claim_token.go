package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimToken grants access to a course's claim page. A course accumulates
// tokens over its life (regeneration deactivates the old ones); at most one
// is active at a time.
type ClaimToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	CourseID  uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	Token     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ClaimToken) TableName() string {
	return "claim_tokens"
}

func (t *ClaimToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Valid reports whether the token can still be used to view or claim its course.
func (t *ClaimToken) Valid(now time.Time) bool {
	return t.Active && now.Before(t.ExpiresAt)
}
