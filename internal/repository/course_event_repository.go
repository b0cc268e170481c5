package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
)

type CourseEventRepository struct {
	db *gorm.DB
}

func NewCourseEventRepository(db *gorm.DB) *CourseEventRepository {
	return &CourseEventRepository{db: db}
}

func (r *CourseEventRepository) Create(ctx context.Context, event *model.CourseEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *CourseEventRepository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.CourseEvent, error) {
	var events []model.CourseEvent
	err := r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
