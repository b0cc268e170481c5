package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
)

type CourseRepository struct {
	db *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) Create(ctx context.Context, course *model.Course) error {
	return r.db.WithContext(ctx).Create(course).Error
}

func (r *CourseRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Course, error) {
	var course model.Course
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&course).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &course, nil
}

type CourseListFilter struct {
	Status           *model.CourseStatus
	AssignedDriverID *uuid.UUID
	IsTest           *bool
}

func (r *CourseRepository) List(ctx context.Context, filter CourseListFilter) ([]model.Course, error) {
	var courses []model.Course
	query := r.db.WithContext(ctx).Model(&model.Course{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.AssignedDriverID != nil {
		query = query.Where("assigned_driver_id = ?", *filter.AssignedDriverID)
	}
	if filter.IsTest != nil {
		query = query.Where("is_test = ?", *filter.IsTest)
	}

	if err := query.Order("created_at DESC").Find(&courses).Error; err != nil {
		return nil, err
	}

	return courses, nil
}

// ReserveOpen is the race-sensitive claim primitive: it flips an OPEN course
// to RESERVED for the given driver in one conditional UPDATE. When two drivers
// race, exactly one call matches a row; the other returns false.
func (r *CourseRepository) ReserveOpen(ctx context.Context, id, driverID uuid.UUID, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ? AND status = ?", id, model.CourseStatusOpen).
		Updates(map[string]interface{}{
			"status":                model.CourseStatusReserved,
			"reserved_by_driver_id": driverID,
			"reserved_until":        until,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseLock reverts a reservation held by the given driver back to OPEN.
func (r *CourseRepository) ReleaseLock(ctx context.Context, id, driverID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ? AND status = ? AND reserved_by_driver_id = ?", id, model.CourseStatusReserved, driverID).
		Updates(map[string]interface{}{
			"status":                model.CourseStatusOpen,
			"reserved_by_driver_id": nil,
			"reserved_until":        nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseExpired lazily reopens a course whose reservation window has lapsed.
// The expiry check and the revert are a single conditional UPDATE, so two
// concurrent callers cannot both observe the reopen as theirs.
func (r *CourseRepository) ReleaseExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ? AND status = ? AND reserved_until < ?", id, model.CourseStatusReserved, now).
		Updates(map[string]interface{}{
			"status":                model.CourseStatusOpen,
			"reserved_by_driver_id": nil,
			"reserved_until":        nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Assign finalizes a paid claim. from must be RESERVED (normal path, checked
// against the paying driver's lock) or OPEN (grace path when the lock lapsed
// before the provider confirmation arrived and nobody reclaimed the course).
func (r *CourseRepository) Assign(ctx context.Context, id, driverID uuid.UUID, from model.CourseStatus, commission float64, at time.Time) (bool, error) {
	query := r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ? AND status = ?", id, from)
	if from == model.CourseStatusReserved {
		query = query.Where("reserved_by_driver_id = ?", driverID)
	}

	res := query.Updates(map[string]interface{}{
		"status":                model.CourseStatusAssigned,
		"assigned_driver_id":    driverID,
		"assigned_at":           at,
		"commission_amount":     commission,
		"commission_paid":       true,
		"commission_paid_at":    at,
		"reserved_by_driver_id": nil,
		"reserved_until":        nil,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelFrom cancels a course that has no assignment yet (OPEN or RESERVED),
// clearing any lock along the way.
func (r *CourseRepository) CancelFrom(ctx context.Context, id uuid.UUID, from model.CourseStatus, actor model.CancelActor, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":                model.CourseStatusCancelled,
			"cancelled_by":          actor,
			"cancel_reason":         reason,
			"reserved_by_driver_id": nil,
			"reserved_until":        nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Transition is the generic compare-and-swap status change used by admin
// operations. A stale expected status matches zero rows and reports false.
func (r *CourseRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.CourseStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetToOpen is the admin override that clears any lock or assignment.
func (r *CourseRepository) ResetToOpen(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":                model.CourseStatusOpen,
			"reserved_by_driver_id": nil,
			"reserved_until":        nil,
			"assigned_driver_id":    nil,
			"assigned_at":           nil,
		}).Error
}

func (r *CourseRepository) SetTestFlag(ctx context.Context, id uuid.UUID, isTest bool) error {
	return r.db.WithContext(ctx).Model(&model.Course{}).
		Where("id = ?", id).
		Update("is_test", isTest).Error
}

func (r *CourseRepository) CountAssignedToDriver(ctx context.Context, driverID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Course{}).
		Where("assigned_driver_id = ?", driverID).
		Count(&count).Error
	return count, err
}

type CancelAssignedParams struct {
	CourseID       uuid.UUID
	Actor          model.CancelActor
	Reason         string
	Late           bool
	PenalizeDriver *uuid.UUID // set when a late driver cancellation increments the counter
	Now            time.Time
}

type CancelAssignedResult struct {
	LateCancelCount int
	AutoDeactivated bool
}

// CancelAssigned cancels an ASSIGNED course and, for late driver-initiated
// cancellations, increments the driver's counter and deactivates the account
// at the limit. Both writes happen in one transaction: either the course is
// cancelled and the penalty recorded, or neither applies.
func (r *CourseRepository) CancelAssigned(ctx context.Context, params CancelAssignedParams) (*CancelAssignedResult, error) {
	result := &CancelAssignedResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Course{}).
			Where("id = ? AND status = ?", params.CourseID, model.CourseStatusAssigned).
			Updates(map[string]interface{}{
				"status":         model.CourseStatusCancelled,
				"cancelled_by":   params.Actor,
				"cancelled_late": params.Late,
				"cancel_reason":  params.Reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if params.PenalizeDriver == nil {
			return nil
		}

		if err := tx.Model(&model.Driver{}).
			Where("id = ?", *params.PenalizeDriver).
			Update("late_cancel_count", gorm.Expr("late_cancel_count + 1")).Error; err != nil {
			return err
		}

		var driver model.Driver
		if err := tx.Where("id = ?", *params.PenalizeDriver).First(&driver).Error; err != nil {
			return err
		}
		result.LateCancelCount = driver.LateCancelCount

		if driver.LateCancelCount >= model.AutoDeactivateLimit && driver.IsActive {
			if err := tx.Model(&model.Driver{}).
				Where("id = ?", driver.ID).
				Updates(map[string]interface{}{
					"is_active":      false,
					"deactivated_at": params.Now,
				}).Error; err != nil {
				return err
			}
			result.AutoDeactivated = true
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
