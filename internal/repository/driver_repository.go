package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
)

type DriverRepository struct {
	db *gorm.DB
}

func NewDriverRepository(db *gorm.DB) *DriverRepository {
	return &DriverRepository{db: db}
}

func (r *DriverRepository) Create(ctx context.Context, driver *model.Driver) error {
	return r.db.WithContext(ctx).Create(driver).Error
}

func (r *DriverRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Driver, error) {
	var driver model.Driver
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&driver).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &driver, nil
}

func (r *DriverRepository) GetByEmail(ctx context.Context, email string) (*model.Driver, error) {
	var driver model.Driver
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&driver).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &driver, nil
}

func (r *DriverRepository) List(ctx context.Context) ([]model.Driver, error) {
	var drivers []model.Driver
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&drivers).Error
	return drivers, err
}

func (r *DriverRepository) UpdateProfile(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Driver{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *DriverRepository) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) (bool, error) {
	fields := map[string]interface{}{"is_active": active}
	if active {
		fields["deactivated_at"] = nil
	} else {
		fields["deactivated_at"] = at
	}

	res := r.db.WithContext(ctx).Model(&model.Driver{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *DriverRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Driver{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
