package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *model.CommissionPayment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.CommissionPayment, error) {
	var payment model.CommissionPayment
	err := r.db.WithContext(ctx).Where("provider_session_id = ?", sessionID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.CommissionPayment, error) {
	var payments []model.CommissionPayment
	err := r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByStatus(ctx context.Context, status model.PaymentStatus) ([]model.CommissionPayment, error) {
	var payments []model.CommissionPayment
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

// MarkPaid settles a pending payment. The expected-status condition makes
// duplicate provider confirmations harmless: the second one matches zero rows.
func (r *PaymentRepository) MarkPaid(ctx context.Context, sessionID, providerPaymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.CommissionPayment{}).
		Where("provider_session_id = ? AND status = ?", sessionID, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":              model.PaymentStatusPaid,
			"provider_payment_id": providerPaymentID,
			"paid_at":             at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, sessionID string, from, to model.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.CommissionPayment{}).
		Where("provider_session_id = ? AND status = ?", sessionID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
