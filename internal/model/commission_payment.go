package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
	// PaymentStatusRefundNeeded marks a payment that settled after the course
	// was taken by another driver. The money was collected but no assignment
	// happened; an administrator has to refund it manually.
	PaymentStatusRefundNeeded PaymentStatus = "refund_needed"
)

// CommissionPayment records one commission payment attempt. Rows are created
// when a driver starts checkout and mutated only by provider confirmations;
// they are never deleted.
type CommissionPayment struct {
	ID                uuid.UUID     `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	CourseID          uuid.UUID     `gorm:"type:uuid;not null;index" json:"course_id"`
	DriverID          uuid.UUID     `gorm:"type:uuid;not null;index" json:"driver_id"`
	Provider          string        `gorm:"type:varchar(32);not null;default:checkout" json:"provider"`
	ProviderSessionID string        `gorm:"type:varchar(255);uniqueIndex;not null" json:"provider_session_id"`
	ProviderPaymentID *string       `gorm:"type:varchar(255)" json:"provider_payment_id"`
	Amount            float64       `gorm:"not null" json:"amount"`
	Currency          string        `gorm:"type:varchar(8);not null;default:eur" json:"currency"`
	Status            PaymentStatus `gorm:"type:payment_status;not null;default:pending" json:"status"`
	IsTest            bool          `gorm:"not null;default:false" json:"is_test"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"created_at"`
	PaidAt            *time.Time    `json:"paid_at"`
}

func (CommissionPayment) TableName() string {
	return "commission_payments"
}

func (p *CommissionPayment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
