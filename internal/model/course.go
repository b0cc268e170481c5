package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CourseStatus string

const (
	CourseStatusOpen      CourseStatus = "OPEN"
	CourseStatusReserved  CourseStatus = "RESERVED"
	CourseStatusAssigned  CourseStatus = "ASSIGNED"
	CourseStatusDone      CourseStatus = "DONE"
	CourseStatusCancelled CourseStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s CourseStatus) IsTerminal() bool {
	switch s {
	case CourseStatusDone, CourseStatusCancelled:
		return true
	default:
		return false
	}
}

type CancelActor string

const (
	CancelActorDriver CancelActor = "driver"
	CancelActorClient CancelActor = "client"
	CancelActorAdmin  CancelActor = "admin"
)

type Course struct {
	ID                 uuid.UUID    `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	ClientName         string       `gorm:"type:varchar(255);not null" json:"client_name"`
	ClientEmail        string       `gorm:"type:varchar(255)" json:"client_email"`
	ClientPhone        string       `gorm:"type:varchar(32)" json:"client_phone"`
	PickupAddress      string       `gorm:"type:text;not null" json:"pickup_address"`
	DropoffAddress     string       `gorm:"type:text;not null" json:"dropoff_address"`
	ScheduledAt        time.Time    `gorm:"not null;index" json:"scheduled_at"`
	DistanceKm         *float64     `json:"distance_km"`
	PriceTotal         float64      `gorm:"not null" json:"price_total"`
	Notes              string       `gorm:"type:text" json:"notes"`
	Status             CourseStatus `gorm:"type:course_status;not null;default:OPEN" json:"status"`
	ReservedByDriverID *uuid.UUID   `gorm:"type:uuid;index" json:"reserved_by_driver_id"`
	ReservedUntil      *time.Time   `json:"reserved_until"`
	AssignedDriverID   *uuid.UUID   `gorm:"type:uuid;index" json:"assigned_driver_id"`
	AssignedAt         *time.Time   `json:"assigned_at"`
	CommissionRate     float64      `gorm:"not null" json:"commission_rate"`
	CommissionAmount   float64      `gorm:"not null;default:0" json:"commission_amount"`
	CommissionPaid     bool         `gorm:"not null;default:false" json:"commission_paid"`
	CommissionPaidAt   *time.Time   `json:"commission_paid_at"`
	CancelledBy        *CancelActor `gorm:"type:varchar(16)" json:"cancelled_by,omitempty"`
	CancelledLate      bool         `gorm:"not null;default:false" json:"cancelled_late"`
	CancelReason       *string      `gorm:"type:text" json:"cancel_reason,omitempty"`
	IsTest             bool         `gorm:"not null;default:false" json:"is_test"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Course) TableName() string {
	return "courses"
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// LockExpired reports whether the reservation lock has lapsed at the given
// instant. Only meaningful while the course is RESERVED.
func (c *Course) LockExpired(now time.Time) bool {
	return c.Status == CourseStatusReserved && c.ReservedUntil != nil && now.After(*c.ReservedUntil)
}
