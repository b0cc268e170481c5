package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AutoDeactivateLimit is the number of late cancellations after which a driver
// account is deactivated. Only an administrator can reactivate it.
const AutoDeactivateLimit = 3

type Driver struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	Email             string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash      string     `gorm:"type:varchar(255);not null" json:"-"`
	CompanyName       string     `gorm:"type:varchar(255);not null" json:"company_name"`
	Name              string     `gorm:"type:varchar(255);not null" json:"name"`
	Phone             string     `gorm:"type:varchar(32);not null" json:"phone"`
	Address           string     `gorm:"type:text;not null" json:"address"`
	Siret             string     `gorm:"type:varchar(32);not null" json:"siret"`
	VatApplicable     bool       `gorm:"not null;default:false" json:"vat_applicable"`
	VatNumber         *string    `gorm:"type:varchar(32)" json:"vat_number"`
	InvoicePrefix     string     `gorm:"type:varchar(16);not null;default:DRI" json:"invoice_prefix"`
	InvoiceNextNumber int        `gorm:"not null;default:1" json:"invoice_next_number"`
	IsActive          bool       `gorm:"not null;default:false" json:"is_active"`
	LateCancelCount   int        `gorm:"not null;default:0" json:"late_cancel_count"`
	DeactivatedAt     *time.Time `json:"deactivated_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Driver) TableName() string {
	return "drivers"
}

func (d *Driver) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
