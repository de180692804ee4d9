// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusOpen          InvoiceStatus = "OPEN"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
	InvoiceStatusUncollectible InvoiceStatus = "UNCOLLECTIBLE"
)

// Invoice represents a receivable issued to an organization's customer.
type Invoice struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	OrgID         snowflake.ID      `gorm:"not null;index"`
	InvoiceNumber string            `gorm:"type:text;not null"`
	Status        InvoiceStatus     `gorm:"type:text;not null;default:'DRAFT'"`
	TotalAmount   int64             `gorm:"not null;default:0"`
	Currency      string            `gorm:"type:text;not null"`
	IssuedAt      *time.Time        `gorm:""`
	DueAt         *time.Time        `gorm:""`
	PaidAt        *time.Time        `gorm:""`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// IsSettled reports whether the invoice no longer carries a collectible
// balance.
func (i Invoice) IsSettled() bool {
	switch i.Status {
	case InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return true
	}
	return false
}

// Overdue reports whether the invoice is open past its due date.
func (i Invoice) Overdue(now time.Time) bool {
	if i.Status != InvoiceStatusOpen || i.DueAt == nil {
		return false
	}
	return i.DueAt.Before(now)
}
