package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]Invoice, error)
	// WriteOff marks the invoice uncollectible. It is idempotent: an
	// invoice already written off is left untouched and no error is
	// returned.
	WriteOff(ctx context.Context, id snowflake.ID, reason string) error
}

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvoiceSettled  = errors.New("invoice_settled")
)
