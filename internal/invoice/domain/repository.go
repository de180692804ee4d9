package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]Invoice, error)
	// MarkUncollectible performs the conditional write-off, recording the
	// write-off metadata in the same update. False means the invoice was
	// no longer in the expected source state.
	MarkUncollectible(ctx context.Context, id snowflake.ID, from InvoiceStatus, metadata datatypes.JSONMap, at time.Time) (bool, error)
}
