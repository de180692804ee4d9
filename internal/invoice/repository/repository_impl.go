package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/collecta/internal/invoice/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE id = ?`,
		id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &inv, nil
}

func (r *repository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM invoices
		 WHERE status = ? AND due_at IS NOT NULL AND due_at < ?
		 ORDER BY due_at ASC
		 LIMIT ?`,
		domain.InvoiceStatusOpen,
		now,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// MarkUncollectible performs the conditional write-off and reports whether
// a row actually moved. A zero rows-affected result means the invoice was
// not in the expected source state.
func (r *repository) MarkUncollectible(ctx context.Context, id snowflake.ID, from domain.InvoiceStatus, metadata datatypes.JSONMap, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, metadata = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.InvoiceStatusUncollectible,
		metadata,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
