package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/collecta/internal/invoice/domain"
	"github.com/smallbiznis/collecta/internal/invoice/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupInvoiceTest(t *testing.T) (*gorm.DB, domain.Service, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE invoices (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		invoice_number TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		total_amount BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		issued_at TIMESTAMP,
		due_at TIMESTAMP,
		paid_at TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(repository.NewRepository(db), nil, zaptest.NewLogger(t))
	return db, svc, node
}

func seedInvoice(t *testing.T, db *gorm.DB, node *snowflake.Node, status domain.InvoiceStatus) *domain.Invoice {
	t.Helper()
	now := time.Now().UTC()
	due := now.Add(-10 * 24 * time.Hour)
	inv := domain.Invoice{
		ID:            node.Generate(),
		OrgID:         node.Generate(),
		InvoiceNumber: "INV-1001",
		Status:        status,
		TotalAmount:   9900,
		Currency:      "USD",
		DueAt:         &due,
		Metadata:      datatypes.JSONMap{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.Create(&inv).Error)
	return &inv
}

func TestWriteOffOpenInvoice(t *testing.T) {
	db, svc, node := setupInvoiceTest(t)
	ctx := context.Background()
	inv := seedInvoice(t, db, node, domain.InvoiceStatusOpen)

	require.NoError(t, svc.WriteOff(ctx, inv.ID, "dunning exhausted"))

	got, err := svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusUncollectible, got.Status)
	assert.Equal(t, "dunning exhausted", got.Metadata["write_off_reason"])
	writtenOffAt, ok := got.Metadata["written_off_at"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, writtenOffAt)
	assert.NoError(t, err)
}

func TestWriteOffIsIdempotent(t *testing.T) {
	db, svc, node := setupInvoiceTest(t)
	ctx := context.Background()
	inv := seedInvoice(t, db, node, domain.InvoiceStatusOpen)

	require.NoError(t, svc.WriteOff(ctx, inv.ID, "first"))
	require.NoError(t, svc.WriteOff(ctx, inv.ID, "second"))

	got, err := svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusUncollectible, got.Status)
	// The second call is a no-op; the original reason stands.
	assert.Equal(t, "first", got.Metadata["write_off_reason"])
}

func TestWriteOffSettledInvoice(t *testing.T) {
	db, svc, node := setupInvoiceTest(t)
	ctx := context.Background()
	inv := seedInvoice(t, db, node, domain.InvoiceStatusPaid)

	err := svc.WriteOff(ctx, inv.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvoiceSettled)
}

func TestWriteOffUnknownInvoice(t *testing.T) {
	_, svc, node := setupInvoiceTest(t)
	err := svc.WriteOff(context.Background(), node.Generate(), "missing")
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestListOverdueExcludesSettledAndFuture(t *testing.T) {
	db, svc, node := setupInvoiceTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := seedInvoice(t, db, node, domain.InvoiceStatusOpen)
	seedInvoice(t, db, node, domain.InvoiceStatusPaid)
	future := seedInvoice(t, db, node, domain.InvoiceStatusOpen)
	futureDue := now.Add(5 * 24 * time.Hour)
	require.NoError(t, db.Exec(
		`UPDATE invoices SET due_at = ? WHERE id = ?`, futureDue, future.ID,
	).Error)

	list, err := svc.ListOverdue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, overdue.ID, list[0].ID)
}
