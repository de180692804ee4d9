package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/collecta/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/collecta/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type service struct {
	repo    domain.Repository
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

func NewService(repo domain.Repository, metrics *obsmetrics.Metrics, log *zap.Logger) domain.Service {
	return &service{
		repo:    repo,
		metrics: metrics,
		log:     log.Named("invoice.service"),
	}
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (s *service) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Invoice, error) {
	return s.repo.ListOverdue(ctx, now, limit)
}

func (s *service) WriteOff(ctx context.Context, id snowflake.ID, reason string) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ErrInvoiceNotFound
		}
		return err
	}

	if inv.Status == domain.InvoiceStatusUncollectible {
		// Already written off, nothing to do.
		return nil
	}
	if inv.IsSettled() {
		return domain.ErrInvoiceSettled
	}

	now := time.Now().UTC()
	meta := datatypes.JSONMap{}
	for k, v := range inv.Metadata {
		meta[k] = v
	}
	meta["written_off_at"] = now.Format(time.RFC3339)
	meta["write_off_reason"] = reason

	moved, err := s.repo.MarkUncollectible(ctx, id, inv.Status, meta, now)
	if err != nil {
		return err
	}
	if !moved {
		// Lost the race to a concurrent transition. Re-read and treat a
		// concurrent write-off as success.
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == domain.InvoiceStatusUncollectible {
			return nil
		}
		return domain.ErrInvoiceSettled
	}

	s.metrics.RecordInvoiceWriteOff(ctx, inv.OrgID.String(), reason)
	s.log.Warn("invoice written off",
		zap.String("invoice_id", id.String()),
		zap.String("org_id", inv.OrgID.String()),
		zap.String("reason", reason),
	)
	return nil
}
