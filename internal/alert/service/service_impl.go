package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/collecta/internal/alert/domain"
	obsmetrics "github.com/smallbiznis/collecta/internal/observability/metrics"
	"github.com/smallbiznis/collecta/internal/providers/email"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type service struct {
	db      *gorm.DB
	mailer  email.Provider
	metrics *obsmetrics.Metrics
	genID   *snowflake.Node
	log     *zap.Logger
}

func NewService(db *gorm.DB, mailer email.Provider, metrics *obsmetrics.Metrics, genID *snowflake.Node, log *zap.Logger) domain.Service {
	return &service{
		db:      db,
		mailer:  mailer,
		metrics: metrics,
		genID:   genID,
		log:     log.Named("alert.service"),
	}
}

func (s *service) CreateAlert(ctx context.Context, req domain.CreateAlertRequest) (*domain.Alert, error) {
	if req.Severity == "" {
		req.Severity = domain.SeverityInfo
	}

	meta := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	alert := domain.Alert{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Severity:  req.Severity,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&alert).Error; err != nil {
		return nil, fmt.Errorf("persist alert: %w", err)
	}

	s.metrics.RecordAlertSent(ctx, string(req.Type))
	s.log.Info("alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("org_id", req.OrgID.String()),
		zap.String("type", string(req.Type)),
		zap.String("severity", string(req.Severity)),
	)

	if req.Email != "" {
		// Delivery failures do not fail the alert; the record is the
		// source of truth.
		if err := s.mailer.Send(ctx, []string{req.Email}, req.Title, "<p>"+req.Message+"</p>"); err != nil {
			s.log.Warn("alert email delivery failed",
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err),
			)
		}
	}

	return &alert, nil
}

func (s *service) ListByOrg(ctx context.Context, orgID snowflake.ID, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var alerts []domain.Alert
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM alerts WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`,
		orgID,
		limit,
	).Scan(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}
