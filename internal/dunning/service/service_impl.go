// Package service implements the dunning orchestrator: process creation,
// step sequencing, the approval gate, and the background jobs driven by
// the scheduler.
package service

import (
	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/collecta/internal/alert/domain"
	"github.com/smallbiznis/collecta/internal/clock"
	"github.com/smallbiznis/collecta/internal/config"
	"github.com/smallbiznis/collecta/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/collecta/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/collecta/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	InvoiceSvc invoicedomain.Service
	OrgSvc     orgdomain.Service
	AlertSvc   alertdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	invoiceSvc invoicedomain.Service
	orgSvc     orgdomain.Service
	alertSvc   alertdomain.Service
	metrics    *obsmetrics.Metrics
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.DunningConfig

	handlers map[domain.StepType]actionHandler
}

func NewService(p Params) domain.Service {
	s := &service{
		db:         p.DB,
		log:        p.Log.Named("dunning.service").With(zap.String("component", "dunning")),
		repo:       p.Repo,
		invoiceSvc: p.InvoiceSvc,
		orgSvc:     p.OrgSvc,
		alertSvc:   p.AlertSvc,
		metrics:    p.Metrics,
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config.Dunning,
	}
	s.handlers = s.buildHandlerTable()
	return s
}

func (s *service) jobMetrics() *obsmetrics.JobMetrics {
	return obsmetrics.Jobs()
}
