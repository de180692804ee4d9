// Package server exposes the dunning engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/collecta/internal/alert"
	alertdomain "github.com/smallbiznis/collecta/internal/alert/domain"
	"github.com/smallbiznis/collecta/internal/clock"
	"github.com/smallbiznis/collecta/internal/config"
	"github.com/smallbiznis/collecta/internal/dunning"
	dunningdomain "github.com/smallbiznis/collecta/internal/dunning/domain"
	"github.com/smallbiznis/collecta/internal/invoice"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	"github.com/smallbiznis/collecta/internal/observability"
	obslogger "github.com/smallbiznis/collecta/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/collecta/internal/observability/metrics"
	obstracing "github.com/smallbiznis/collecta/internal/observability/tracing"
	"github.com/smallbiznis/collecta/internal/organization"
	organizationdomain "github.com/smallbiznis/collecta/internal/organization/domain"
	"github.com/smallbiznis/collecta/internal/providers"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	providers.Module,
	organization.Module,
	invoice.Module,
	alert.Module,
	dunning.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	clock           clock.Clock
	dunningSvc      dunningdomain.Service
	invoiceSvc      invoicedomain.Service
	organizationSvc organizationdomain.Service
	alertSvc        alertdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	Clock           clock.Clock
	DunningSvc      dunningdomain.Service
	InvoiceSvc      invoicedomain.Service
	OrganizationSvc organizationdomain.Service
	AlertSvc        alertdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		clock:           p.Clock,
		dunningSvc:      p.DunningSvc,
		invoiceSvc:      p.InvoiceSvc,
		organizationSvc: p.OrganizationSvc,
		alertSvc:        p.AlertSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	orgs := api.Group("/organizations")
	{
		orgs.POST("", s.createOrganization)
		orgs.GET("", s.listOrganizations)
		orgs.GET("/:id", s.getOrganization)
	}

	tenant := api.Group("", s.OrgContext())
	{
		d := tenant.Group("/dunning")
		d.POST("/processes", s.createDunningProcess)
		d.GET("/processes", s.listDunningProcesses)
		d.GET("/processes/active", s.listActiveDunningProcesses)
		d.GET("/processes/:id", s.getDunningProcess)
		d.GET("/processes/:id/steps", s.listDunningSteps)
		d.POST("/processes/:id/execute", s.executeDunningStep)
		d.POST("/processes/:id/pause", s.pauseDunningProcess)
		d.POST("/processes/:id/resume", s.resumeDunningProcess)
		d.POST("/processes/:id/cancel", s.cancelDunningProcess)
		d.POST("/approvals/:id/approve", s.approveDunningStep)
		d.POST("/approvals/:id/reject", s.rejectDunningStep)

		tenant.GET("/alerts", s.listAlerts)
	}

	// Manual triggers for the cron jobs, handy for operations.
	jobs := api.Group("/dunning/jobs")
	{
		jobs.POST("/sweep", s.triggerSweep)
		jobs.POST("/overdue-scan", s.triggerOverdueScan)
		jobs.POST("/validate", s.triggerValidation)
		jobs.POST("/cleanup", s.triggerCleanup)
		jobs.POST("/reports", s.triggerReports)
	}
}
