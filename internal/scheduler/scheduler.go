// Package scheduler drives the periodic dunning jobs: the daily sweep and
// overdue scan, approval reminders, weekly validation and cleanup, and the
// monthly report.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/collecta/internal/clock"
	dunningdomain "github.com/smallbiznis/collecta/internal/dunning/domain"
	obsmetrics "github.com/smallbiznis/collecta/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	DunningSvc dunningdomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	dunningSvc dunningdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.DunningSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		dunningSvc: p.DunningSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	jobMetrics := obsmetrics.Jobs()
	jobMetrics.IncJobRun(name)

	err := fn(ctx)
	jobMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft stop: the next run resumes where this one left
	// off.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		jobMetrics.IncJobTimeout(name)
	}
	jobMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		// Recovery runs first so released steps are swept in the same pass.
		{"recovery", s.isJobEnabled("recovery"), func(ctx context.Context) error {
			return s.runJob(ctx, "recovery", s.cfg.BatchSize, s.cfg.SweepTimeout, s.RecoverySweepJob)
		}},
		{"overdue_scan", s.isJobEnabled("overdue_scan"), func(ctx context.Context) error {
			return s.runJob(ctx, "overdue_scan", s.cfg.BatchSize, s.cfg.SweepTimeout, s.OverdueScanJob)
		}},
		{"dunning_sweep", s.isJobEnabled("dunning_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "dunning_sweep", s.cfg.BatchSize, s.cfg.SweepTimeout, s.DunningSweepJob)
		}},
		{"approval_reminders", s.isJobEnabled("approval_reminders"), func(ctx context.Context) error {
			return s.runJob(ctx, "approval_reminders", s.cfg.BatchSize, 30*time.Second, s.ApprovalRemindersJob)
		}},
		{"data_validation", s.isJobEnabled("data_validation"), func(ctx context.Context) error {
			return s.runJob(ctx, "data_validation", s.cfg.BatchSize, s.cfg.SweepTimeout, s.DataValidationJob)
		}},
		{"cleanup", s.isJobEnabled("cleanup"), func(ctx context.Context) error {
			return s.runJob(ctx, "cleanup", s.cfg.BatchSize, s.cfg.SweepTimeout, s.CleanupJob)
		}},
		{"reports", s.isJobEnabled("reports"), func(ctx context.Context) error {
			return s.runJob(ctx, "reports", 1, s.cfg.ReportTimeout, s.ReportsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	jobMetrics := obsmetrics.Jobs()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			jobMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means everything runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DunningSweepJob advances every due ACTIVE process one step.
func (s *Scheduler) DunningSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "dunning_sweep", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	stats, err := s.dunningSvc.ProcessDueActions(ctx, s.cfg.BatchSize)
	if stats != nil {
		run.AddProcessed(stats.Processed)
		obsmetrics.Jobs().AddBatchProcessed("dunning_sweep", stats.Processed)
		s.logger(ctx).Info("dunning sweep finished",
			zap.Int("processed", stats.Processed),
			zap.Int("advanced", stats.Advanced),
			zap.Int("failed", stats.Failed),
		)
	}
	if err != nil {
		s.logJobError(ctx, run, "scheduler.sweep.failed", "dunning_sweep", err)
	}
	return err
}

// RecoverySweepJob returns steps stuck EXECUTING past the threshold to the
// sweep. A run that dies between claiming a step and finishing it leaves the
// step wedged; without recovery the process never advances again.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "recovery", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	recovered, err := s.dunningSvc.RecoverStalledSteps(ctx, s.cfg.RecoveryThreshold, s.cfg.BatchSize)
	run.AddProcessed(recovered)
	obsmetrics.Jobs().AddBatchProcessed("recovery", recovered)
	if recovered > 0 {
		s.logger(ctx).Info("recovery sweep released stalled steps", zap.Int("recovered", recovered))
	}
	if err != nil {
		s.logJobError(ctx, run, "scheduler.recovery.failed", "recovery", err)
	}
	return err
}

// OverdueScanJob opens collection on overdue invoices that have none.
func (s *Scheduler) OverdueScanJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "overdue_scan", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	created, err := s.dunningSvc.CreateForOverdueInvoices(ctx, s.cfg.BatchSize)
	run.AddProcessed(created)
	obsmetrics.Jobs().AddBatchProcessed("overdue_scan", created)
	if created > 0 {
		s.logger(ctx).Info("overdue scan opened processes", zap.Int("created", created))
	}
	if err != nil {
		s.logJobError(ctx, run, "scheduler.overdue_scan.failed", "overdue_scan", err)
	}
	return err
}

func (s *Scheduler) ApprovalRemindersJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "approval_reminders", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	notified, err := s.dunningSvc.NotifyPendingApprovals(ctx, s.cfg.ApprovalAge)
	run.AddProcessed(notified)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.approval_reminders.failed", "approval_reminders", err)
	}
	return err
}

func (s *Scheduler) DataValidationJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "data_validation", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	report, err := s.dunningSvc.ValidateData(ctx)
	if report != nil {
		run.AddProcessed(report.ProcessesFailed + report.OrphanStepsPurged)
	}
	if err != nil {
		s.logJobError(ctx, run, "scheduler.validation.failed", "data_validation", err)
	}
	return err
}

func (s *Scheduler) CleanupJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "cleanup", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	deleted, err := s.dunningSvc.CleanupOld(ctx, s.cfg.BatchSize)
	run.AddProcessed(deleted)
	if err != nil {
		s.logJobError(ctx, run, "scheduler.cleanup.failed", "cleanup", err)
	}
	return err
}

// ReportsJob rolls up last month, so the first-of-month run reports on a
// complete period.
func (s *Scheduler) ReportsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "reports", 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now().UTC()
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	summary, err := s.dunningSvc.GenerateMonthlyReport(ctx, month)
	if summary != nil {
		run.AddProcessed(summary.TotalProcesses)
	}
	if err != nil {
		s.logJobError(ctx, run, "scheduler.reports.failed", "reports", err)
	}
	return err
}
