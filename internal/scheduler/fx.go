package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/collecta/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Start),
)

// ProvideConfig maps application config onto scheduler knobs.
func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.BatchSize = cfg.Dunning.SweepBatchSize
	c.CronEnabled = strings.EqualFold(cfg.Environment, "production")
	return c
}

// Start runs the scheduler for the process lifetime. Production uses cron
// cadences; elsewhere the interval loop keeps feedback fast.
func Start(lc fx.Lifecycle, sched *Scheduler, log *zap.Logger) error {
	if sched.cfg.CronEnabled {
		return startCron(lc, sched, log)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
	return nil
}

func startCron(lc fx.Lifecycle, sched *Scheduler, log *zap.Logger) error {
	c := cron.New()

	entries := []struct {
		Name string
		Spec string
		Run  func(context.Context) error
	}{
		{"recovery", sched.cfg.RecoverySpec, sched.RecoverySweepJob},
		{"overdue_scan", sched.cfg.OverdueSpec, sched.OverdueScanJob},
		{"dunning_sweep", sched.cfg.SweepSpec, sched.DunningSweepJob},
		{"approval_reminders", sched.cfg.ApprovalSpec, sched.ApprovalRemindersJob},
		{"data_validation", sched.cfg.ValidateSpec, sched.DataValidationJob},
		{"cleanup", sched.cfg.CleanupSpec, sched.CleanupJob},
		{"reports", sched.cfg.ReportSpec, sched.ReportsJob},
	}

	for _, entry := range entries {
		if !sched.isJobEnabled(entry.Name) {
			continue
		}
		name, run, spec := entry.Name, entry.Run, entry.Spec
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if err := sched.runJob(ctx, name, sched.cfg.BatchSize, sched.cfg.SweepTimeout, run); err != nil {
				log.Warn("cron job failed", zap.String("job", name), zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			c.Stop()
			return nil
		},
	})
	return nil
}
