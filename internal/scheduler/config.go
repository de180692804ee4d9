package scheduler

import (
	"time"
)

// Config controls scheduler cadences and batch sizes.
type Config struct {
	// RunInterval drives the dev/monolith ticker loop.
	RunInterval time.Duration
	BatchSize   int

	// Cron specs used when cron mode is enabled.
	SweepSpec    string
	RecoverySpec string
	OverdueSpec  string
	ApprovalSpec string
	ValidateSpec string
	CleanupSpec  string
	ReportSpec   string
	CronEnabled  bool
	EnabledJobs  []string
	ApprovalAge  time.Duration
	// RecoveryThreshold is how long a step may sit EXECUTING before a
	// recovery sweep treats its run as dead.
	RecoveryThreshold time.Duration
	SweepTimeout      time.Duration
	ReportTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		SweepSpec:         "0 6 * * *",
		RecoverySpec:      "*/30 * * * *",
		OverdueSpec:       "30 5 * * *",
		ApprovalSpec:      "0 */4 * * *",
		ValidateSpec:      "0 3 * * 0",
		CleanupSpec:       "30 3 * * 0",
		ReportSpec:        "0 4 1 * *",
		ApprovalAge:       4 * time.Hour,
		RecoveryThreshold: 30 * time.Minute,
		SweepTimeout:      5 * time.Minute,
		ReportTimeout:     10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.SweepSpec == "" {
		c.SweepSpec = defaults.SweepSpec
	}
	if c.RecoverySpec == "" {
		c.RecoverySpec = defaults.RecoverySpec
	}
	if c.OverdueSpec == "" {
		c.OverdueSpec = defaults.OverdueSpec
	}
	if c.ApprovalSpec == "" {
		c.ApprovalSpec = defaults.ApprovalSpec
	}
	if c.ValidateSpec == "" {
		c.ValidateSpec = defaults.ValidateSpec
	}
	if c.CleanupSpec == "" {
		c.CleanupSpec = defaults.CleanupSpec
	}
	if c.ReportSpec == "" {
		c.ReportSpec = defaults.ReportSpec
	}
	if c.ApprovalAge <= 0 {
		c.ApprovalAge = defaults.ApprovalAge
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = defaults.ReportTimeout
	}
	return c
}
