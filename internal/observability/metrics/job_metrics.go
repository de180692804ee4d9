package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobErrorTypeDeadlineExceeded = "deadline_exceeded"
	JobErrorTypeBusinessRule     = "business_rule"
	JobErrorTypeDB               = "db"
	JobErrorTypeUnknown          = "unknown"
)

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonNotFound         = "not_found"
	JobReasonUniqueViolation  = "unique_violation"
	JobReasonClaimConflict    = "claim_conflict"
	JobReasonUnknown          = "unknown"
)

// JobMetrics captures dunning scheduler health signals.
type JobMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	stepExecutions *prometheus.CounterVec
	claimConflicts *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registry.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton job metrics registry using config labels.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the job metrics singleton for tests.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func newJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "collecta"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &JobMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "collecta_scheduler_job_runs_total",
			Help:        "Scheduler job invocations.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "collecta_scheduler_job_duration_seconds",
			Help:        "Scheduler job wall time.",
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "collecta_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs cut off by their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "collecta_scheduler_job_errors_total",
			Help:        "Scheduler job errors by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "collecta_scheduler_batch_processed_total",
			Help:        "Items processed per job.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		stepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "collecta_dunning_step_executions_total",
			Help:        "Dunning step executions by action type and outcome.",
			ConstLabels: constLabels,
		}, []string{"step_type", "outcome"}),
		claimConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "collecta_dunning_step_claim_conflicts_total",
			Help:        "Step claims lost to a concurrent sweep.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "collecta_scheduler_run_loop_lag_seconds",
		Help:        "How far behind schedule the run loop started.",
		Buckets:     prometheus.ExponentialBuckets(0.1, 2, 10),
		ConstLabels: constLabels,
	})
	m.runLoopLag = runLoopLag

	for _, collector := range []prometheus.Collector{
		m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors,
		m.batchProcessed, m.stepExecutions, m.claimConflicts, runLoopLag,
	} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return m
}

func (m *JobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *JobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *JobMetrics) AddBatchProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *JobMetrics) IncStepExecution(stepType, outcome string) {
	if m == nil {
		return
	}
	m.stepExecutions.WithLabelValues(stepType, outcome).Inc()
}

func (m *JobMetrics) IncClaimConflict(job string) {
	if m == nil {
		return
	}
	m.claimConflicts.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ClassifyJobReason maps an error to a low-cardinality reason label.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound):
		return JobReasonNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return JobReasonUniqueViolation
	case strings.Contains(err.Error(), "duplicate key"),
		strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

// ClassifyErrorType buckets an error for structured logs.
func ClassifyErrorType(err error) string {
	switch {
	case err == nil:
		return JobErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobErrorTypeDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, gorm.ErrDuplicatedKey):
		return JobErrorTypeDB
	default:
		return JobErrorTypeBusinessRule
	}
}

// IsRetryable reports whether a sweep error is worth retrying next run.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return ClassifyJobReason(err) == JobReasonUniqueViolation
}
