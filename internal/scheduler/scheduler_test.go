package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/collecta/internal/clock"
	dunningdomain "github.com/smallbiznis/collecta/internal/dunning/domain"
	obsmetrics "github.com/smallbiznis/collecta/internal/observability/metrics"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetJobMetricsForTest()
	obsmetrics.JobsWithConfig(obsmetrics.Config{
		ServiceName: "collecta",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), cfg: DefaultConfig()}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "collecta",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "collecta_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "collecta",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "collecta_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceRunsOnlyEnabledJobs(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetJobMetricsForTest()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fake := &fakeDunningService{}
	now := time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC)

	s := &Scheduler{
		log:        zap.NewNop(),
		genID:      node,
		clock:      clock.NewFakeClock(now),
		dunningSvc: fake,
		cfg: Config{
			EnabledJobs: []string{"dunning_sweep", "reports"},
		}.withDefaults(),
	}

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if fake.sweeps != 1 {
		t.Fatalf("expected 1 sweep, got %d", fake.sweeps)
	}
	if fake.reports != 1 {
		t.Fatalf("expected 1 report run, got %d", fake.reports)
	}
	if fake.overdueScans != 0 || fake.validations != 0 || fake.cleanups != 0 || fake.notifications != 0 || fake.recoveries != 0 {
		t.Fatalf("disabled jobs ran: %+v", fake)
	}

	// Reports always cover the previous complete month, even from day 31.
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !fake.reportMonth.Equal(want) {
		t.Fatalf("expected report month %s, got %s", want, fake.reportMonth)
	}
}

func TestIsJobEnabledEmptyListMeansAll(t *testing.T) {
	s := &Scheduler{cfg: Config{}.withDefaults()}
	if !s.isJobEnabled("dunning_sweep") {
		t.Fatal("empty enabled list must enable every job")
	}

	s.cfg.EnabledJobs = []string{"Cleanup"}
	if !s.isJobEnabled("cleanup") {
		t.Fatal("job matching should be case insensitive")
	}
	if s.isJobEnabled("dunning_sweep") {
		t.Fatal("jobs outside the list must be disabled")
	}
}

// fakeDunningService records which scheduler entry points ran.
type fakeDunningService struct {
	sweeps        int
	recoveries    int
	overdueScans  int
	notifications int
	validations   int
	cleanups      int
	reports       int
	reportMonth   time.Time
}

func (f *fakeDunningService) Create(context.Context, dunningdomain.CreateProcessRequest) (*dunningdomain.DunningProcess, error) {
	return nil, nil
}
func (f *fakeDunningService) GetByID(context.Context, snowflake.ID, snowflake.ID) (*dunningdomain.DunningProcess, error) {
	return nil, dunningdomain.ErrProcessNotFound
}
func (f *fakeDunningService) ExecuteNextStep(context.Context, snowflake.ID) (*dunningdomain.StepResult, error) {
	return nil, nil
}
func (f *fakeDunningService) Pause(context.Context, snowflake.ID, snowflake.ID, string) error {
	return nil
}
func (f *fakeDunningService) Resume(context.Context, snowflake.ID, snowflake.ID) error { return nil }
func (f *fakeDunningService) Cancel(context.Context, snowflake.ID, snowflake.ID, string) error {
	return nil
}
func (f *fakeDunningService) ApproveStep(context.Context, snowflake.ID, snowflake.ID, string, string) (*dunningdomain.StepResult, error) {
	return nil, nil
}
func (f *fakeDunningService) RejectStep(context.Context, snowflake.ID, snowflake.ID, string, string) error {
	return nil
}
func (f *fakeDunningService) ListByOrg(context.Context, snowflake.ID) ([]dunningdomain.DunningProcess, error) {
	return nil, nil
}
func (f *fakeDunningService) ListActive(context.Context) ([]dunningdomain.DunningProcess, error) {
	return nil, nil
}
func (f *fakeDunningService) ListSteps(context.Context, snowflake.ID, snowflake.ID) ([]dunningdomain.DunningStep, error) {
	return nil, nil
}

func (f *fakeDunningService) ProcessDueActions(context.Context, int) (*dunningdomain.SweepStats, error) {
	f.sweeps++
	return &dunningdomain.SweepStats{}, nil
}

func (f *fakeDunningService) RecoverStalledSteps(context.Context, time.Duration, int) (int, error) {
	f.recoveries++
	return 0, nil
}

func (f *fakeDunningService) CreateForOverdueInvoices(context.Context, int) (int, error) {
	f.overdueScans++
	return 0, nil
}

func (f *fakeDunningService) NotifyPendingApprovals(context.Context, time.Duration) (int, error) {
	f.notifications++
	return 0, nil
}

func (f *fakeDunningService) ValidateData(context.Context) (*dunningdomain.ValidationReport, error) {
	f.validations++
	return &dunningdomain.ValidationReport{}, nil
}

func (f *fakeDunningService) GenerateMonthlyReport(_ context.Context, month time.Time) (*dunningdomain.ReportSummary, error) {
	f.reports++
	f.reportMonth = month
	return &dunningdomain.ReportSummary{}, nil
}

func (f *fakeDunningService) CleanupOld(context.Context, int) (int, error) {
	f.cleanups++
	return 0, nil
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetJobMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
