package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/collecta/internal/clock"
	dunningdomain "github.com/smallbiznis/collecta/internal/dunning/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerReportsDefaultsToPreviousCompleteMonth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Day 31 is the awkward case: naive day arithmetic lands mid-February.
	now := time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC)
	stub := &reportingServiceStub{}
	s := &Server{clock: clock.NewFakeClock(now), dunningSvc: stub}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/dunning/jobs/reports", nil)

	s.triggerReports(c)

	assert.Equal(t, http.StatusOK, w.Code)
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, stub.month.Equal(want), "expected %s, got %s", want, stub.month)
}

func TestTriggerReportsMonthOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)

	stub := &reportingServiceStub{}
	s := &Server{clock: clock.NewFakeClock(time.Date(2024, 3, 31, 6, 0, 0, 0, time.UTC)), dunningSvc: stub}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/dunning/jobs/reports?month=2023-11", nil)

	s.triggerReports(c)

	assert.Equal(t, http.StatusOK, w.Code)
	require.False(t, stub.month.IsZero())
	assert.Equal(t, 2023, stub.month.Year())
	assert.Equal(t, time.November, stub.month.Month())
}

// reportingServiceStub records the month passed to GenerateMonthlyReport.
type reportingServiceStub struct {
	month time.Time
}

func (s *reportingServiceStub) GenerateMonthlyReport(_ context.Context, month time.Time) (*dunningdomain.ReportSummary, error) {
	s.month = month
	return &dunningdomain.ReportSummary{}, nil
}

func (s *reportingServiceStub) Create(context.Context, dunningdomain.CreateProcessRequest) (*dunningdomain.DunningProcess, error) {
	return nil, nil
}
func (s *reportingServiceStub) GetByID(context.Context, snowflake.ID, snowflake.ID) (*dunningdomain.DunningProcess, error) {
	return nil, dunningdomain.ErrProcessNotFound
}
func (s *reportingServiceStub) ExecuteNextStep(context.Context, snowflake.ID) (*dunningdomain.StepResult, error) {
	return nil, nil
}
func (s *reportingServiceStub) Pause(context.Context, snowflake.ID, snowflake.ID, string) error {
	return nil
}
func (s *reportingServiceStub) Resume(context.Context, snowflake.ID, snowflake.ID) error { return nil }
func (s *reportingServiceStub) Cancel(context.Context, snowflake.ID, snowflake.ID, string) error {
	return nil
}
func (s *reportingServiceStub) ApproveStep(context.Context, snowflake.ID, snowflake.ID, string, string) (*dunningdomain.StepResult, error) {
	return nil, nil
}
func (s *reportingServiceStub) RejectStep(context.Context, snowflake.ID, snowflake.ID, string, string) error {
	return nil
}
func (s *reportingServiceStub) ListByOrg(context.Context, snowflake.ID) ([]dunningdomain.DunningProcess, error) {
	return nil, nil
}
func (s *reportingServiceStub) ListActive(context.Context) ([]dunningdomain.DunningProcess, error) {
	return nil, nil
}
func (s *reportingServiceStub) ListSteps(context.Context, snowflake.ID, snowflake.ID) ([]dunningdomain.DunningStep, error) {
	return nil, nil
}
func (s *reportingServiceStub) ProcessDueActions(context.Context, int) (*dunningdomain.SweepStats, error) {
	return &dunningdomain.SweepStats{}, nil
}
func (s *reportingServiceStub) CreateForOverdueInvoices(context.Context, int) (int, error) {
	return 0, nil
}
func (s *reportingServiceStub) RecoverStalledSteps(context.Context, time.Duration, int) (int, error) {
	return 0, nil
}
func (s *reportingServiceStub) NotifyPendingApprovals(context.Context, time.Duration) (int, error) {
	return 0, nil
}
func (s *reportingServiceStub) ValidateData(context.Context) (*dunningdomain.ValidationReport, error) {
	return &dunningdomain.ValidationReport{}, nil
}
func (s *reportingServiceStub) CleanupOld(context.Context, int) (int, error) { return 0, nil }
