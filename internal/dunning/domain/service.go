package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Error taxonomy. Not-found and access-denied conditions surface to the
// caller; action handler failures are captured in the step result instead.
// Invalid state transitions wrap ErrAccessDenied.
var (
	ErrProcessNotFound  = errors.New("process_not_found")
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrTemplateNotFound = errors.New("template_not_found")
	ErrApprovalNotFound = errors.New("approval_not_found")
	ErrAccessDenied     = errors.New("access_denied")

	ErrInvoiceNotOpen   = fmt.Errorf("%w: invoice_not_open", ErrAccessDenied)
	ErrProcessExists    = fmt.Errorf("%w: active_process_exists", ErrAccessDenied)
	ErrProcessNotActive = fmt.Errorf("%w: process_not_active", ErrAccessDenied)
	ErrProcessNotPaused = fmt.Errorf("%w: process_not_paused", ErrAccessDenied)
	ErrProcessTerminal  = fmt.Errorf("%w: process_terminal", ErrAccessDenied)
	ErrApprovalDecided  = fmt.Errorf("%w: approval_already_decided", ErrAccessDenied)

	ErrUnsupportedStepType = errors.New("unsupported_step_type")
	ErrInvalidSteps        = errors.New("invalid_steps")
)

// CreateProcessRequest starts collection on an invoice, from a named
// template or caller-supplied steps.
type CreateProcessRequest struct {
	OrgID      snowflake.ID `json:"org_id"`
	InvoiceID  snowflake.ID `json:"invoice_id"`
	TemplateID string       `json:"template_id,omitempty"`
	Steps      []StepSpec   `json:"steps,omitempty"`

	// Source tags where the process came from (api, overdue_scan).
	Source string `json:"-"`
}

// StepResult is the outcome of one ExecuteNextStep call.
type StepResult struct {
	Success     bool                   `json:"success"`
	Message     string                 `json:"message"`
	StepNumber  int                    `json:"step_number,omitempty"`
	StepType    StepType               `json:"step_type,omitempty"`
	ExecutedAt  time.Time              `json:"executed_at"`
	NextRetryAt *time.Time             `json:"next_retry_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationReport summarises one consistency validator run.
type ValidationReport struct {
	ProcessesChecked  int `json:"processes_checked"`
	ProcessesFailed   int `json:"processes_failed"`
	OrphanStepsFound  int `json:"orphan_steps_found"`
	OrphanStepsPurged int `json:"orphan_steps_purged"`
}

// ReportSummary is the return shape of the monthly rollup.
type ReportSummary struct {
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	TotalProcesses  int       `json:"total_processes"`
	CompletedCount  int       `json:"completed_count"`
	ActiveCount     int       `json:"active_count"`
	CancelledCount  int       `json:"cancelled_count"`
	FailedCount     int       `json:"failed_count"`
	TotalRecovered  int64     `json:"total_recovered"`
	TotalWrittenOff int64     `json:"total_written_off"`
}

// SweepStats summarises one due-process sweep.
type SweepStats struct {
	Processed int `json:"processed"`
	Advanced  int `json:"advanced"`
	Failed    int `json:"failed"`
}

// Service is the dunning orchestrator.
type Service interface {
	Create(ctx context.Context, req CreateProcessRequest) (*DunningProcess, error)
	GetByID(ctx context.Context, orgID, processID snowflake.ID) (*DunningProcess, error)
	ExecuteNextStep(ctx context.Context, processID snowflake.ID) (*StepResult, error)
	Pause(ctx context.Context, orgID, processID snowflake.ID, reason string) error
	Resume(ctx context.Context, orgID, processID snowflake.ID) error
	Cancel(ctx context.Context, orgID, processID snowflake.ID, reason string) error

	ApproveStep(ctx context.Context, orgID, approvalID snowflake.ID, decidedBy, note string) (*StepResult, error)
	RejectStep(ctx context.Context, orgID, approvalID snowflake.ID, decidedBy, note string) error

	ListByOrg(ctx context.Context, orgID snowflake.ID) ([]DunningProcess, error)
	ListActive(ctx context.Context) ([]DunningProcess, error)
	ListSteps(ctx context.Context, orgID, processID snowflake.ID) ([]DunningStep, error)

	// Scheduler entry points.
	ProcessDueActions(ctx context.Context, batchSize int) (*SweepStats, error)
	CreateForOverdueInvoices(ctx context.Context, batchSize int) (int, error)
	NotifyPendingApprovals(ctx context.Context, olderThan time.Duration) (int, error)
	RecoverStalledSteps(ctx context.Context, olderThan time.Duration, batchSize int) (int, error)
	ValidateData(ctx context.Context) (*ValidationReport, error)
	GenerateMonthlyReport(ctx context.Context, month time.Time) (*ReportSummary, error)
	CleanupOld(ctx context.Context, batchSize int) (int, error)
}
