package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the process store. Multi-record transitions run inside a
// gorm transaction supplied via WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateProcessWithSteps(ctx context.Context, process DunningProcess, steps []DunningStep) error
	GetProcess(ctx context.Context, id snowflake.ID) (*DunningProcess, error)
	GetOpenProcessByInvoice(ctx context.Context, invoiceID snowflake.ID) (*DunningProcess, error)
	ListProcessesByOrg(ctx context.Context, orgID snowflake.ID) ([]DunningProcess, error)
	ListActiveProcesses(ctx context.Context) ([]DunningProcess, error)
	// ListDueProcesses claims a batch of ACTIVE processes whose
	// next_action_at has passed, FOR UPDATE SKIP LOCKED.
	ListDueProcesses(ctx context.Context, now time.Time, limit int) ([]DunningProcess, error)
	UpdateProcess(ctx context.Context, process *DunningProcess) error
	SetProcessStatus(ctx context.Context, id snowflake.ID, status ProcessStatus, completedAt *time.Time) error
	RecordProcessFailure(ctx context.Context, id snowflake.ID, reason string) error

	ListSteps(ctx context.Context, processID snowflake.ID) ([]DunningStep, error)
	GetStep(ctx context.Context, id snowflake.ID) (*DunningStep, error)
	NextPendingStep(ctx context.Context, processID snowflake.ID) (*DunningStep, error)
	HasExecutingStep(ctx context.Context, processID snowflake.ID) (bool, error)
	// ClaimStep performs the conditional PENDING -> EXECUTING write. It
	// reports false when the step was concurrently claimed or is no
	// longer pending.
	ClaimStep(ctx context.Context, stepID snowflake.ID, version int64) (bool, error)
	FinishStep(ctx context.Context, step *DunningStep) error
	ReleaseStepForRetry(ctx context.Context, step *DunningStep, retryAt time.Time) error
	SkipPendingSteps(ctx context.Context, processID snowflake.ID) (int64, error)
	// ListStalledSteps finds EXECUTING steps untouched since the cutoff,
	// left behind by a run that died between claim and finish.
	ListStalledSteps(ctx context.Context, cutoff time.Time, limit int) ([]DunningStep, error)
	ListOrphanSteps(ctx context.Context, limit int) ([]DunningStep, error)
	DeleteStep(ctx context.Context, id snowflake.ID) error

	CreateApproval(ctx context.Context, approval DunningApproval) error
	GetApproval(ctx context.Context, id snowflake.ID) (*DunningApproval, error)
	GetPendingApprovalByStep(ctx context.Context, stepID snowflake.ID) (*DunningApproval, error)
	ListPendingApprovals(ctx context.Context, notifiedBefore time.Time, limit int) ([]DunningApproval, error)
	UpdateApproval(ctx context.Context, approval *DunningApproval) error
	// VoidPendingApprovals rejects open approvals when their process stops
	// being collectible (cancel, failure).
	VoidPendingApprovals(ctx context.Context, processID snowflake.ID, note string) (int64, error)

	ListProcessesWithMissingInvoice(ctx context.Context, limit int) ([]DunningProcess, error)
	CountProcesses(ctx context.Context) (int64, error)

	ListProcessesStartedBetween(ctx context.Context, start, end time.Time) ([]DunningProcess, error)
	UpsertReport(ctx context.Context, report DunningReport) error

	DeleteTerminalProcessesBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
