// Package domain contains persistence models and service contracts for the
// dunning engine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessStatus represents the lifecycle of a dunning process.
type ProcessStatus string

const (
	ProcessStatusActive    ProcessStatus = "ACTIVE"
	ProcessStatusPaused    ProcessStatus = "PAUSED"
	ProcessStatusCompleted ProcessStatus = "COMPLETED"
	ProcessStatusCancelled ProcessStatus = "CANCELLED"
	ProcessStatusFailed    ProcessStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change except via
// cleanup deletion.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case ProcessStatusCompleted, ProcessStatusCancelled, ProcessStatusFailed:
		return true
	}
	return false
}

// StepStatus represents the lifecycle of a single escalation step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusExecuting StepStatus = "EXECUTING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// StepType enumerates the escalation actions.
type StepType string

const (
	StepTypeEmailReminder    StepType = "EMAIL_REMINDER"
	StepTypeSMSReminder      StepType = "SMS_REMINDER"
	StepTypePhoneCall        StepType = "PHONE_CALL"
	StepTypeFinalNotice      StepType = "FINAL_NOTICE"
	StepTypeSuspendService   StepType = "SUSPEND_SERVICE"
	StepTypeCollectionAgency StepType = "COLLECTION_AGENCY"
	StepTypeWriteOff         StepType = "WRITE_OFF"
)

// EscalationLevel tags a step's severity. Informational for reporting.
type EscalationLevel string

const (
	EscalationLow      EscalationLevel = "low"
	EscalationMedium   EscalationLevel = "medium"
	EscalationHigh     EscalationLevel = "high"
	EscalationCritical EscalationLevel = "critical"
)

// ApprovalStatus represents the state of a manual-approval record.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// DunningProcess tracks one invoice's run through an escalation template.
// CurrentStep counts completed steps; NextActionAt mirrors the scheduled
// time of the next PENDING step while the process is ACTIVE.
type DunningProcess struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID      `gorm:"not null;index" json:"org_id"`
	InvoiceID    snowflake.ID      `gorm:"not null" json:"invoice_id"`
	Status       ProcessStatus     `gorm:"type:text;not null;default:'ACTIVE'" json:"status"`
	CurrentStep  int               `gorm:"not null;default:0" json:"current_step"`
	TotalSteps   int               `gorm:"not null" json:"total_steps"`
	StartedAt    time.Time         `gorm:"not null" json:"started_at"`
	LastActionAt *time.Time        `gorm:"" json:"last_action_at,omitempty"`
	NextActionAt *time.Time        `gorm:"" json:"next_action_at,omitempty"`
	CompletedAt  *time.Time        `gorm:"" json:"completed_at,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (DunningProcess) TableName() string { return "dunning_processes" }

// DunningStep is one scheduled escalation action within a process. Version
// is an optimistic concurrency token guarding the PENDING -> EXECUTING
// claim.
type DunningStep struct {
	ID                     snowflake.ID      `gorm:"primaryKey" json:"id"`
	ProcessID              snowflake.ID      `gorm:"not null;index" json:"process_id"`
	StepNumber             int               `gorm:"not null" json:"step_number"`
	Type                   StepType          `gorm:"type:text;not null" json:"type"`
	Status                 StepStatus        `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	Version                int64             `gorm:"not null;default:0" json:"version"`
	Attempts               int               `gorm:"not null;default:0" json:"attempts"`
	ScheduledAt            time.Time         `gorm:"not null" json:"scheduled_at"`
	ExecutedAt             *time.Time        `gorm:"" json:"executed_at,omitempty"`
	DelayDays              int               `gorm:"not null" json:"delay_days"`
	Template               string            `gorm:"type:text" json:"template,omitempty"`
	EscalationLevel        EscalationLevel   `gorm:"type:text;not null;default:'low'" json:"escalation_level"`
	RequiresManualApproval bool              `gorm:"not null;default:false" json:"requires_manual_approval"`
	ResultSuccess          *bool             `gorm:"" json:"result_success,omitempty"`
	ResultMessage          string            `gorm:"type:text" json:"result_message,omitempty"`
	ResultNextRetryAt      *time.Time        `gorm:"" json:"result_next_retry_at,omitempty"`
	ResultMetadata         datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"result_metadata"`
	CreatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (DunningStep) TableName() string { return "dunning_steps" }

// DunningApproval records a manual decision for an approval-gated step.
type DunningApproval struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID   `gorm:"not null;index" json:"org_id"`
	ProcessID      snowflake.ID   `gorm:"not null;index" json:"process_id"`
	StepID         snowflake.ID   `gorm:"not null" json:"step_id"`
	Status         ApprovalStatus `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	RequestedAt    time.Time      `gorm:"not null" json:"requested_at"`
	LastNotifiedAt *time.Time     `gorm:"" json:"last_notified_at,omitempty"`
	DecidedAt      *time.Time     `gorm:"" json:"decided_at,omitempty"`
	DecidedBy      string         `gorm:"type:text" json:"decided_by,omitempty"`
	Note           string         `gorm:"type:text" json:"note,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (DunningApproval) TableName() string { return "dunning_approvals" }

// DunningReport is a stored monthly rollup of process outcomes.
type DunningReport struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID `gorm:"not null;default:0" json:"org_id"`
	PeriodStart     time.Time    `gorm:"not null" json:"period_start"`
	PeriodEnd       time.Time    `gorm:"not null" json:"period_end"`
	TotalProcesses  int          `gorm:"not null" json:"total_processes"`
	CompletedCount  int          `gorm:"not null" json:"completed_count"`
	ActiveCount     int          `gorm:"not null" json:"active_count"`
	CancelledCount  int          `gorm:"not null" json:"cancelled_count"`
	FailedCount     int          `gorm:"not null" json:"failed_count"`
	TotalRecovered  int64        `gorm:"not null" json:"total_recovered"`
	TotalWrittenOff int64        `gorm:"not null" json:"total_written_off"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (DunningReport) TableName() string { return "dunning_reports" }
