// Package domain contains models for operational alerts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AlertType string

const (
	AlertTypePaymentReminder   AlertType = "payment_reminder"
	AlertTypeFinalNotice       AlertType = "final_notice"
	AlertTypeProcessStarted    AlertType = "process_started"
	AlertTypeSuspensionPending AlertType = "suspension_pending"
	AlertTypeWriteOffPending   AlertType = "write_off_pending"
	AlertTypeApprovalReminder  AlertType = "approval_reminder"
	AlertTypeConsistencyRepair AlertType = "consistency_repair"
	AlertTypeStepFailed        AlertType = "step_failed"
	AlertTypeReportReady       AlertType = "report_ready"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a persisted operational notification aimed at billing staff.
type Alert struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID      `gorm:"not null;index" json:"org_id"`
	Type      AlertType         `gorm:"type:text;not null" json:"type"`
	Title     string            `gorm:"type:text;not null" json:"title"`
	Message   string            `gorm:"type:text;not null" json:"message"`
	Severity  AlertSeverity     `gorm:"type:text;not null" json:"severity"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Alert) TableName() string { return "alerts" }
