package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/collecta/internal/dunning/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateProcessWithSteps(ctx context.Context, process domain.DunningProcess, steps []domain.DunningStep) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&process).Error; err != nil {
			return err
		}
		if len(steps) == 0 {
			return nil
		}
		return tx.Create(&steps).Error
	})
}

func (r *repository) GetProcess(ctx context.Context, id snowflake.ID) (*domain.DunningProcess, error) {
	var p domain.DunningProcess
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *repository) GetOpenProcessByInvoice(ctx context.Context, invoiceID snowflake.ID) (*domain.DunningProcess, error) {
	var p domain.DunningProcess
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes
		 WHERE invoice_id = ? AND status IN (?, ?)
		 LIMIT 1`,
		invoiceID,
		domain.ProcessStatusActive,
		domain.ProcessStatusPaused,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *repository) ListProcessesByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.DunningProcess, error) {
	var processes []domain.DunningProcess
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes WHERE org_id = ? ORDER BY started_at DESC`,
		orgID,
	).Scan(&processes).Error
	if err != nil {
		return nil, err
	}
	return processes, nil
}

func (r *repository) ListActiveProcesses(ctx context.Context) ([]domain.DunningProcess, error) {
	var processes []domain.DunningProcess
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes WHERE status = ? ORDER BY next_action_at ASC`,
		domain.ProcessStatusActive,
	).Scan(&processes).Error
	if err != nil {
		return nil, err
	}
	return processes, nil
}

func (r *repository) ListDueProcesses(ctx context.Context, now time.Time, limit int) ([]domain.DunningProcess, error) {
	if limit <= 0 {
		limit = 50
	}
	var processes []domain.DunningProcess
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes
		 WHERE status = ? AND next_action_at IS NOT NULL AND next_action_at <= ?
		 ORDER BY next_action_at ASC, id ASC`+r.lockClause()+`
		 LIMIT ?`,
		domain.ProcessStatusActive,
		now,
		limit,
	).Scan(&processes).Error
	if err != nil {
		return nil, err
	}
	return processes, nil
}

// lockClause guards the batch claim against concurrent sweeps. SQLite has
// no row locks; its single-writer model covers the tests.
func (r *repository) lockClause() string {
	switch r.db.Dialector.Name() {
	case "postgres", "mysql":
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (r *repository) UpdateProcess(ctx context.Context, process *domain.DunningProcess) error {
	process.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Exec(
		`UPDATE dunning_processes
		 SET status = ?, current_step = ?, last_action_at = ?, next_action_at = ?,
		     completed_at = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		process.Status,
		process.CurrentStep,
		process.LastActionAt,
		process.NextActionAt,
		process.CompletedAt,
		process.Metadata,
		process.UpdatedAt,
		process.ID,
	).Error
}

func (r *repository) SetProcessStatus(ctx context.Context, id snowflake.ID, status domain.ProcessStatus, completedAt *time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE dunning_processes SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		status,
		completedAt,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) RecordProcessFailure(ctx context.Context, id snowflake.ID, reason string) error {
	p, err := r.GetProcess(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	p.Status = domain.ProcessStatusFailed
	p.CompletedAt = &now
	p.NextActionAt = nil
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["failure_reason"] = reason
	return r.UpdateProcess(ctx, p)
}

func (r *repository) ListSteps(ctx context.Context, processID snowflake.ID) ([]domain.DunningStep, error) {
	var steps []domain.DunningStep
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_steps WHERE process_id = ? ORDER BY step_number ASC`,
		processID,
	).Scan(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *repository) GetStep(ctx context.Context, id snowflake.ID) (*domain.DunningStep, error) {
	var step domain.DunningStep
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_steps WHERE id = ?`,
		id,
	).Scan(&step).Error
	if err != nil {
		return nil, err
	}
	if step.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &step, nil
}

func (r *repository) NextPendingStep(ctx context.Context, processID snowflake.ID) (*domain.DunningStep, error) {
	var step domain.DunningStep
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_steps
		 WHERE process_id = ? AND status = ?
		 ORDER BY step_number ASC
		 LIMIT 1`,
		processID,
		domain.StepStatusPending,
	).Scan(&step).Error
	if err != nil {
		return nil, err
	}
	if step.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &step, nil
}

func (r *repository) HasExecutingStep(ctx context.Context, processID snowflake.ID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM dunning_steps WHERE process_id = ? AND status = ?`,
		processID,
		domain.StepStatusExecuting,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ClaimStep moves a step PENDING -> EXECUTING under the optimistic version
// check. Zero rows affected means another sweep got there first.
func (r *repository) ClaimStep(ctx context.Context, stepID snowflake.ID, version int64) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE dunning_steps
		 SET status = ?, version = version + 1, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND version = ?`,
		domain.StepStatusExecuting,
		time.Now().UTC(),
		stepID,
		domain.StepStatusPending,
		version,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FinishStep(ctx context.Context, step *domain.DunningStep) error {
	step.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Exec(
		`UPDATE dunning_steps
		 SET status = ?, executed_at = ?, result_success = ?, result_message = ?,
		     result_next_retry_at = ?, result_metadata = ?, updated_at = ?
		 WHERE id = ?`,
		step.Status,
		step.ExecutedAt,
		step.ResultSuccess,
		step.ResultMessage,
		step.ResultNextRetryAt,
		step.ResultMetadata,
		step.UpdatedAt,
		step.ID,
	).Error
}

// ReleaseStepForRetry returns a failed execution to PENDING at the given
// retry time, keeping the failure result visible.
func (r *repository) ReleaseStepForRetry(ctx context.Context, step *domain.DunningStep, retryAt time.Time) error {
	step.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Exec(
		`UPDATE dunning_steps
		 SET status = ?, scheduled_at = ?, executed_at = ?, result_success = ?,
		     result_message = ?, result_next_retry_at = ?, updated_at = ?
		 WHERE id = ?`,
		domain.StepStatusPending,
		retryAt,
		step.ExecutedAt,
		step.ResultSuccess,
		step.ResultMessage,
		step.ResultNextRetryAt,
		step.UpdatedAt,
		step.ID,
	).Error
}

func (r *repository) SkipPendingSteps(ctx context.Context, processID snowflake.ID) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE dunning_steps SET status = ?, updated_at = ? WHERE process_id = ? AND status = ?`,
		domain.StepStatusSkipped,
		time.Now().UTC(),
		processID,
		domain.StepStatusPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) ListStalledSteps(ctx context.Context, cutoff time.Time, limit int) ([]domain.DunningStep, error) {
	if limit <= 0 {
		limit = 100
	}
	var steps []domain.DunningStep
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_steps
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StepStatusExecuting,
		cutoff,
		limit,
	).Scan(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *repository) ListOrphanSteps(ctx context.Context, limit int) ([]domain.DunningStep, error) {
	if limit <= 0 {
		limit = 100
	}
	var steps []domain.DunningStep
	err := r.db.WithContext(ctx).Raw(
		`SELECT s.* FROM dunning_steps s
		 WHERE NOT EXISTS (SELECT 1 FROM dunning_processes p WHERE p.id = s.process_id)
		 LIMIT ?`,
		limit,
	).Scan(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *repository) DeleteStep(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`DELETE FROM dunning_steps WHERE id = ?`,
		id,
	).Error
}

func (r *repository) CreateApproval(ctx context.Context, approval domain.DunningApproval) error {
	return r.db.WithContext(ctx).Create(&approval).Error
}

func (r *repository) GetApproval(ctx context.Context, id snowflake.ID) (*domain.DunningApproval, error) {
	var a domain.DunningApproval
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_approvals WHERE id = ?`,
		id,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &a, nil
}

func (r *repository) GetPendingApprovalByStep(ctx context.Context, stepID snowflake.ID) (*domain.DunningApproval, error) {
	var a domain.DunningApproval
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_approvals WHERE step_id = ? AND status = ? LIMIT 1`,
		stepID,
		domain.ApprovalStatusPending,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &a, nil
}

func (r *repository) ListPendingApprovals(ctx context.Context, notifiedBefore time.Time, limit int) ([]domain.DunningApproval, error) {
	if limit <= 0 {
		limit = 100
	}
	var approvals []domain.DunningApproval
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_approvals
		 WHERE status = ?
		   AND (last_notified_at IS NULL OR last_notified_at < ?)
		   AND requested_at < ?
		 ORDER BY requested_at ASC
		 LIMIT ?`,
		domain.ApprovalStatusPending,
		notifiedBefore,
		notifiedBefore,
		limit,
	).Scan(&approvals).Error
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

func (r *repository) UpdateApproval(ctx context.Context, approval *domain.DunningApproval) error {
	approval.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Exec(
		`UPDATE dunning_approvals
		 SET status = ?, last_notified_at = ?, decided_at = ?, decided_by = ?, note = ?, updated_at = ?
		 WHERE id = ?`,
		approval.Status,
		approval.LastNotifiedAt,
		approval.DecidedAt,
		approval.DecidedBy,
		approval.Note,
		approval.UpdatedAt,
		approval.ID,
	).Error
}

func (r *repository) VoidPendingApprovals(ctx context.Context, processID snowflake.ID, note string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Exec(
		`UPDATE dunning_approvals
		 SET status = ?, decided_at = ?, decided_by = ?, note = ?, updated_at = ?
		 WHERE process_id = ? AND status = ?`,
		domain.ApprovalStatusRejected,
		now,
		"system",
		note,
		now,
		processID,
		domain.ApprovalStatusPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) ListProcessesWithMissingInvoice(ctx context.Context, limit int) ([]domain.DunningProcess, error) {
	if limit <= 0 {
		limit = 100
	}
	var processes []domain.DunningProcess
	err := r.db.WithContext(ctx).Raw(
		`SELECT p.* FROM dunning_processes p
		 WHERE p.status IN (?, ?)
		   AND NOT EXISTS (SELECT 1 FROM invoices i WHERE i.id = p.invoice_id)
		 LIMIT ?`,
		domain.ProcessStatusActive,
		domain.ProcessStatusPaused,
		limit,
	).Scan(&processes).Error
	if err != nil {
		return nil, err
	}
	return processes, nil
}

func (r *repository) CountProcesses(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM dunning_processes`,
	).Scan(&count).Error
	return count, err
}

func (r *repository) ListProcessesStartedBetween(ctx context.Context, start, end time.Time) ([]domain.DunningProcess, error) {
	var processes []domain.DunningProcess
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes
		 WHERE started_at >= ? AND started_at < ?
		 ORDER BY started_at ASC`,
		start,
		end,
	).Scan(&processes).Error
	if err != nil {
		return nil, err
	}
	return processes, nil
}

func (r *repository) UpsertReport(ctx context.Context, report domain.DunningReport) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE dunning_reports
			 SET period_end = ?, total_processes = ?, completed_count = ?, active_count = ?,
			     cancelled_count = ?, failed_count = ?, total_recovered = ?, total_written_off = ?
			 WHERE org_id = ? AND period_start = ?`,
			report.PeriodEnd,
			report.TotalProcesses,
			report.CompletedCount,
			report.ActiveCount,
			report.CancelledCount,
			report.FailedCount,
			report.TotalRecovered,
			report.TotalWrittenOff,
			report.OrgID,
			report.PeriodStart,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&report).Error
	})
}

func (r *repository) DeleteTerminalProcessesBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []snowflake.ID
		err := tx.Raw(
			`SELECT id FROM dunning_processes
			 WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
			 LIMIT ?`,
			domain.ProcessStatusCompleted,
			domain.ProcessStatusCancelled,
			domain.ProcessStatusFailed,
			cutoff,
			limit,
		).Scan(&ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Exec(`DELETE FROM dunning_approvals WHERE process_id IN (?)`, ids).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM dunning_steps WHERE process_id IN (?)`, ids).Error; err != nil {
			return err
		}
		res := tx.Exec(`DELETE FROM dunning_processes WHERE id IN (?)`, ids)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
