package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/collecta/internal/alert/domain"
	"github.com/smallbiznis/collecta/internal/dunning/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProcessDueActions is the main sweep: claim due ACTIVE processes in
// batches and advance each one step. A failure escaping one process's
// advance fails that process and the sweep carries on.
func (s *service) ProcessDueActions(ctx context.Context, batchSize int) (*domain.SweepStats, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.SweepBatchSize
	}
	stats := &domain.SweepStats{}
	var sweepErr error

	// Approval-gated processes stay due without advancing; remember them
	// so the batch loop terminates.
	seen := map[int64]struct{}{}

	for {
		if ctx.Err() != nil {
			return stats, errors.Join(sweepErr, ctx.Err())
		}

		due, err := s.repo.ListDueProcesses(ctx, s.clock.Now().UTC(), batchSize)
		if err != nil {
			return stats, errors.Join(sweepErr, err)
		}

		progressed := false
		for _, process := range due {
			if _, ok := seen[int64(process.ID)]; ok {
				continue
			}
			seen[int64(process.ID)] = struct{}{}
			progressed = true
			stats.Processed++

			result, err := s.ExecuteNextStep(ctx, process.ID)
			if err != nil {
				stats.Failed++
				s.log.Error("process advance failed, marking process FAILED",
					zap.String("process_id", process.ID.String()),
					zap.String("org_id", process.OrgID.String()),
					zap.Error(err),
				)
				if failErr := s.failProcess(ctx, process.ID, err.Error()); failErr != nil {
					sweepErr = errors.Join(sweepErr, failErr)
				}
				continue
			}
			if result.Success {
				stats.Advanced++
			}
		}

		if len(due) == 0 || !progressed {
			break
		}
	}

	return stats, sweepErr
}

func (s *service) failProcess(ctx context.Context, processID snowflake.ID, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.RecordProcessFailure(ctx, processID, reason); err != nil {
			return err
		}
		_, err := repo.VoidPendingApprovals(ctx, processID, "process failed")
		return err
	})
	if err != nil {
		return fmt.Errorf("fail process %s: %w", processID, err)
	}
	return nil
}

// CreateForOverdueInvoices is the sole entry point that turns an overdue
// invoice into a process, using the default template.
func (s *service) CreateForOverdueInvoices(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.SweepBatchSize
	}
	now := s.clock.Now().UTC()
	created := 0
	var jobErr error

	offsetGuard := map[int64]struct{}{}
	for {
		if ctx.Err() != nil {
			return created, errors.Join(jobErr, ctx.Err())
		}

		invoices, err := s.invoiceSvc.ListOverdue(ctx, now, batchSize)
		if err != nil {
			return created, errors.Join(jobErr, err)
		}

		progressed := false
		for _, inv := range invoices {
			if _, ok := offsetGuard[int64(inv.ID)]; ok {
				continue
			}
			offsetGuard[int64(inv.ID)] = struct{}{}
			progressed = true

			if _, err := s.repo.GetOpenProcessByInvoice(ctx, inv.ID); err == nil {
				continue
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				jobErr = errors.Join(jobErr, err)
				continue
			}

			_, err := s.Create(ctx, domain.CreateProcessRequest{
				OrgID:      inv.OrgID,
				InvoiceID:  inv.ID,
				TemplateID: domain.DefaultTemplateID,
				Source:     "overdue_scan",
			})
			if err != nil {
				if errors.Is(err, domain.ErrProcessExists) {
					continue
				}
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("overdue scan could not start collection",
					zap.String("invoice_id", inv.ID.String()),
					zap.Error(err),
				)
				continue
			}
			created++
		}

		if len(invoices) == 0 || !progressed {
			break
		}
	}

	return created, jobErr
}

// RecoverStalledSteps returns EXECUTING steps abandoned by a crashed run
// to the sweep. A step with retry budget left goes back to PENDING and is
// picked up on the next sweep; one past the budget fails for good and the
// process moves on.
func (s *service) RecoverStalledSteps(ctx context.Context, olderThan time.Duration, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.SweepBatchSize
	}
	now := s.clock.Now().UTC()
	cutoff := now.Add(-olderThan)

	steps, err := s.repo.ListStalledSteps(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	var jobErr error
	for i := range steps {
		step := steps[i]
		process, err := s.loadProcess(ctx, step.ProcessID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}

		exhausted := step.Attempts >= s.maxStepAttempts()
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			if exhausted {
				step.Status = domain.StepStatusFailed
				step.ExecutedAt = &now
				failed := false
				step.ResultSuccess = &failed
				step.ResultMessage = "execution stalled past the retry budget"
				step.ResultNextRetryAt = nil
				if err := repo.FinishStep(ctx, &step); err != nil {
					return err
				}
				if process.Status == domain.ProcessStatusActive {
					return s.advanceProcess(ctx, repo, process, &step, now)
				}
				return nil
			}

			retryAt := now
			step.ResultMessage = "execution stalled, returned to the sweep"
			step.ResultNextRetryAt = &retryAt
			if err := repo.ReleaseStepForRetry(ctx, &step, retryAt); err != nil {
				return err
			}
			if process.Status == domain.ProcessStatusActive {
				process.NextActionAt = &retryAt
				return repo.UpdateProcess(ctx, process)
			}
			return nil
		})
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}

		recovered++
		s.log.Warn("stalled step recovered",
			zap.String("process_id", step.ProcessID.String()),
			zap.Int("step_number", step.StepNumber),
			zap.Int("attempts", step.Attempts),
			zap.Bool("exhausted", exhausted),
		)
	}

	return recovered, jobErr
}

// NotifyPendingApprovals renotifies billing staff about approvals that
// have sat undecided past the threshold.
func (s *service) NotifyPendingApprovals(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.clock.Now().UTC()
	cutoff := now.Add(-olderThan)

	approvals, err := s.repo.ListPendingApprovals(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	notified := 0
	var jobErr error
	for _, approval := range approvals {
		process, err := s.loadProcess(ctx, approval.ProcessID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if process.Status.IsTerminal() {
			continue
		}
		step, err := s.repo.GetStep(ctx, approval.StepID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}

		if _, err := s.alertSvc.CreateAlert(ctx, alertdomain.CreateAlertRequest{
			OrgID:    approval.OrgID,
			Type:     alertdomain.AlertTypeApprovalReminder,
			Title:    fmt.Sprintf("Approval still pending: %s", step.Type),
			Message:  fmt.Sprintf("Step %d (%s) has been waiting for a decision since %s.", step.StepNumber, step.Type, approval.RequestedAt.Format(time.RFC3339)),
			Severity: alertdomain.SeverityWarning,
			Metadata: map[string]interface{}{
				"approval_id": approval.ID.String(),
				"process_id":  approval.ProcessID.String(),
			},
		}); err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}

		approval.LastNotifiedAt = &now
		if err := s.repo.UpdateApproval(ctx, &approval); err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		notified++
	}

	return notified, jobErr
}
