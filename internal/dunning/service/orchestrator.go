package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/collecta/internal/alert/domain"
	"github.com/smallbiznis/collecta/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *service) Create(ctx context.Context, req domain.CreateProcessRequest) (*domain.DunningProcess, error) {
	if req.OrgID == 0 || req.InvoiceID == 0 {
		return nil, domain.ErrAccessDenied
	}

	inv, err := s.invoiceSvc.GetByID(ctx, req.InvoiceID)
	if err != nil {
		if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if inv.OrgID != req.OrgID {
		return nil, domain.ErrAccessDenied
	}
	if inv.Status != invoicedomain.InvoiceStatusOpen {
		return nil, domain.ErrInvoiceNotOpen
	}

	if _, err := s.repo.GetOpenProcessByInvoice(ctx, req.InvoiceID); err == nil {
		return nil, domain.ErrProcessExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	specs, templateID, err := s.resolveSteps(req)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	// The escalation clock anchors at the invoice due date. An invoice
	// picked up 8 days past due is already inside the day-7 tier, so the
	// first step comes due immediately instead of a week from discovery.
	anchor := now
	if inv.DueAt != nil && inv.DueAt.Before(now) {
		anchor = inv.DueAt.UTC()
	}
	process := domain.DunningProcess{
		ID:         s.genID.Generate(),
		OrgID:      req.OrgID,
		InvoiceID:  req.InvoiceID,
		Status:     domain.ProcessStatusActive,
		TotalSteps: len(specs),
		StartedAt:  now,
		Metadata: datatypes.JSONMap{
			"invoice_number": inv.InvoiceNumber,
			"invoice_amount": inv.TotalAmount,
			"currency":       inv.Currency,
			"template_id":    templateID,
			"source":         req.Source,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	steps := make([]domain.DunningStep, 0, len(specs))
	for i, spec := range specs {
		steps = append(steps, domain.DunningStep{
			ID:                     s.genID.Generate(),
			ProcessID:              process.ID,
			StepNumber:             i + 1,
			Type:                   spec.Type,
			Status:                 domain.StepStatusPending,
			ScheduledAt:            anchor.AddDate(0, 0, spec.DelayDays),
			DelayDays:              spec.DelayDays,
			Template:               spec.Template,
			EscalationLevel:        spec.EscalationLevel,
			RequiresManualApproval: spec.RequiresManualApproval,
			ResultMetadata:         datatypes.JSONMap{},
			CreatedAt:              now,
			UpdatedAt:              now,
		})
	}
	first := steps[0].ScheduledAt
	process.NextActionAt = &first

	if err := s.repo.CreateProcessWithSteps(ctx, process, steps); err != nil {
		return nil, fmt.Errorf("create dunning process: %w", err)
	}

	s.metrics.RecordProcessCreated(ctx, req.Source)
	s.log.Info("dunning process created",
		zap.String("process_id", process.ID.String()),
		zap.String("org_id", process.OrgID.String()),
		zap.String("invoice_id", process.InvoiceID.String()),
		zap.String("template_id", templateID),
		zap.Int("total_steps", process.TotalSteps),
		zap.String("source", req.Source),
	)

	// Fire-and-forget; the process stands on its own.
	if _, err := s.alertSvc.CreateAlert(ctx, alertdomain.CreateAlertRequest{
		OrgID:    process.OrgID,
		Type:     alertdomain.AlertTypeProcessStarted,
		Title:    fmt.Sprintf("Collection started for invoice %s", inv.InvoiceNumber),
		Message:  fmt.Sprintf("A %d-step dunning process now tracks invoice %s.", process.TotalSteps, inv.InvoiceNumber),
		Severity: alertdomain.SeverityInfo,
		Metadata: map[string]interface{}{
			"process_id": process.ID.String(),
			"invoice_id": process.InvoiceID.String(),
		},
	}); err != nil {
		s.log.Warn("process-start alert failed", zap.Error(err))
	}

	return &process, nil
}

func (s *service) resolveSteps(req domain.CreateProcessRequest) ([]domain.StepSpec, string, error) {
	if len(req.Steps) > 0 {
		if err := validateSteps(req.Steps); err != nil {
			return nil, "", err
		}
		return req.Steps, "custom", nil
	}
	tmpl, ok := domain.ResolveTemplate(req.TemplateID)
	if !ok {
		return nil, "", domain.ErrTemplateNotFound
	}
	return tmpl.Steps, tmpl.ID, nil
}

func validateSteps(specs []domain.StepSpec) error {
	lastDelay := -1
	for i, spec := range specs {
		if spec.Type == "" {
			return fmt.Errorf("%w: step %d missing type", domain.ErrInvalidSteps, i+1)
		}
		if spec.DelayDays <= lastDelay {
			return fmt.Errorf("%w: step %d delay must increase", domain.ErrInvalidSteps, i+1)
		}
		lastDelay = spec.DelayDays
	}
	return nil
}

func (s *service) GetByID(ctx context.Context, orgID, processID snowflake.ID) (*domain.DunningProcess, error) {
	process, err := s.loadProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if orgID != 0 && process.OrgID != orgID {
		return nil, domain.ErrAccessDenied
	}
	return process, nil
}

func (s *service) loadProcess(ctx context.Context, processID snowflake.ID) (*domain.DunningProcess, error) {
	process, err := s.repo.GetProcess(ctx, processID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProcessNotFound
		}
		return nil, err
	}
	return process, nil
}

// ExecuteNextStep advances an ACTIVE process by exactly one step. Approval
// gated steps are never run from here; they park the process until a
// decision lands via ApproveStep/RejectStep.
func (s *service) ExecuteNextStep(ctx context.Context, processID snowflake.ID) (*domain.StepResult, error) {
	process, err := s.loadProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if process.Status != domain.ProcessStatusActive {
		return nil, domain.ErrProcessNotActive
	}

	now := s.clock.Now().UTC()
	step, err := s.repo.NextPendingStep(ctx, processID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A step mid-flight on another sweep means the process is not
			// actually done.
			executing, eerr := s.repo.HasExecutingStep(ctx, processID)
			if eerr != nil {
				return nil, eerr
			}
			if executing {
				return &domain.StepResult{
					Success:    true,
					Message:    "a step is already being handled",
					ExecutedAt: now,
				}, nil
			}
			if err := s.completeProcess(ctx, process, now); err != nil {
				return nil, err
			}
			return &domain.StepResult{
				Success:    true,
				Message:    "all steps completed, process completed",
				ExecutedAt: now,
			}, nil
		}
		return nil, err
	}

	if step.RequiresManualApproval {
		if err := s.ensureApprovalRequested(ctx, process, step, now); err != nil {
			return nil, err
		}
		return &domain.StepResult{
			Success:    true,
			Message:    fmt.Sprintf("step %d awaiting manual approval", step.StepNumber),
			StepNumber: step.StepNumber,
			StepType:   step.Type,
			ExecutedAt: now,
		}, nil
	}

	return s.claimAndExecute(ctx, process, step)
}

// claimAndExecute performs the conditional PENDING -> EXECUTING claim and
// runs the action. A lost claim means a concurrent sweep owns the step; the
// advance is abandoned without error.
func (s *service) claimAndExecute(ctx context.Context, process *domain.DunningProcess, step *domain.DunningStep) (*domain.StepResult, error) {
	claimed, err := s.repo.ClaimStep(ctx, step.ID, step.Version)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if jm := s.jobMetrics(); jm != nil {
			jm.IncClaimConflict("execute_step")
		}
		s.log.Debug("step claim lost to concurrent run",
			zap.String("process_id", process.ID.String()),
			zap.Int("step_number", step.StepNumber),
		)
		return &domain.StepResult{
			Success:    true,
			Message:    fmt.Sprintf("step %d already being handled", step.StepNumber),
			StepNumber: step.StepNumber,
			StepType:   step.Type,
			ExecutedAt: s.clock.Now().UTC(),
		}, nil
	}
	step.Version++
	step.Attempts++
	step.Status = domain.StepStatusExecuting

	inv, err := s.invoiceSvc.GetByID(ctx, process.InvoiceID)
	if err != nil && !errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
		return nil, err
	}
	if inv == nil {
		// Validator territory; fail the execution, not the sweep.
		return s.finishExecution(ctx, process, step, executionResult{
			Success: false,
			Message: "invoice no longer exists",
		})
	}

	res, err := s.dispatch(ctx, actionContext{Process: process, Step: step, Invoice: inv})
	if err != nil {
		return nil, err
	}
	return s.finishExecution(ctx, process, step, res)
}

// finishExecution persists the executor outcome and advances the process.
// Failures feed the bounded retry policy: the step returns to PENDING at
// nextRetryAt until MaxStepAttempts is spent, then fails permanently and
// the process moves past it.
func (s *service) finishExecution(ctx context.Context, process *domain.DunningProcess, step *domain.DunningStep, res executionResult) (*domain.StepResult, error) {
	now := s.clock.Now().UTC()
	step.ExecutedAt = &now
	success := res.Success
	step.ResultSuccess = &success
	step.ResultMessage = res.Message
	step.ResultMetadata = datatypes.JSONMap{}
	for k, v := range res.Metadata {
		step.ResultMetadata[k] = v
	}

	outcome := "completed"
	var nextRetryAt *time.Time

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if res.Success {
			step.Status = domain.StepStatusCompleted
			step.ResultNextRetryAt = nil
			if err := repo.FinishStep(ctx, step); err != nil {
				return err
			}
			return s.advanceProcess(ctx, repo, process, step, now)
		}

		if step.Attempts < s.maxStepAttempts() {
			retryAt := now.Add(s.retryBackoff())
			step.ResultNextRetryAt = &retryAt
			nextRetryAt = &retryAt
			outcome = "retry_scheduled"
			if err := repo.ReleaseStepForRetry(ctx, step, retryAt); err != nil {
				return err
			}
			process.LastActionAt = &now
			process.NextActionAt = &retryAt
			return repo.UpdateProcess(ctx, process)
		}

		// Retries exhausted. The step fails for good and the process
		// moves on to the next tier.
		step.Status = domain.StepStatusFailed
		step.ResultNextRetryAt = nil
		outcome = "failed"
		if err := repo.FinishStep(ctx, step); err != nil {
			return err
		}
		return s.advanceProcess(ctx, repo, process, step, now)
	})
	if err != nil {
		return nil, fmt.Errorf("finish step %d: %w", step.StepNumber, err)
	}

	s.metrics.RecordStepExecuted(ctx, string(step.Type), outcome)
	if jm := s.jobMetrics(); jm != nil {
		jm.IncStepExecution(string(step.Type), outcome)
	}
	s.log.Info("dunning step executed",
		zap.String("process_id", process.ID.String()),
		zap.Int("step_number", step.StepNumber),
		zap.String("step_type", string(step.Type)),
		zap.String("outcome", outcome),
		zap.Int("attempts", step.Attempts),
		zap.String("message", res.Message),
	)

	return &domain.StepResult{
		Success:     res.Success,
		Message:     res.Message,
		StepNumber:  step.StepNumber,
		StepType:    step.Type,
		ExecutedAt:  now,
		NextRetryAt: nextRetryAt,
		Metadata:    res.Metadata,
	}, nil
}

// advanceProcess moves CurrentStep past a resolved step and re-derives
// NextActionAt from the next PENDING step, completing the process when
// none remain.
func (s *service) advanceProcess(ctx context.Context, repo domain.Repository, process *domain.DunningProcess, step *domain.DunningStep, now time.Time) error {
	process.CurrentStep = step.StepNumber
	process.LastActionAt = &now

	next, err := repo.NextPendingStep(ctx, process.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			process.Status = domain.ProcessStatusCompleted
			process.CompletedAt = &now
			process.NextActionAt = nil
			return repo.UpdateProcess(ctx, process)
		}
		return err
	}

	process.NextActionAt = &next.ScheduledAt
	return repo.UpdateProcess(ctx, process)
}

func (s *service) completeProcess(ctx context.Context, process *domain.DunningProcess, now time.Time) error {
	process.Status = domain.ProcessStatusCompleted
	process.CompletedAt = &now
	process.NextActionAt = nil
	process.LastActionAt = &now
	if err := s.repo.UpdateProcess(ctx, process); err != nil {
		return err
	}
	s.log.Info("dunning process completed",
		zap.String("process_id", process.ID.String()),
		zap.String("org_id", process.OrgID.String()),
	)
	return nil
}

// ensureApprovalRequested creates the pending approval record for a gated
// step once, alerting billing staff on first sight. The process itself is
// left untouched.
func (s *service) ensureApprovalRequested(ctx context.Context, process *domain.DunningProcess, step *domain.DunningStep, now time.Time) error {
	if _, err := s.repo.GetPendingApprovalByStep(ctx, step.ID); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	approval := domain.DunningApproval{
		ID:          s.genID.Generate(),
		OrgID:       process.OrgID,
		ProcessID:   process.ID,
		StepID:      step.ID,
		Status:      domain.ApprovalStatusPending,
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateApproval(ctx, approval); err != nil {
		return err
	}

	alertType := alertdomain.AlertTypeSuspensionPending
	if step.Type == domain.StepTypeWriteOff {
		alertType = alertdomain.AlertTypeWriteOffPending
	}
	if _, err := s.alertSvc.CreateAlert(ctx, alertdomain.CreateAlertRequest{
		OrgID:    process.OrgID,
		Type:     alertType,
		Title:    fmt.Sprintf("Manual approval required: %s", step.Type),
		Message:  fmt.Sprintf("Step %d (%s) of the dunning process for invoice %s needs a manual decision.", step.StepNumber, step.Type, process.InvoiceID),
		Severity: alertdomain.SeverityWarning,
		Metadata: map[string]interface{}{
			"approval_id": approval.ID.String(),
			"process_id":  process.ID.String(),
			"step_id":     step.ID.String(),
		},
	}); err != nil {
		s.log.Warn("approval-request alert failed", zap.Error(err))
	}

	s.log.Info("manual approval requested",
		zap.String("process_id", process.ID.String()),
		zap.String("approval_id", approval.ID.String()),
		zap.Int("step_number", step.StepNumber),
		zap.String("step_type", string(step.Type)),
	)
	return nil
}

func (s *service) Pause(ctx context.Context, orgID, processID snowflake.ID, reason string) error {
	process, err := s.GetByID(ctx, orgID, processID)
	if err != nil {
		return err
	}
	if process.Status != domain.ProcessStatusActive {
		return domain.ErrProcessNotActive
	}

	process.Status = domain.ProcessStatusPaused
	if process.Metadata == nil {
		process.Metadata = datatypes.JSONMap{}
	}
	if reason != "" {
		process.Metadata["pause_reason"] = reason
	}
	// NextActionAt stays as-is; resume re-derives it.
	if err := s.repo.UpdateProcess(ctx, process); err != nil {
		return err
	}
	s.log.Info("dunning process paused",
		zap.String("process_id", process.ID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (s *service) Resume(ctx context.Context, orgID, processID snowflake.ID) error {
	process, err := s.GetByID(ctx, orgID, processID)
	if err != nil {
		return err
	}
	if process.Status != domain.ProcessStatusPaused {
		return domain.ErrProcessNotPaused
	}

	now := s.clock.Now().UTC()
	next, err := s.repo.NextPendingStep(ctx, processID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing left to do; resuming lands straight in COMPLETED.
			process.Status = domain.ProcessStatusActive
			return s.completeProcess(ctx, process, now)
		}
		return err
	}

	process.Status = domain.ProcessStatusActive
	process.NextActionAt = &next.ScheduledAt
	delete(process.Metadata, "pause_reason")
	if err := s.repo.UpdateProcess(ctx, process); err != nil {
		return err
	}
	s.log.Info("dunning process resumed",
		zap.String("process_id", process.ID.String()),
		zap.Time("next_action_at", next.ScheduledAt),
	)
	return nil
}

func (s *service) Cancel(ctx context.Context, orgID, processID snowflake.ID, reason string) error {
	process, err := s.GetByID(ctx, orgID, processID)
	if err != nil {
		return err
	}
	if process.Status.IsTerminal() {
		return domain.ErrProcessTerminal
	}

	now := s.clock.Now().UTC()
	var skipped int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		skipped, err = repo.SkipPendingSteps(ctx, processID)
		if err != nil {
			return err
		}
		if _, err := repo.VoidPendingApprovals(ctx, processID, "process cancelled"); err != nil {
			return err
		}
		process.Status = domain.ProcessStatusCancelled
		process.CompletedAt = &now
		process.NextActionAt = nil
		if process.Metadata == nil {
			process.Metadata = datatypes.JSONMap{}
		}
		if reason != "" {
			process.Metadata["cancel_reason"] = reason
		}
		return repo.UpdateProcess(ctx, process)
	})
	if err != nil {
		return fmt.Errorf("cancel process: %w", err)
	}

	s.log.Info("dunning process cancelled",
		zap.String("process_id", process.ID.String()),
		zap.Int64("steps_skipped", skipped),
		zap.String("reason", reason),
	)
	return nil
}

// ApproveStep records the decision and immediately executes the gated step
// through the normal claim path, so approval cannot double-run a step that
// a concurrent operator already pushed through.
func (s *service) ApproveStep(ctx context.Context, orgID, approvalID snowflake.ID, decidedBy, note string) (*domain.StepResult, error) {
	approval, process, step, err := s.loadApproval(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}
	if process.Status != domain.ProcessStatusActive {
		return nil, domain.ErrProcessNotActive
	}

	now := s.clock.Now().UTC()
	approval.Status = domain.ApprovalStatusApproved
	approval.DecidedAt = &now
	approval.DecidedBy = decidedBy
	approval.Note = note
	if err := s.repo.UpdateApproval(ctx, approval); err != nil {
		return nil, err
	}

	s.log.Info("dunning step approved",
		zap.String("approval_id", approval.ID.String()),
		zap.String("process_id", process.ID.String()),
		zap.Int("step_number", step.StepNumber),
		zap.String("decided_by", decidedBy),
	)

	return s.claimAndExecute(ctx, process, step)
}

// RejectStep skips the gated step and lets the process continue with the
// remaining tiers.
func (s *service) RejectStep(ctx context.Context, orgID, approvalID snowflake.ID, decidedBy, note string) error {
	approval, process, step, err := s.loadApproval(ctx, orgID, approvalID)
	if err != nil {
		return err
	}
	if process.Status.IsTerminal() {
		return domain.ErrProcessTerminal
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		approval.Status = domain.ApprovalStatusRejected
		approval.DecidedAt = &now
		approval.DecidedBy = decidedBy
		approval.Note = note
		if err := repo.UpdateApproval(ctx, approval); err != nil {
			return err
		}

		step.Status = domain.StepStatusSkipped
		step.ExecutedAt = &now
		skipped := false
		step.ResultSuccess = &skipped
		step.ResultMessage = fmt.Sprintf("rejected by %s", decidedBy)
		if err := repo.FinishStep(ctx, step); err != nil {
			return err
		}

		if process.Status == domain.ProcessStatusActive {
			return s.advanceProcess(ctx, repo, process, step, now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reject step: %w", err)
	}

	s.log.Info("dunning step rejected",
		zap.String("approval_id", approval.ID.String()),
		zap.String("process_id", process.ID.String()),
		zap.Int("step_number", step.StepNumber),
		zap.String("decided_by", decidedBy),
	)
	return nil
}

func (s *service) loadApproval(ctx context.Context, orgID, approvalID snowflake.ID) (*domain.DunningApproval, *domain.DunningProcess, *domain.DunningStep, error) {
	approval, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, domain.ErrApprovalNotFound
		}
		return nil, nil, nil, err
	}
	if orgID != 0 && approval.OrgID != orgID {
		return nil, nil, nil, domain.ErrAccessDenied
	}
	if approval.Status != domain.ApprovalStatusPending {
		return nil, nil, nil, domain.ErrApprovalDecided
	}

	process, err := s.loadProcess(ctx, approval.ProcessID)
	if err != nil {
		return nil, nil, nil, err
	}
	step, err := s.repo.GetStep(ctx, approval.StepID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, domain.ErrProcessNotFound
		}
		return nil, nil, nil, err
	}
	return approval, process, step, nil
}

func (s *service) ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.DunningProcess, error) {
	if orgID == 0 {
		return nil, domain.ErrAccessDenied
	}
	return s.repo.ListProcessesByOrg(ctx, orgID)
}

func (s *service) ListActive(ctx context.Context) ([]domain.DunningProcess, error) {
	return s.repo.ListActiveProcesses(ctx)
}

func (s *service) ListSteps(ctx context.Context, orgID, processID snowflake.ID) ([]domain.DunningStep, error) {
	if _, err := s.GetByID(ctx, orgID, processID); err != nil {
		return nil, err
	}
	return s.repo.ListSteps(ctx, processID)
}

func (s *service) maxStepAttempts() int {
	if s.cfg.MaxStepAttempts <= 0 {
		return 3
	}
	return s.cfg.MaxStepAttempts
}

func (s *service) retryBackoff() time.Duration {
	if s.cfg.RetryBackoff <= 0 {
		return 24 * time.Hour
	}
	return s.cfg.RetryBackoff
}
