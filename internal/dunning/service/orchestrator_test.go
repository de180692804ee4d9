package service

import (
	"context"
	"errors"
	"testing"
	"time"

	alertdomain "github.com/smallbiznis/collecta/internal/alert/domain"
	"github.com/smallbiznis/collecta/internal/config"
	"github.com/smallbiznis/collecta/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateProcessFromDefaultTemplate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Source:    "api",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ProcessStatusActive, process.Status)
	assert.Equal(t, 0, process.CurrentStep)
	assert.Equal(t, 5, process.TotalSteps)
	require.NotNil(t, process.NextActionAt)

	steps := env.mustListSteps(t, process.ID)
	require.Len(t, steps, 5)
	for i, step := range steps {
		assert.Equal(t, i+1, step.StepNumber)
		assert.Equal(t, domain.StepStatusPending, step.Status)
		if i > 0 {
			assert.True(t, step.ScheduledAt.After(steps[i-1].ScheduledAt),
				"step %d must be scheduled after step %d", i+1, i)
		}
	}
	assert.Equal(t, steps[0].ScheduledAt.Unix(), process.NextActionAt.Unix())
	assert.True(t, steps[3].RequiresManualApproval)
	assert.True(t, steps[4].RequiresManualApproval)

	// The schedule anchors at the due date, so the day-7 step of an
	// invoice 8 days overdue is due straight away.
	assert.Equal(t, inv.DueAt.AddDate(0, 0, 7).Unix(), steps[0].ScheduledAt.Unix())
	assert.False(t, process.NextActionAt.After(env.clock.Now()))

	assert.EqualValues(t, 1, env.countAlerts(t, alertdomain.AlertTypeProcessStarted))
}

func TestCreateRejectsNonOpenInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusPaid, 8*24*time.Hour)

	_, err := env.svc.Create(ctx, domain.CreateProcessRequest{OrgID: env.orgID, InvoiceID: inv.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotOpen)
}

func TestCreateRejectsSecondOpenProcess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	_, err := env.svc.Create(ctx, domain.CreateProcessRequest{OrgID: env.orgID, InvoiceID: inv.ID})
	require.NoError(t, err)

	_, err = env.svc.Create(ctx, domain.CreateProcessRequest{OrgID: env.orgID, InvoiceID: inv.ID})
	assert.ErrorIs(t, err, domain.ErrProcessExists)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestCreateRejectsNonIncreasingDelays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	_, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps: []domain.StepSpec{
			{Type: domain.StepTypeEmailReminder, DelayDays: 7},
			{Type: domain.StepTypeFinalNotice, DelayDays: 7},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSteps)
}

func TestExecuteNextStepSendsReminderAndAdvances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeEmailReminder, domain.StepTypeFinalNotice),
	})
	require.NoError(t, err)

	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.StepNumber)
	assert.Equal(t, domain.StepTypeEmailReminder, result.StepType)

	steps := env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, domain.StepStatusPending, steps[1].Status)
	require.NotNil(t, steps[0].ExecutedAt)
	require.NotNil(t, steps[0].ResultSuccess)
	assert.True(t, *steps[0].ResultSuccess)

	updated := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusActive, updated.Status)
	assert.Equal(t, 1, updated.CurrentStep)
	require.NotNil(t, updated.NextActionAt)
	assert.Equal(t, steps[1].ScheduledAt.Unix(), updated.NextActionAt.Unix())

	assert.EqualValues(t, 1, env.countAlerts(t, alertdomain.AlertTypePaymentReminder))
}

func TestLastStepCompletesProcess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeEmailReminder),
	})
	require.NoError(t, err)

	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	updated := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusCompleted, updated.Status)
	assert.Equal(t, 1, updated.CurrentStep)
	require.NotNil(t, updated.CompletedAt)
	assert.Nil(t, updated.NextActionAt)

	_, err = env.svc.ExecuteNextStep(ctx, process.ID)
	assert.ErrorIs(t, err, domain.ErrProcessNotActive)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestExecuteWithNoPendingStepsCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeEmailReminder),
	})
	require.NoError(t, err)

	// Steps all resolved but the process row was left ACTIVE, as after an
	// interrupted advance.
	require.NoError(t, env.db.Exec(
		`UPDATE dunning_steps SET status = ? WHERE process_id = ?`,
		domain.StepStatusCompleted, process.ID,
	).Error)

	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "process completed")

	updated := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
}

func TestApprovalGateParksProcess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 40*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps: []domain.StepSpec{
			{Type: domain.StepTypeSuspendService, DelayDays: 0, EscalationLevel: domain.EscalationCritical, RequiresManualApproval: true},
		},
	})
	require.NoError(t, err)

	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "awaiting manual approval")

	// The step and process are untouched until a decision lands.
	steps := env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusPending, steps[0].Status)
	updated := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusActive, updated.Status)
	assert.Equal(t, 0, updated.CurrentStep)

	approval, err := env.repo.GetPendingApprovalByStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusPending, approval.Status)
	assert.EqualValues(t, 1, env.countAlerts(t, alertdomain.AlertTypeSuspensionPending))

	// Re-executing must not stack a second approval or alert.
	_, err = env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	var approvals int64
	require.NoError(t, env.db.Raw(
		`SELECT COUNT(1) FROM dunning_approvals WHERE step_id = ?`, steps[0].ID,
	).Scan(&approvals).Error)
	assert.EqualValues(t, 1, approvals)
	assert.EqualValues(t, 1, env.countAlerts(t, alertdomain.AlertTypeSuspensionPending))
}

func TestApproveStepExecutesAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 40*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps: []domain.StepSpec{
			{Type: domain.StepTypeSuspendService, DelayDays: 0, RequiresManualApproval: true},
		},
	})
	require.NoError(t, err)

	_, err = env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	steps := env.mustListSteps(t, process.ID)
	approval, err := env.repo.GetPendingApprovalByStep(ctx, steps[0].ID)
	require.NoError(t, err)

	result, err := env.svc.ApproveStep(ctx, env.orgID, approval.ID, "ops@acme.test", "customer unresponsive")
	require.NoError(t, err)
	assert.True(t, result.Success)

	var orgStatus string
	require.NoError(t, env.db.Raw(
		`SELECT status FROM organizations WHERE id = ?`, env.orgID,
	).Scan(&orgStatus).Error)
	assert.Equal(t, "SUSPENDED", orgStatus)

	steps = env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusCompleted, steps[0].Status)
	updated := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusCompleted, updated.Status)

	// Deciding twice is rejected.
	_, err = env.svc.ApproveStep(ctx, env.orgID, approval.ID, "ops@acme.test", "")
	assert.ErrorIs(t, err, domain.ErrApprovalDecided)
}

func TestRejectStepSkipsAndAdvances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 40*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps: []domain.StepSpec{
			{Type: domain.StepTypeSuspendService, DelayDays: 0, RequiresManualApproval: true},
			{Type: domain.StepTypeWriteOff, DelayDays: 30, RequiresManualApproval: true},
		},
	})
	require.NoError(t, err)

	_, err = env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	steps := env.mustListSteps(t, process.ID)
	approval, err := env.repo.GetPendingApprovalByStep(ctx, steps[0].ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.RejectStep(ctx, env.orgID, approval.ID, "ops@acme.test", "give them more time"))

	steps = env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusSkipped, steps[0].Status)
	assert.Equal(t, domain.StepStatusPending, steps[1].Status)

	decided, err := env.repo.GetApproval(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, decided.Status)
	assert.Equal(t, "ops@acme.test", decided.DecidedBy)

	updated := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusActive, updated.Status)
	assert.Equal(t, 1, updated.CurrentStep)
	require.NotNil(t, updated.NextActionAt)
	assert.Equal(t, steps[1].ScheduledAt.Unix(), updated.NextActionAt.Unix())
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeEmailReminder, domain.StepTypeFinalNotice),
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.Pause(ctx, env.orgID, process.ID, "disputed amount"))

	paused := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusPaused, paused.Status)
	assert.Equal(t, "disputed amount", paused.Metadata["pause_reason"])

	_, err = env.svc.ExecuteNextStep(ctx, process.ID)
	assert.ErrorIs(t, err, domain.ErrProcessNotActive)

	err = env.svc.Pause(ctx, env.orgID, process.ID, "again")
	assert.ErrorIs(t, err, domain.ErrProcessNotActive)

	require.NoError(t, env.svc.Resume(ctx, env.orgID, process.ID))
	resumed := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusActive, resumed.Status)
	require.NotNil(t, resumed.NextActionAt)
	assert.NotContains(t, resumed.Metadata, "pause_reason")

	err = env.svc.Resume(ctx, env.orgID, process.ID)
	assert.ErrorIs(t, err, domain.ErrProcessNotPaused)
}

func TestCancelSkipsExactlyPendingSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeEmailReminder, domain.StepTypeFinalNotice, domain.StepTypeWriteOff),
	})
	require.NoError(t, err)

	_, err = env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(ctx, env.orgID, process.ID, "invoice settled out of band"))

	steps := env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, domain.StepStatusSkipped, steps[1].Status)
	assert.Equal(t, domain.StepStatusSkipped, steps[2].Status)

	cancelled := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)
	assert.Nil(t, cancelled.NextActionAt)
	assert.Equal(t, "invoice settled out of band", cancelled.Metadata["cancel_reason"])

	err = env.svc.Cancel(ctx, env.orgID, process.ID, "twice")
	assert.ErrorIs(t, err, domain.ErrProcessTerminal)
}

func TestCancelVoidsPendingApprovals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 40*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps: []domain.StepSpec{
			{Type: domain.StepTypeSuspendService, DelayDays: 0, RequiresManualApproval: true},
		},
	})
	require.NoError(t, err)

	_, err = env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	steps := env.mustListSteps(t, process.ID)
	approval, err := env.repo.GetPendingApprovalByStep(ctx, steps[0].ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(ctx, env.orgID, process.ID, ""))

	voided, err := env.repo.GetApproval(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, voided.Status)
	assert.Equal(t, "system", voided.DecidedBy)
}

func TestTenantScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)
	otherOrg := env.seedOrganization(t, "Globex")

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
	})
	require.NoError(t, err)

	_, err = env.svc.GetByID(ctx, otherOrg, process.ID)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	err = env.svc.Pause(ctx, otherOrg, process.ID, "")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	err = env.svc.Cancel(ctx, otherOrg, process.ID, "")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	mine, err := env.svc.ListByOrg(ctx, otherOrg)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestBoundedRetryThenPermanentFailure(t *testing.T) {
	env := newTestEnvWithConfig(t, config.DunningConfig{
		MaxStepAttempts: 2,
		RetryBackoff:    time.Hour,
		SweepBatchSize:  10,
	})
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	// PHONE_CALL has no working handler, so every attempt fails.
	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypePhoneCall, domain.StepTypeFinalNotice),
	})
	require.NoError(t, err)

	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.NextRetryAt)
	assert.Equal(t, env.clock.Now().Add(time.Hour).Unix(), result.NextRetryAt.Unix())

	steps := env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusPending, steps[0].Status)
	assert.Equal(t, 1, steps[0].Attempts)
	updated := env.mustGetProcess(t, process.ID)
	require.NotNil(t, updated.NextActionAt)
	assert.Equal(t, result.NextRetryAt.Unix(), updated.NextActionAt.Unix())
	assert.Equal(t, 0, updated.CurrentStep)

	env.clock.Advance(2 * time.Hour)

	result, err = env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.NextRetryAt)

	steps = env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusFailed, steps[0].Status)
	assert.Equal(t, 2, steps[0].Attempts)
	assert.Equal(t, domain.StepStatusPending, steps[1].Status)

	// The process moves past the dead step to the next tier.
	updated = env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusActive, updated.Status)
	assert.Equal(t, 1, updated.CurrentStep)
	require.NotNil(t, updated.NextActionAt)
	assert.Equal(t, steps[1].ScheduledAt.Unix(), updated.NextActionAt.Unix())
}

func TestConcurrentClaimIsNotDoubleRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 8*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeEmailReminder),
	})
	require.NoError(t, err)

	step, err := env.repo.NextPendingStep(ctx, process.ID)
	require.NoError(t, err)

	// Another sweep wins the claim first.
	claimed, err := env.repo.ClaimStep(ctx, step.ID, step.Version)
	require.NoError(t, err)
	require.True(t, claimed)

	// Stale-version claims lose.
	claimed, err = env.repo.ClaimStep(ctx, step.ID, step.Version)
	require.NoError(t, err)
	assert.False(t, claimed)

	// The orchestrator sees the in-flight step and neither re-runs it nor
	// completes the process.
	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "already being handled")

	updated := env.mustGetProcess(t, process.ID)
	assert.Equal(t, domain.ProcessStatusActive, updated.Status)
	steps := env.mustListSteps(t, process.ID)
	assert.Equal(t, domain.StepStatusExecuting, steps[0].Status)
	assert.Equal(t, 1, steps[0].Attempts)
	assert.EqualValues(t, 0, env.countAlerts(t, alertdomain.AlertTypePaymentReminder))
}

func TestWriteOffStepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 100*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeWriteOff),
	})
	require.NoError(t, err)

	// The invoice was already written off by an operator.
	require.NoError(t, env.db.Exec(
		`UPDATE invoices SET status = ? WHERE id = ?`,
		invoicedomain.InvoiceStatusUncollectible, inv.ID,
	).Error)

	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	var status string
	require.NoError(t, env.db.Raw(
		`SELECT status FROM invoices WHERE id = ?`, inv.ID,
	).Scan(&status).Error)
	assert.Equal(t, string(invoicedomain.InvoiceStatusUncollectible), status)
}

func TestWriteOffStepRecordsReasonOnInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.seedInvoice(t, invoicedomain.InvoiceStatusOpen, 100*24*time.Hour)

	process, err := env.svc.Create(ctx, domain.CreateProcessRequest{
		OrgID:     env.orgID,
		InvoiceID: inv.ID,
		Steps:     immediateSteps(domain.StepTypeWriteOff),
	})
	require.NoError(t, err)

	result, err := env.svc.ExecuteNextStep(ctx, process.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	var got invoicedomain.Invoice
	require.NoError(t, env.db.Raw(
		`SELECT * FROM invoices WHERE id = ?`, inv.ID,
	).Scan(&got).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusUncollectible, got.Status)
	reason, _ := got.Metadata["write_off_reason"].(string)
	assert.Contains(t, reason, process.ID.String())
	assert.NotEmpty(t, got.Metadata["written_off_at"])
}

func TestGetByIDUnknownProcess(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetByID(context.Background(), env.orgID, env.node.Generate())
	assert.ErrorIs(t, err, domain.ErrProcessNotFound)
	assert.False(t, errors.Is(err, gorm.ErrRecordNotFound))
}
