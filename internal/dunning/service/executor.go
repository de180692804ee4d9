package service

import (
	"context"
	"fmt"
	"time"

	alertdomain "github.com/smallbiznis/collecta/internal/alert/domain"
	"github.com/smallbiznis/collecta/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	"go.uber.org/zap"
)

// executionResult is what an action handler reports back. Handler failures
// never propagate as errors; they are folded into the owning step's result.
type executionResult struct {
	Success  bool
	Message  string
	Metadata map[string]interface{}
}

// actionContext carries everything a handler may touch.
type actionContext struct {
	Process *domain.DunningProcess
	Step    *domain.DunningStep
	Invoice *invoicedomain.Invoice
}

type actionHandler func(ctx context.Context, ac actionContext) executionResult

// buildHandlerTable wires one handler per step type. Adding a type without
// a handler makes dispatch fail loudly, not silently succeed.
func (s *service) buildHandlerTable() map[domain.StepType]actionHandler {
	return map[domain.StepType]actionHandler{
		domain.StepTypeEmailReminder:    s.executeReminder(alertdomain.AlertTypePaymentReminder, "email"),
		domain.StepTypeSMSReminder:      s.executeReminder(alertdomain.AlertTypePaymentReminder, "sms"),
		domain.StepTypeFinalNotice:      s.executeReminder(alertdomain.AlertTypeFinalNotice, "email"),
		domain.StepTypeSuspendService:   s.executeSuspendService,
		domain.StepTypeWriteOff:         s.executeWriteOff,
		domain.StepTypeCollectionAgency: s.executeUnsupported("collection agency handoff"),
		domain.StepTypePhoneCall:        s.executeUnsupported("phone call"),
	}
}

// dispatch runs the handler for a claimed step. A missing handler is a
// programmer error and propagates; panics inside a handler become a failed
// result so one bad action cannot take down a sweep.
func (s *service) dispatch(ctx context.Context, ac actionContext) (res executionResult, err error) {
	handler, ok := s.handlers[ac.Step.Type]
	if !ok {
		return executionResult{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedStepType, ac.Step.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("action handler panicked",
				zap.String("step_type", string(ac.Step.Type)),
				zap.String("process_id", ac.Process.ID.String()),
				zap.Any("panic", r),
			)
			res = executionResult{Success: false, Message: fmt.Sprintf("handler panic: %v", r)}
			err = nil
		}
	}()

	return handler(ctx, ac), nil
}

func (s *service) executeReminder(alertType alertdomain.AlertType, channel string) actionHandler {
	return func(ctx context.Context, ac actionContext) executionResult {
		inv := ac.Invoice
		title := fmt.Sprintf("Payment reminder: invoice %s", inv.InvoiceNumber)
		if alertType == alertdomain.AlertTypeFinalNotice {
			title = fmt.Sprintf("Final notice: invoice %s", inv.InvoiceNumber)
		}

		daysOverdue := 0
		if inv.DueAt != nil {
			daysOverdue = int(s.clock.Now().Sub(*inv.DueAt).Hours() / 24)
		}

		_, err := s.alertSvc.CreateAlert(ctx, alertdomain.CreateAlertRequest{
			OrgID:    ac.Process.OrgID,
			Type:     alertType,
			Title:    title,
			Message:  fmt.Sprintf("Invoice %s (%d %s) is %d days overdue.", inv.InvoiceNumber, inv.TotalAmount, inv.Currency, daysOverdue),
			Severity: severityFor(ac.Step.EscalationLevel),
			Metadata: map[string]interface{}{
				"invoice_id":   inv.ID.String(),
				"process_id":   ac.Process.ID.String(),
				"step_number":  ac.Step.StepNumber,
				"channel":      channel,
				"template":     ac.Step.Template,
				"days_overdue": daysOverdue,
			},
			Email: s.billingEmail(ctx, ac.Process),
		})
		if err != nil {
			return executionResult{Success: false, Message: fmt.Sprintf("send %s reminder: %v", channel, err)}
		}
		return executionResult{
			Success:  true,
			Message:  fmt.Sprintf("%s reminder sent for invoice %s", channel, inv.InvoiceNumber),
			Metadata: map[string]interface{}{"channel": channel},
		}
	}
}

func (s *service) executeSuspendService(ctx context.Context, ac actionContext) executionResult {
	if err := s.orgSvc.Suspend(ctx, ac.Process.OrgID); err != nil {
		return executionResult{Success: false, Message: fmt.Sprintf("suspend organization: %v", err)}
	}
	return executionResult{
		Success: true,
		Message: fmt.Sprintf("organization %s suspended for non-payment", ac.Process.OrgID),
	}
}

func (s *service) executeWriteOff(ctx context.Context, ac actionContext) executionResult {
	reason := fmt.Sprintf("dunning process %s exhausted", ac.Process.ID)
	if err := s.invoiceSvc.WriteOff(ctx, ac.Process.InvoiceID, reason); err != nil {
		return executionResult{Success: false, Message: fmt.Sprintf("write off invoice: %v", err)}
	}
	return executionResult{
		Success: true,
		Message: fmt.Sprintf("invoice %s written off as uncollectible", ac.Process.InvoiceID),
		Metadata: map[string]interface{}{
			"written_off_at": s.clock.Now().UTC().Format(time.RFC3339),
		},
	}
}

// executeUnsupported covers actions with no implementation yet. They must
// surface as failed results, never as silent successes.
func (s *service) executeUnsupported(what string) actionHandler {
	return func(ctx context.Context, ac actionContext) executionResult {
		return executionResult{
			Success: false,
			Message: fmt.Sprintf("%s is not supported by this installation", what),
		}
	}
}

func (s *service) billingEmail(ctx context.Context, process *domain.DunningProcess) string {
	org, err := s.orgSvc.GetByID(ctx, process.OrgID.String())
	if err != nil {
		return ""
	}
	return org.BillingEmail
}

func severityFor(level domain.EscalationLevel) alertdomain.AlertSeverity {
	switch level {
	case domain.EscalationHigh, domain.EscalationCritical:
		return alertdomain.SeverityCritical
	case domain.EscalationMedium:
		return alertdomain.SeverityWarning
	}
	return alertdomain.SeverityInfo
}
