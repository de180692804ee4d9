package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/collecta/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/collecta/internal/invoice/domain"
	"go.uber.org/zap"
)

// GenerateMonthlyReport rolls up the outcomes of processes started in the
// given month. COMPLETED processes are classified by their invoice's final
// state: paid means recovered, uncollectible means written off.
func (s *service) GenerateMonthlyReport(ctx context.Context, month time.Time) (*domain.ReportSummary, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	processes, err := s.repo.ListProcessesStartedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list processes for report: %w", err)
	}

	summary := &domain.ReportSummary{
		PeriodStart:    start,
		PeriodEnd:      end,
		TotalProcesses: len(processes),
	}

	var classifyErr error
	for _, process := range processes {
		switch process.Status {
		case domain.ProcessStatusCompleted:
			summary.CompletedCount++
		case domain.ProcessStatusActive, domain.ProcessStatusPaused:
			summary.ActiveCount++
		case domain.ProcessStatusCancelled:
			summary.CancelledCount++
		case domain.ProcessStatusFailed:
			summary.FailedCount++
		}

		if process.Status != domain.ProcessStatusCompleted {
			continue
		}
		inv, err := s.invoiceSvc.GetByID(ctx, process.InvoiceID)
		if err != nil {
			if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
				continue
			}
			classifyErr = errors.Join(classifyErr, err)
			continue
		}
		switch inv.Status {
		case invoicedomain.InvoiceStatusPaid:
			summary.TotalRecovered += inv.TotalAmount
		case invoicedomain.InvoiceStatusUncollectible:
			summary.TotalWrittenOff += inv.TotalAmount
		}
	}
	if classifyErr != nil {
		return nil, classifyErr
	}

	report := domain.DunningReport{
		ID:              s.genID.Generate(),
		PeriodStart:     start,
		PeriodEnd:       end,
		TotalProcesses:  summary.TotalProcesses,
		CompletedCount:  summary.CompletedCount,
		ActiveCount:     summary.ActiveCount,
		CancelledCount:  summary.CancelledCount,
		FailedCount:     summary.FailedCount,
		TotalRecovered:  summary.TotalRecovered,
		TotalWrittenOff: summary.TotalWrittenOff,
		CreatedAt:       s.clock.Now().UTC(),
	}
	if err := s.repo.UpsertReport(ctx, report); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	s.log.Info("dunning report generated",
		zap.Time("period_start", start),
		zap.Int("total_processes", summary.TotalProcesses),
		zap.Int64("total_recovered", summary.TotalRecovered),
		zap.Int64("total_written_off", summary.TotalWrittenOff),
	)
	return summary, nil
}
