package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/collecta/internal/dunning/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ValidateData repairs referential drift: live processes whose invoice was
// deleted become FAILED with a validation reason, and steps whose process
// was deleted are purged. Running it twice changes nothing further.
func (s *service) ValidateData(ctx context.Context) (*domain.ValidationReport, error) {
	report := &domain.ValidationReport{}
	var jobErr error

	total, err := s.repo.CountProcesses(ctx)
	if err != nil {
		return report, err
	}
	report.ProcessesChecked = int(total)

	for {
		if ctx.Err() != nil {
			return report, errors.Join(jobErr, ctx.Err())
		}

		orphans, err := s.repo.ListProcessesWithMissingInvoice(ctx, s.cfg.SweepBatchSize)
		if err != nil {
			return report, errors.Join(jobErr, err)
		}
		if len(orphans) == 0 {
			break
		}

		for _, process := range orphans {
			err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				repo := s.repo.WithTx(tx)
				if err := repo.RecordProcessFailure(ctx, process.ID, "validation: invoice no longer exists"); err != nil {
					return err
				}
				if _, err := repo.SkipPendingSteps(ctx, process.ID); err != nil {
					return err
				}
				_, err := repo.VoidPendingApprovals(ctx, process.ID, "validation: invoice no longer exists")
				return err
			})
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			report.ProcessesFailed++
			s.log.Warn("validator failed orphaned process",
				zap.String("process_id", process.ID.String()),
				zap.String("invoice_id", process.InvoiceID.String()),
			)
		}
	}

	for {
		if ctx.Err() != nil {
			return report, errors.Join(jobErr, ctx.Err())
		}

		steps, err := s.repo.ListOrphanSteps(ctx, s.cfg.SweepBatchSize)
		if err != nil {
			return report, errors.Join(jobErr, err)
		}
		if len(steps) == 0 {
			break
		}
		report.OrphanStepsFound += len(steps)

		for _, step := range steps {
			if err := s.repo.DeleteStep(ctx, step.ID); err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			report.OrphanStepsPurged++
			s.log.Warn("validator purged orphaned step",
				zap.String("step_id", step.ID.String()),
				zap.String("process_id", step.ProcessID.String()),
			)
		}

		if report.OrphanStepsPurged == 0 {
			// Deletions all failed; bail rather than spin.
			break
		}
	}

	s.log.Info("data validation finished",
		zap.Int("processes_checked", report.ProcessesChecked),
		zap.Int("processes_failed", report.ProcessesFailed),
		zap.Int("orphan_steps_purged", report.OrphanStepsPurged),
	)
	return report, jobErr
}
