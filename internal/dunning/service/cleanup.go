package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CleanupOld deletes terminal processes past the retention window, along
// with their steps and approvals, in bounded batches.
func (s *service) CleanupOld(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.SweepBatchSize
	}
	retention := s.cfg.Retention
	if retention <= 0 {
		retention = 6 * 30 * 24 * time.Hour
	}
	cutoff := s.clock.Now().UTC().Add(-retention)

	deleted := 0
	for {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		n, err := s.repo.DeleteTerminalProcessesBefore(ctx, cutoff, batchSize)
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
		if n == 0 {
			break
		}
	}

	if deleted > 0 {
		s.log.Info("cleanup removed expired processes",
			zap.Int("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
