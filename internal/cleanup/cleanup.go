package cleanup

import (
	"context"
	"time"

	"github.com/italolelis/qbit_mover/internal/logctx"
)

// Pruner deletes ledger records older than a point in time.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// PruneHistory deletes relocation records older than keepDuration.
// A non-positive keepDuration keeps everything.
func PruneHistory(ctx context.Context, p Pruner, keepDuration time.Duration) error {
	if keepDuration <= 0 {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx)

	deleted, err := p.Prune(ctx, time.Now().Add(-keepDuration))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to prune relocation history", "err", err)

		return err
	}

	if deleted > 0 {
		logger.InfoContext(ctx, "Pruned relocation history", "deleted", deleted, "keep_for", keepDuration)
	}

	return nil
}
