package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thrillee/epccore/internal/logging"
)

// ErrNoWork is returned by a WorkerFunc that found nothing to do.
var ErrNoWork = errors.New("no work available")

// WorkerFunc defines the function signature for work performed by a worker loop.
// It returns the number of items processed and any critical error encountered.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

const workTimeout = 30 * time.Second

// runWorkerLoop runs a generic worker function periodically.
func runWorkerLoop(ctx context.Context, name string, interval time.Duration, batchSize int, workerFunc WorkerFunc) {
	ctx = logging.ContextWithWorkerID(ctx, name)
	if interval <= 0 {
		slog.InfoContext(ctx, "Worker disabled", slog.Duration("interval", interval))
		return
	}
	slog.InfoContext(ctx, "Worker starting", slog.Duration("interval", interval), slog.Int("batch_size", batchSize))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping")
			return
		case <-ticker.C:
			runWork(ctx, batchSize, workerFunc)
		}
	}
}

// runWork executes a single batch of work with a timeout.
func runWork(ctx context.Context, batchSize int, workerFunc WorkerFunc) {
	runCtx, cancel := context.WithTimeout(ctx, workTimeout)
	defer cancel()

	processedCount, err := workerFunc(runCtx, batchSize)

	if err != nil {
		if !errors.Is(err, ErrNoWork) {
			slog.WarnContext(ctx, "Worker run failed", slog.Any("error", err))
		}
	} else if processedCount > 0 {
		slog.DebugContext(ctx, "Worker run finished", slog.Int("processed", processedCount))
	}
}
