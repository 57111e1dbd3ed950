package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/notification"
	"github.com/thrillee/epccore/internal/state"
	"github.com/thrillee/epccore/pkg/codes"
)

const OperationsRecipient = "epc-operations"

// Config holds configuration for worker intervals and thresholds.
type Config struct {
	CheckpointInterval   time.Duration
	QueueMonitorInterval time.Duration
	QueueDepthWarn       int
}

// Poster delivers internal requests to a task. bus.Endpoint satisfies it.
type Poster interface {
	Send(ctx context.Context, dst bus.TaskID, instance bus.Instance, p bus.Payload) error
}

// DepthSource reports queue depths. *bus.Bus satisfies it.
type DepthSource interface {
	Depths() map[bus.TaskID]int
}

// CheckpointSource reports the outcome of the last checkpoint.
// *state.Manager satisfies it.
type CheckpointSource interface {
	LastCheckpoint() state.CheckpointInfo
}

// Manager orchestrates the background worker loops.
type Manager struct {
	poster      Poster
	depths      DepthSource
	checkpoints CheckpointSource
	notifier    notification.Notifier
	cfg         Config
	wg          sync.WaitGroup

	// written only by the checkpoint worker goroutine
	lastReported uuid.UUID
}

func NewManager(poster Poster, depths DepthSource, checkpoints CheckpointSource, notifier notification.Notifier, cfg Config) *Manager {
	return &Manager{
		poster:      poster,
		depths:      depths,
		checkpoints: checkpoints,
		notifier:    notifier,
		cfg:         cfg,
	}
}

// StartCheckpointTrigger asks the MME task for a checkpoint every interval.
// The task writes it from its own loop; the worker never touches the store.
func (m *Manager) StartCheckpointTrigger(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		runWorkerLoop(ctx, "checkpoint-trigger", m.cfg.CheckpointInterval, 1, m.requestCheckpoint)
	}()
}

// StartQueueMonitor warns about task queues deeper than QueueDepthWarn.
func (m *Manager) StartQueueMonitor(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		runWorkerLoop(ctx, "queue-monitor", m.cfg.QueueMonitorInterval, m.cfg.QueueDepthWarn, m.checkQueueDepths)
	}()
}

// Wait blocks until every started worker has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) requestCheckpoint(ctx context.Context, _ int) (int, error) {
	m.reportFailedCheckpoint(ctx)
	err := m.poster.Send(ctx, bus.TaskMMEApp, bus.InstanceDefault, &bus.CheckpointRequest{Reason: "periodic"})
	if err != nil {
		return 0, fmt.Errorf("post checkpoint request: %w", err)
	}
	return 1, nil
}

func (m *Manager) reportFailedCheckpoint(ctx context.Context) {
	if m.checkpoints == nil {
		return
	}
	last := m.checkpoints.LastCheckpoint()
	if last.Status != codes.CheckpointStatusFailed || last.ID == m.lastReported {
		return
	}
	m.lastReported = last.ID
	subject := "Checkpoint failed"
	body := fmt.Sprintf("Checkpoint %s at %s failed: %s. In-memory state keeps running.",
		last.ID, last.TakenAt.Format(time.RFC3339), last.Error)
	if err := m.notifier.Send(ctx, OperationsRecipient, subject, body); err != nil {
		slog.WarnContext(ctx, "Failed to send checkpoint failure notification", slog.Any("error", err))
	}
}

// checkQueueDepths notifies once per run for every queue at or above
// threshold and returns how many there were.
func (m *Manager) checkQueueDepths(ctx context.Context, threshold int) (int, error) {
	if threshold <= 0 {
		return 0, ErrNoWork
	}
	depths := m.depths.Depths()
	tasks := make([]bus.TaskID, 0, len(depths))
	for task := range depths {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i] < tasks[j] })

	deep := 0
	for _, task := range tasks {
		depth := depths[task]
		if depth < threshold {
			continue
		}
		deep++
		subject := fmt.Sprintf("Queue depth alert - %s", task)
		body := fmt.Sprintf("Task %s has %d queued messages (threshold %d).", task, depth, threshold)
		if err := m.notifier.Send(ctx, OperationsRecipient, subject, body); err != nil {
			slog.WarnContext(ctx, "Failed to send queue depth notification",
				slog.String("task", task.String()),
				slog.Any("error", err),
			)
		}
	}
	if deep == 0 {
		return 0, ErrNoWork
	}
	return deep, nil
}
