package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

var (
	// ErrResourceExhausted is returned when a message cannot be queued.
	// It is fatal to the send attempt, not to the process.
	ErrResourceExhausted = errors.New("bus: resource exhausted")
	ErrUnknownTask       = errors.New("bus: unknown task")
	ErrClosed            = errors.New("bus: closed")
)

// taskQueue is an unbounded FIFO with a wake-up signal for its single reader.
type taskQueue struct {
	mu     sync.Mutex
	items  *queue.Queue
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		items:  queue.New(),
		signal: make(chan struct{}, 1),
	}
}

func (q *taskQueue) push(m Message) {
	q.mu.Lock()
	q.items.Add(m)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *taskQueue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return Message{}, false
	}
	return q.items.Remove().(Message), true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxInFlight caps the number of queued messages across all tasks.
// Zero (the default) leaves queues unbounded.
func WithMaxInFlight(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxInFlight = int64(n)
		}
	}
}

// Bus routes messages between named tasks through per-task FIFO queues.
type Bus struct {
	mu          sync.RWMutex
	queues      map[TaskID]*taskQueue
	maxInFlight int64
	inFlight    atomic.Int64
	closed      atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
}

func New(opts ...Option) *Bus {
	b := &Bus{
		queues: make(map[TaskID]*taskQueue),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register creates the queue for task. Registering twice is harmless.
func (b *Bus) Register(tasks ...TaskID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tasks {
		if _, ok := b.queues[t]; !ok {
			b.queues[t] = newTaskQueue()
		}
	}
}

func (b *Bus) queue(t TaskID) (*taskQueue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[t]
	return q, ok
}

// Send enqueues m on its destination queue and returns without waiting for
// the receiver.
func (b *Bus) Send(ctx context.Context, m Message) error {
	if m.Payload == nil {
		return fmt.Errorf("bus: nil payload for %s", m.Destination)
	}
	if b.closed.Load() {
		return fmt.Errorf("%w: bus closed", ErrResourceExhausted)
	}
	q, ok := b.queue(m.Destination)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, m.Destination)
	}

	n := b.inFlight.Add(1)
	if b.maxInFlight > 0 && n > b.maxInFlight {
		b.inFlight.Add(-1)
		slog.WarnContext(ctx, "Dropping message, bus capacity reached",
			slog.String("kind", m.Kind().String()),
			slog.String("destination", m.Destination.String()),
			slog.Int64("max_in_flight", b.maxInFlight),
		)
		return fmt.Errorf("%w: %d messages in flight", ErrResourceExhausted, b.maxInFlight)
	}

	q.push(m)
	return nil
}

// Receive blocks until a message is queued for task, ctx is done or the bus
// is closed. Messages already queued are still delivered after Close.
func (b *Bus) Receive(ctx context.Context, task TaskID) (Message, error) {
	q, ok := b.queue(task)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	for {
		if m, ok := q.pop(); ok {
			b.inFlight.Add(-1)
			return m, nil
		}
		if b.closed.Load() {
			return Message{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-b.done:
		case <-q.signal:
		}
	}
}

// Depth returns the number of messages waiting for task.
func (b *Bus) Depth(task TaskID) int {
	q, ok := b.queue(task)
	if !ok {
		return 0
	}
	return q.len()
}

// Depths returns a snapshot of every queue depth.
func (b *Bus) Depths() map[TaskID]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[TaskID]int, len(b.queues))
	for t, q := range b.queues {
		out[t] = q.len()
	}
	return out
}

// Close stops accepting messages and wakes every blocked receiver.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})
}

// Endpoint binds a task to the bus so its sends carry the right source.
func (b *Bus) Endpoint(task TaskID) Endpoint {
	b.Register(task)
	return Endpoint{bus: b, task: task}
}

// Endpoint is a task's handle on the bus.
type Endpoint struct {
	bus  *Bus
	task TaskID
}

func (e Endpoint) Task() TaskID { return e.task }

// Send posts payload from e's task to dst.
func (e Endpoint) Send(ctx context.Context, dst TaskID, instance Instance, p Payload) error {
	return e.bus.Send(ctx, Message{
		Source:      e.task,
		Destination: dst,
		Instance:    instance,
		Payload:     p,
	})
}

// Receive pops the next message addressed to e's task.
func (e Endpoint) Receive(ctx context.Context) (Message, error) {
	return e.bus.Receive(ctx, e.task)
}
