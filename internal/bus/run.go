package bus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/thrillee/epccore/internal/logging"
)

// Handler processes one message to completion. Handlers of one task never
// run concurrently.
type Handler interface {
	Handle(ctx context.Context, m Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Message)

func (f HandlerFunc) Handle(ctx context.Context, m Message) { f(ctx, m) }

// Run is the event loop of one task: pop, handle, repeat. It returns nil when
// ctx is cancelled, the bus is closed or the task receives TerminateTask.
func Run(ctx context.Context, b *Bus, task TaskID, h Handler) error {
	b.Register(task)
	logCtx := logging.ContextWithTask(ctx, task.String())
	slog.InfoContext(logCtx, "Task event loop starting")

	for {
		m, err := b.Receive(ctx, task)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.InfoContext(logCtx, "Task event loop stopping", slog.String("reason", err.Error()))
				return nil
			}
			return err
		}
		if _, ok := m.Payload.(*TerminateTask); ok {
			slog.InfoContext(logCtx, "Task received terminate message")
			return nil
		}
		h.Handle(logging.ContextWithMsgKind(logCtx, m.Kind().String()), m)
	}
}
