package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	TaskKey         contextKey = "task"
	MMEUEIDKey      contextKey = "mme_ue_id"
	ENBUEIDKey      contextKey = "enb_ue_id"
	TimerIDKey      contextKey = "timer_id"
	MsgKindKey      contextKey = "msg_kind"
	CheckpointIDKey contextKey = "checkpoint_id"
	InstanceIDKey   contextKey = "instance_id"
	WorkerIDKey     contextKey = "worker_id"
	HandlerKey      contextKey = "handler"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if task, ok := ctx.Value(TaskKey).(string); ok {
		r.AddAttrs(slog.String("task", task))
	}
	if id, ok := ctx.Value(MMEUEIDKey).(uint32); ok {
		// Same rendering the MME logs use for mme_ue_s1ap_id.
		r.AddAttrs(slog.String("mme_ue_id", formatUEID(id)))
	}
	if id, ok := ctx.Value(ENBUEIDKey).(uint32); ok {
		r.AddAttrs(slog.String("enb_ue_id", formatUEID(id)))
	}
	if id, ok := ctx.Value(TimerIDKey).(uint64); ok {
		r.AddAttrs(slog.Uint64("timer_id", id))
	}
	if kind, ok := ctx.Value(MsgKindKey).(string); ok {
		r.AddAttrs(slog.String("msg_kind", kind))
	}
	if id, ok := ctx.Value(CheckpointIDKey).(string); ok {
		r.AddAttrs(slog.String("checkpoint_id", id))
	}
	if id, ok := ctx.Value(InstanceIDKey).(string); ok {
		r.AddAttrs(slog.String("instance_id", id))
	}
	if id, ok := ctx.Value(WorkerIDKey).(string); ok {
		r.AddAttrs(slog.String("worker_id", id))
	}
	if name, ok := ctx.Value(HandlerKey).(string); ok {
		r.AddAttrs(slog.String("handler", name))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs and WithGroup keep the context extraction on derived loggers.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

func formatUEID(id uint32) string {
	return fmt.Sprintf("%06X", id)
}

// Setup installs a JSON logger with the context handler as slog default.
func Setup(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(NewContextHandler(baseHandler))
	slog.SetDefault(logger)
	return logger
}

// Helper functions to add values to context
func ContextWithTask(ctx context.Context, task string) context.Context {
	return context.WithValue(ctx, TaskKey, task)
}

func ContextWithMMEUEID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, MMEUEIDKey, id)
}

func ContextWithENBUEID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, ENBUEIDKey, id)
}

func ContextWithUE(ctx context.Context, mmeUEID, enbUEID uint32) context.Context {
	return ContextWithENBUEID(ContextWithMMEUEID(ctx, mmeUEID), enbUEID)
}

func ContextWithTimerID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, TimerIDKey, id)
}

func ContextWithMsgKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, MsgKindKey, kind)
}

func ContextWithCheckpointID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CheckpointIDKey, id)
}

func ContextWithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, InstanceIDKey, id)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func ContextWithHandler(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, HandlerKey, name)
}
