package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/config"
	"github.com/thrillee/epccore/internal/logging"
	"github.com/thrillee/epccore/internal/mmeapp"
	"github.com/thrillee/epccore/internal/notification"
	"github.com/thrillee/epccore/internal/persist"
	"github.com/thrillee/epccore/internal/state"
	"github.com/thrillee/epccore/internal/timer"
	"github.com/thrillee/epccore/internal/workers"
	"github.com/thrillee/epccore/pkg/codes"
)

// Tasks whose codecs live outside this core. Their queues are drained and
// logged so that outbound signaling does not pile up.
var boundaryTasks = []bus.TaskID{bus.TaskS1AP, bus.TaskNAS, bus.TaskSGs, bus.TaskSGWApp}

func main() {
	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Setup Logging ---
	logger := logging.Setup(cfg.LogLevel)

	// --- State Manager & Persistence ---
	var blobs persist.BlobStore
	if cfg.Persist.Enabled {
		blobs, err = persist.Open(appCtx, cfg.Persist, logger)
		if err != nil {
			slog.Error("Unable to open persistence backend", slog.String("backend", cfg.Persist.Backend), slog.Any("error", err))
			if !cfg.Persist.ColdStartFallback {
				os.Exit(1)
			}
			slog.Warn("Continuing with in-memory state only")
			cfg.Persist.Enabled = false
		}
	}

	stateManager := state.NewManager()
	appCtx = logging.ContextWithInstanceID(appCtx, stateManager.InstanceID().String())
	if stateManager.CoreInit(appCtx, cfg.Persist.Enabled, cfg.Persist, blobs) != codes.ReturnOK {
		slog.Error("State manager initialization failed")
		os.Exit(1)
	}

	// --- Bus, Timers, Tasks ---
	msgBus := bus.New(bus.WithMaxInFlight(cfg.Bus.MaxInFlight))
	msgBus.Register(boundaryTasks...)
	msgBus.Register(bus.TaskMMEApp)

	timers := timer.New(msgBus.Endpoint(bus.TaskTimer), timer.WithMaxTimers(cfg.Timer.MaxTimers))
	mmeConfig := config.NewShared(cfg.MME)
	mmeApp := mmeapp.NewApp(stateManager.CoreGetState(), msgBus.Endpoint(bus.TaskMMEApp), timers, mmeConfig, stateManager)

	workerManager := workers.NewManager(
		msgBus.Endpoint(bus.TaskStateManager),
		msgBus,
		stateManager,
		notification.NewLogNotifier(logger),
		workers.Config{
			CheckpointInterval:   cfg.Worker.CheckpointInterval,
			QueueMonitorInterval: cfg.Worker.QueueMonitorInterval,
			QueueDepthWarn:       cfg.Worker.QueueDepthWarn,
		},
	)

	// --- Start Components Concurrently ---
	slog.Info("Starting EPC core tasks...")
	g, gCtx := errgroup.WithContext(appCtx)

	g.Go(func() error {
		return bus.Run(gCtx, msgBus, bus.TaskMMEApp, mmeApp)
	})
	for _, task := range boundaryTasks {
		task := task
		g.Go(func() error {
			return bus.Run(gCtx, msgBus, task, bus.HandlerFunc(logOutbound))
		})
	}
	if cfg.Persist.Enabled {
		workerManager.StartCheckpointTrigger(gCtx)
	}
	workerManager.StartQueueMonitor(gCtx)

	// --- Wait for Shutdown ---
	if err := g.Wait(); err != nil {
		slog.Error("Task loop failed", slog.Any("error", err))
	}
	rootCancel()
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	// --- Graceful Shutdown Sequence ---
	workerManager.Wait()
	timers.Stop()
	msgBus.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	if cfg.Persist.Enabled {
		slog.Info("Writing final checkpoint...")
		if stateManager.CoreCheckpoint(shutdownCtx) != codes.ReturnOK {
			slog.Warn("Final checkpoint failed")
		}
	}
	if stateManager.CoreShutdown() != codes.ReturnOK {
		slog.Error("State manager shutdown reported an invariant violation")
	}
	if blobs != nil {
		if err := blobs.Close(); err != nil {
			slog.Warn("Error closing persistence backend", slog.Any("error", err))
		}
	}
	slog.Info("EPC core gracefully stopped.")
}

func logOutbound(ctx context.Context, m bus.Message) {
	slog.DebugContext(ctx, "Outbound message",
		slog.String("source", m.Source.String()),
		slog.String("destination", m.Destination.String()),
	)
}
