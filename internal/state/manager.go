// Package state owns the lifecycle of the process-wide subscriber context
// store: construction, hydration from the blob store, checkpoints and
// shutdown.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/epccore/internal/config"
	"github.com/thrillee/epccore/internal/logging"
	"github.com/thrillee/epccore/internal/persist"
	"github.com/thrillee/epccore/internal/ue"
	"github.com/thrillee/epccore/pkg/codes"
	"github.com/thrillee/epccore/pkg/errormapper"
)

var (
	ErrNotInitialized  = errors.New("state manager not initialized")
	ErrAlreadyRunning  = errors.New("state manager already initialized")
	ErrBlobStoreNeeded = errors.New("persistence enabled without a blob store")
)

// live is set while a Manager holds a store; one per process.
var live atomic.Bool

// CheckpointInfo describes the last checkpoint attempt.
type CheckpointInfo struct {
	ID      uuid.UUID `json:"checkpoint_id"`
	TakenAt time.Time `json:"taken_at"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	Stats   ue.Stats  `json:"stats"`
}

type Manager struct {
	mu             sync.Mutex
	status         string
	store          *ue.Store
	blobs          persist.BlobStore
	persistEnabled bool
	cfg            config.PersistConfig
	instanceID     uuid.UUID
	last           CheckpointInfo
	now            func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		status:     codes.StatusUninitialized,
		instanceID: uuid.New(),
		now:        time.Now,
	}
}

func (m *Manager) InstanceID() uuid.UUID {
	return m.instanceID
}

// Init builds the store. With persistence enabled it is hydrated from blobs;
// a missing record is a cold start. A failed load is fatal unless
// cfg.ColdStartFallback is set.
func (m *Manager) Init(ctx context.Context, persistEnabled bool, cfg config.PersistConfig, blobs persist.BlobStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == codes.StatusRunning {
		return ErrAlreadyRunning
	}
	if persistEnabled && blobs == nil {
		return ErrBlobStoreNeeded
	}
	if !live.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: another context store is live in this process", ue.ErrInvariantViolation)
	}

	ctx = logging.ContextWithInstanceID(ctx, m.instanceID.String())
	store, err := m.hydrate(ctx, persistEnabled, cfg, blobs)
	if err != nil {
		live.Store(false)
		return err
	}

	m.store = store
	m.blobs = blobs
	m.persistEnabled = persistEnabled
	m.cfg = cfg
	m.status = codes.StatusRunning
	m.last = CheckpointInfo{}

	st := store.Stats()
	slog.InfoContext(ctx, "State manager initialized",
		slog.Bool("persist_enabled", persistEnabled),
		slog.Int("subscribers", st.Subscribers),
		slog.Int("pdns", st.PDNs),
		slog.Int("bearers", st.Bearers),
	)
	return nil
}

func (m *Manager) hydrate(ctx context.Context, persistEnabled bool, cfg config.PersistConfig, blobs persist.BlobStore) (*ue.Store, error) {
	if !persistEnabled {
		return ue.NewStore(), nil
	}

	loadCtx, cancel := withIOTimeout(ctx, cfg.IOTimeout)
	defer cancel()
	blob, err := blobs.Load(loadCtx)
	if errors.Is(err, persist.ErrNotFound) {
		slog.InfoContext(ctx, "No persisted state found, cold start")
		return ue.NewStore(), nil
	}
	if err == nil {
		var rec Record
		rec, err = DecodeRecord(blob)
		if err == nil {
			var store *ue.Store
			store, err = ue.Restore(rec.Store)
			if err == nil {
				slog.InfoContext(logging.ContextWithCheckpointID(ctx, rec.CheckpointID.String()), "Persisted state restored",
					slog.Time("taken_at", rec.TakenAt),
				)
				return store, nil
			}
		}
	}

	err = fmt.Errorf("%w: load state: %w", persist.ErrPersistenceUnavailable, err)
	if cfg.ColdStartFallback {
		slog.WarnContext(ctx, "Persisted state unusable, falling back to cold start",
			slog.String("error_code", errormapper.Classify(err)),
			slog.Any("error", err),
		)
		return ue.NewStore(), nil
	}
	slog.ErrorContext(ctx, "Persisted state unusable", slog.Any("error", err))
	return nil, err
}

// State returns the live store, or nil before Init and after Shutdown. Only
// the owning task may use it.
func (m *Manager) State() *ue.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != codes.StatusRunning {
		return nil
	}
	return m.store
}

// Checkpoint writes the current store to the blob store. A failure is
// reported and leaves the in-memory state untouched.
func (m *Manager) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != codes.StatusRunning {
		return ErrNotInitialized
	}
	id := uuid.New()
	ctx = logging.ContextWithCheckpointID(ctx, id.String())
	info := CheckpointInfo{ID: id, TakenAt: m.now().UTC(), Stats: m.store.Stats()}

	if !m.persistEnabled {
		info.Status = codes.CheckpointStatusSkipped
		m.last = info
		slog.DebugContext(ctx, "Checkpoint skipped, persistence disabled")
		return nil
	}

	blob, err := EncodeRecord(Record{
		CheckpointID: id,
		InstanceID:   m.instanceID,
		TakenAt:      info.TakenAt,
		Stats:        info.Stats,
		Store:        m.store.Snapshot(),
	})
	if err == nil {
		storeCtx, cancel := withIOTimeout(ctx, m.cfg.IOTimeout)
		err = m.blobs.Store(storeCtx, blob)
		cancel()
	}
	if err != nil {
		if !errors.Is(err, persist.ErrPersistenceUnavailable) {
			err = fmt.Errorf("%w: %w", persist.ErrPersistenceUnavailable, err)
		}
		info.Status = codes.CheckpointStatusFailed
		info.Error = err.Error()
		m.last = info
		slog.ErrorContext(ctx, "Checkpoint failed", slog.Any("error", err))
		return fmt.Errorf("checkpoint: %w", err)
	}

	info.Status = codes.CheckpointStatusStored
	m.last = info
	slog.InfoContext(ctx, "Checkpoint stored",
		slog.Int("bytes", len(blob)),
		slog.Int("subscribers", info.Stats.Subscribers),
	)
	return nil
}

func (m *Manager) LastCheckpoint() CheckpointInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Shutdown tears down every subscriber context and releases the store. It
// is a no-op when the manager is not running.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != codes.StatusRunning {
		return nil
	}
	n := m.store.Len()
	err := m.store.DestroyAll()
	m.store = nil
	m.status = codes.StatusShutdown
	live.Store(false)

	if err != nil {
		slog.Error("State manager shutdown hit an invariant violation", slog.Any("error", err))
		return err
	}
	slog.Info("State manager shut down", slog.Int("subscribers_released", n))
	return nil
}

// CoreInit is Init reporting codes.ReturnOK or codes.ReturnError.
func (m *Manager) CoreInit(ctx context.Context, persistEnabled bool, cfg config.PersistConfig, blobs persist.BlobStore) int {
	return errormapper.StatusCode(m.Init(ctx, persistEnabled, cfg, blobs))
}

// CoreGetState is State under its boundary name.
func (m *Manager) CoreGetState() *ue.Store {
	return m.State()
}

func (m *Manager) CoreCheckpoint(ctx context.Context) int {
	return errormapper.StatusCode(m.Checkpoint(ctx))
}

func (m *Manager) CoreShutdown() int {
	return errormapper.StatusCode(m.Shutdown())
}

func withIOTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
