// Package persist stores the serialized core state in an external blob
// store. Backends hold a single record under a configured key.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/thrillee/epccore/internal/config"
)

var (
	// ErrNotFound means no state has been stored yet.
	ErrNotFound = errors.New("persisted state not found")
	// ErrPersistenceUnavailable wraps every I/O failure of a backend.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// BlobStore is the persistence collaborator of the state manager.
type BlobStore interface {
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, blob []byte) error
	Close() error
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Open connects the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.PersistConfig, logger *slog.Logger) (BlobStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, cfg.Key, logger)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.Key, logger)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}

// MemoryStore keeps the blob in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	blob     []byte
	failWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes subsequent calls fail with err; nil restores normal
// operation.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MemoryStore) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, m.failWith)
	}
	if m.blob == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.blob...), nil
}

func (m *MemoryStore) Store(_ context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, m.failWith)
	}
	m.blob = append([]byte(nil), blob...)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ BlobStore = (*MemoryStore)(nil)
