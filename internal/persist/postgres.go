package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const loadState = `-- name: LoadState :one
SELECT blob FROM epc_state
WHERE state_key = $1
`

const upsertState = `-- name: UpsertState :exec
INSERT INTO epc_state (state_key, blob, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (state_key) DO UPDATE
SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at
`

// PostgresStore keeps the blob in the epc_state table, one row per key.
type PostgresStore struct {
	db     DBTX
	pool   *pgxpool.Pool
	key    string
	logger *slog.Logger
}

func NewPostgresStore(db DBTX, key string, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, key: key, logger: logger}
}

// OpenPostgres connects a pool to databaseURL and verifies it with a ping.
func OpenPostgres(ctx context.Context, databaseURL, key string, logger *slog.Logger) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres backend requires DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", ErrPersistenceUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ErrPersistenceUnavailable, err)
	}
	logger.InfoContext(ctx, "Postgres state store connected", slog.String("key", key))
	s := NewPostgresStore(pool, key, logger)
	s.pool = pool
	return s, nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx, loadState, s.key).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load state", slog.String("key", s.key), slog.Any("error", err))
		return nil, fmt.Errorf("%w: load %q: %w", ErrPersistenceUnavailable, s.key, err)
	}
	return blob, nil
}

func (s *PostgresStore) Store(ctx context.Context, blob []byte) error {
	if _, err := s.db.Exec(ctx, upsertState, s.key, blob); err != nil {
		s.logger.ErrorContext(ctx, "Failed to store state", slog.String("key", s.key), slog.Any("error", err))
		return fmt.Errorf("%w: store %q: %w", ErrPersistenceUnavailable, s.key, err)
	}
	s.logger.DebugContext(ctx, "State stored", slog.String("key", s.key), slog.Int("bytes", len(blob)))
	return nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

var _ BlobStore = (*PostgresStore)(nil)
