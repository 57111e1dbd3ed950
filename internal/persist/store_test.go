package persist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/epccore/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	blob := []byte(`{"version":1}`)
	require.NoError(t, m.Store(ctx, blob))
	blob[0] = 'x'

	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))

	m.FailWith(errors.New("disk full"))
	assert.ErrorIs(t, m.Store(ctx, blob), ErrPersistenceUnavailable)
	_, err = m.Load(ctx)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)

	m.FailWith(nil)
	_, err = m.Load(ctx)
	assert.NoError(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.PersistConfig{Backend: "memory"}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, config.PersistConfig{Backend: "etcd"}, discardLogger())
	assert.Error(t, err)

	_, err = Open(ctx, config.PersistConfig{Backend: "postgres"}, discardLogger())
	assert.Error(t, err)
}

type fakeRow struct {
	blob []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.blob
	return nil
}

type fakeDB struct {
	rows    map[string][]byte
	execErr error
	sqls    []string
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.sqls = append(f.sqls, sql)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	f.rows[args[0].(string)] = append([]byte(nil), args[1].([]byte)...)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.sqls = append(f.sqls, sql)
	blob, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{blob: blob}
}

func TestPostgresStoreUpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{rows: map[string][]byte{}}
	s := NewPostgresStore(db, "epc-core", discardLogger())

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Store(ctx, []byte("first")))
	require.NoError(t, s.Store(ctx, []byte("second")))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
	assert.Contains(t, db.sqls[1], "ON CONFLICT (state_key)")

	db.execErr = errors.New("connection reset")
	assert.ErrorIs(t, s.Store(ctx, []byte("third")), ErrPersistenceUnavailable)
	require.NoError(t, s.Close())
}

func TestPostgresStoreLoadFailure(t *testing.T) {
	db := &failingQueryDB{err: errors.New("timeout")}
	s := NewPostgresStore(db, "epc-core", discardLogger())

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

type failingQueryDB struct {
	err error
}

func (f *failingQueryDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, f.err
}

func (f *failingQueryDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return fakeRow{err: f.err}
}
