package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/config"
	"github.com/thrillee/epccore/internal/persist"
	"github.com/thrillee/epccore/internal/ue"
	"github.com/thrillee/epccore/pkg/codes"
)

func newRunning(t *testing.T, persistEnabled bool, cfg config.PersistConfig, blobs persist.BlobStore) *Manager {
	t.Helper()
	m := NewManager()
	require.NoError(t, m.Init(context.Background(), persistEnabled, cfg, blobs))
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func populate(t *testing.T, s *ue.Store) {
	t.Helper()
	for i := uint32(1); i <= 3; i++ {
		sc, _ := s.GetOrCreate(ue.IDs{MMEUEID: i, ENBUEID: 40 + i})
		sc.IMSI = fmt.Sprintf("00101000000000%d", i)
		sc.CSFB = &ue.CSFBContext{ServiceType: bus.CSFBServiceMTCall, Emergency: i == 2}
		for p := uint8(1); p <= uint8(i); p++ {
			pdn, err := sc.AddPDN(p, fmt.Sprintf("apn%d", p))
			require.NoError(t, err)
			for ebi := ue.MinEBI; ebi < ue.MinEBI+p; ebi++ {
				require.NoError(t, s.AddBearer(pdn, &ue.Bearer{
					EBI: ebi,
					QoS: ue.QoS{QCI: 9, ARP: 2, GBRUplink: decimal.RequireFromString("64.5")},
				}))
			}
			require.NoError(t, sc.APNs.Put(ue.GatewayBearerInfo{
				APN:        pdn.APN,
				PDNType:    "ipv4v6",
				PAA:        fmt.Sprintf("10.1.%d.%d", i, p),
				AMBRUplink: decimal.NewFromInt(1000 * int64(p)),
			}))
		}
	}
}

func TestSecondLiveInstanceIsRejected(t *testing.T) {
	first := newRunning(t, false, config.PersistConfig{}, nil)

	second := NewManager()
	err := second.Init(context.Background(), false, config.PersistConfig{}, nil)
	assert.ErrorIs(t, err, ue.ErrInvariantViolation)
	assert.Equal(t, codes.ReturnError, second.CoreInit(context.Background(), false, config.PersistConfig{}, nil))
	assert.Nil(t, second.CoreGetState())

	assert.ErrorIs(t, first.Init(context.Background(), false, config.PersistConfig{}, nil), ErrAlreadyRunning)

	require.NoError(t, first.Shutdown())
	assert.Equal(t, codes.ReturnOK, second.CoreInit(context.Background(), false, config.PersistConfig{}, nil))
	assert.Equal(t, codes.ReturnOK, second.CoreShutdown())
}

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	blobs := persist.NewMemoryStore()
	m := NewManager()
	require.NoError(t, m.Init(context.Background(), true, config.PersistConfig{}, blobs))
	populate(t, m.State())
	before, err := json.Marshal(m.State().Snapshot())
	require.NoError(t, err)
	stats := m.State().Stats()

	require.NoError(t, m.Checkpoint(context.Background()))
	last := m.LastCheckpoint()
	assert.Equal(t, codes.CheckpointStatusStored, last.Status)
	assert.Equal(t, stats, last.Stats)
	require.NoError(t, m.Shutdown())

	restored := newRunning(t, true, config.PersistConfig{}, blobs)
	after, err := json.Marshal(restored.State().Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Equal(t, stats, restored.State().Stats())

	blob, err := blobs.Load(context.Background())
	require.NoError(t, err)
	rec, err := DecodeRecord(blob)
	require.NoError(t, err)
	assert.Equal(t, last.ID, rec.CheckpointID)
	assert.Equal(t, m.InstanceID(), rec.InstanceID)
}

func TestColdStartWhenNothingStored(t *testing.T) {
	m := newRunning(t, true, config.PersistConfig{}, persist.NewMemoryStore())
	assert.Equal(t, 0, m.State().Len())
	assert.Equal(t, codes.StatusRunning, m.Status())
}

func TestLoadFailureIsFatalWithoutFallback(t *testing.T) {
	blobs := persist.NewMemoryStore()
	blobs.FailWith(errors.New("connection refused"))

	m := NewManager()
	err := m.Init(context.Background(), true, config.PersistConfig{}, blobs)
	assert.ErrorIs(t, err, persist.ErrPersistenceUnavailable)
	assert.Nil(t, m.State())

	// the failed Init must not hold the live guard
	fallback := newRunning(t, true, config.PersistConfig{ColdStartFallback: true}, blobs)
	assert.Equal(t, 0, fallback.State().Len())
}

func TestCorruptRecordHonoursFallback(t *testing.T) {
	blobs := persist.NewMemoryStore()
	require.NoError(t, blobs.Store(context.Background(), []byte(`{"version":99}`)))

	m := NewManager()
	assert.ErrorIs(t, m.Init(context.Background(), true, config.PersistConfig{}, blobs), ErrUnsupportedVersion)

	newRunning(t, true, config.PersistConfig{ColdStartFallback: true}, blobs)
}

func TestCheckpointFailureLeavesStateUntouched(t *testing.T) {
	blobs := persist.NewMemoryStore()
	m := newRunning(t, true, config.PersistConfig{}, blobs)
	populate(t, m.State())
	stats := m.State().Stats()

	blobs.FailWith(errors.New("disk full"))
	err := m.Checkpoint(context.Background())
	assert.ErrorIs(t, err, persist.ErrPersistenceUnavailable)
	assert.Equal(t, codes.ReturnError, m.CoreCheckpoint(context.Background()))
	assert.Equal(t, codes.CheckpointStatusFailed, m.LastCheckpoint().Status)
	assert.Equal(t, stats, m.State().Stats())

	blobs.FailWith(nil)
	assert.Equal(t, codes.ReturnOK, m.CoreCheckpoint(context.Background()))
}

func TestCheckpointSkippedWithoutPersistence(t *testing.T) {
	m := newRunning(t, false, config.PersistConfig{}, nil)
	require.NoError(t, m.Checkpoint(context.Background()))
	assert.Equal(t, codes.CheckpointStatusSkipped, m.LastCheckpoint().Status)
}

func TestShutdownReleasesEverything(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Init(context.Background(), false, config.PersistConfig{}, nil))
	store := m.State()
	populate(t, store)
	sc, _ := store.FindByMMEUEID(3)
	apns := sc.APNs

	assert.Equal(t, codes.ReturnOK, m.CoreShutdown())
	assert.Equal(t, 0, store.Len())
	assert.True(t, apns.Destroyed())
	assert.Empty(t, sc.PDNs)
	assert.Nil(t, m.State())
	assert.Equal(t, codes.StatusShutdown, m.Status())
	assert.ErrorIs(t, m.Checkpoint(context.Background()), ErrNotInitialized)

	assert.Equal(t, codes.ReturnOK, m.CoreShutdown())
}

func TestInitRequiresBlobStoreWhenPersisting(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.Init(context.Background(), true, config.PersistConfig{}, nil), ErrBlobStoreNeeded)
}
