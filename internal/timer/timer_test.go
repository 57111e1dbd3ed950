package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrillee/epccore/internal/bus"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*bus.TimerExpired
	dst  []bus.TaskID
	err  error
}

func (r *recordingSender) Send(_ context.Context, dst bus.TaskID, _ bus.Instance, p bus.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, p.(*bus.TimerExpired))
	r.dst = append(r.dst, dst)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestOneShotFiresOnceWithPayload(t *testing.T) {
	sender := &recordingSender{}
	s := New(sender)
	ctx := context.Background()

	id, err := s.Arm(ctx, 10*time.Millisecond, OneShot, bus.TaskMMEApp, bus.InstanceDefault, EncodeUEID(7))
	require.NoError(t, err)
	assert.NotEqual(t, InactiveID, id)
	assert.Equal(t, 1, s.Active())

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, 0, s.Active())

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, uint64(id), sender.sent[0].TimerID)
	assert.Equal(t, bus.TaskMMEApp, sender.dst[0])
	ueID, ok := DecodeUEID(sender.sent[0].Payload)
	require.True(t, ok)
	assert.Equal(t, uint32(7), ueID)
}

func TestPeriodicRearmsUntilCancelled(t *testing.T) {
	sender := &recordingSender{}
	s := New(sender)

	id, err := s.Arm(context.Background(), 5*time.Millisecond, Periodic, bus.TaskMMEApp, bus.InstanceDefault, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sender.count() >= 3 }, time.Second, 2*time.Millisecond)

	s.Cancel(id)
	assert.Equal(t, 0, s.Active())
	settled := sender.count()
	time.Sleep(30 * time.Millisecond)
	// one expiry may already have been in flight when Cancel ran
	assert.LessOrEqual(t, sender.count(), settled+1)
}

func TestCancelBeforeExpiry(t *testing.T) {
	sender := &recordingSender{}
	s := New(sender)

	id, err := s.Arm(context.Background(), 20*time.Millisecond, OneShot, bus.TaskMMEApp, bus.InstanceDefault, nil)
	require.NoError(t, err)
	s.Cancel(id)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sender.count())
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New(&recordingSender{})
	id, err := s.Arm(context.Background(), time.Hour, OneShot, bus.TaskMMEApp, bus.InstanceDefault, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.Cancel(id)
		s.Cancel(id)
		s.Cancel(InactiveID)
		s.Cancel(ID(12345))
	})
	assert.Equal(t, 0, s.Active())
}

func TestArmFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		svc     func() *Service
		d       time.Duration
		payload []byte
	}{
		{
			name: "zero duration",
			svc:  func() *Service { return New(&recordingSender{}) },
			d:    0,
		},
		{
			name:    "payload too large",
			svc:     func() *Service { return New(&recordingSender{}) },
			d:       time.Second,
			payload: make([]byte, MaxPayloadLen+1),
		},
		{
			name: "capacity exhausted",
			svc: func() *Service {
				s := New(&recordingSender{}, WithMaxTimers(1))
				_, err := s.Arm(ctx, time.Hour, OneShot, bus.TaskMMEApp, bus.InstanceDefault, nil)
				require.NoError(t, err)
				return s
			},
			d: time.Second,
		},
		{
			name: "stopped",
			svc: func() *Service {
				s := New(&recordingSender{})
				s.Stop()
				return s
			},
			d: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.svc().Arm(ctx, tt.d, OneShot, bus.TaskMMEApp, bus.InstanceDefault, tt.payload)
			assert.ErrorIs(t, err, ErrTimerSetupFailed)
			assert.Equal(t, InactiveID, id)
		})
	}
}

func TestDeliveryFailureIsNotFatal(t *testing.T) {
	sender := &recordingSender{err: errors.New("queue gone")}
	s := New(sender)
	_, err := s.Arm(context.Background(), time.Millisecond, OneShot, bus.TaskMMEApp, bus.InstanceDefault, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, time.Millisecond)
}

func TestExpiryReachesOwnerThroughBus(t *testing.T) {
	b := bus.New()
	b.Register(bus.TaskMMEApp)
	s := New(b.Endpoint(bus.TaskTimer))

	id, err := s.Arm(context.Background(), 5*time.Millisecond, OneShot, bus.TaskMMEApp, bus.InstanceDefault, EncodeUEID(42))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := b.Receive(ctx, bus.TaskMMEApp)
	require.NoError(t, err)
	assert.Equal(t, bus.TaskTimer, m.Source)
	expired, ok := m.Payload.(*bus.TimerExpired)
	require.True(t, ok)
	assert.Equal(t, uint64(id), expired.TimerID)
}

func TestDecodeUEIDRejectsBadLength(t *testing.T) {
	_, ok := DecodeUEID([]byte{1, 2, 3})
	assert.False(t, ok)
}
