// Package timer schedules one-shot and periodic deadlines for signaling
// tasks. An expired timer is delivered to its owning task as a
// bus.TimerExpired message carrying the correlation payload given at arm time.
package timer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/logging"
)

// ID identifies an armed timer.
type ID uint64

// InactiveID marks a timer that is not running. It is never issued by Arm.
const InactiveID ID = 0

// MaxPayloadLen bounds the correlation payload copied into a timer.
const MaxPayloadLen = 16

type Recurrence int

const (
	OneShot Recurrence = iota
	Periodic
)

func (r Recurrence) String() string {
	if r == Periodic {
		return "periodic"
	}
	return "one_shot"
}

// ErrTimerSetupFailed is recoverable: callers fall back to InactiveID.
var ErrTimerSetupFailed = errors.New("timer setup failed")

// Sender delivers expiry messages. bus.Endpoint satisfies it.
type Sender interface {
	Send(ctx context.Context, dst bus.TaskID, instance bus.Instance, p bus.Payload) error
}

type entry struct {
	id       ID
	duration time.Duration
	rec      Recurrence
	owner    bus.TaskID
	instance bus.Instance
	payload  []byte
	t        *time.Timer
}

// Option configures a Service.
type Option func(*Service)

// WithMaxTimers limits how many timers may be pending at once.
func WithMaxTimers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTimers = n
		}
	}
}

// Service owns every pending timer of the process.
type Service struct {
	sender    Sender
	mu        sync.Mutex
	timers    map[ID]*entry
	lastID    ID
	maxTimers int
	stopped   bool
}

func New(sender Sender, opts ...Option) *Service {
	s := &Service{
		sender: sender,
		timers: make(map[ID]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm registers a deadline d from now. On expiry a TimerExpired message is
// sent to owner. Periodic timers keep firing every d until cancelled.
func (s *Service) Arm(ctx context.Context, d time.Duration, rec Recurrence, owner bus.TaskID, instance bus.Instance, payload []byte) (ID, error) {
	if d <= 0 {
		return InactiveID, fmt.Errorf("%w: non-positive duration %v", ErrTimerSetupFailed, d)
	}
	if len(payload) > MaxPayloadLen {
		return InactiveID, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrTimerSetupFailed, len(payload), MaxPayloadLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return InactiveID, fmt.Errorf("%w: service stopped", ErrTimerSetupFailed)
	}
	if s.maxTimers > 0 && len(s.timers) >= s.maxTimers {
		return InactiveID, fmt.Errorf("%w: %d timers pending", ErrTimerSetupFailed, len(s.timers))
	}

	s.lastID++
	e := &entry{
		id:       s.lastID,
		duration: d,
		rec:      rec,
		owner:    owner,
		instance: instance,
		payload:  append([]byte(nil), payload...),
	}
	e.t = time.AfterFunc(d, func() { s.fire(e) })
	s.timers[e.id] = e

	slog.DebugContext(logging.ContextWithTimerID(ctx, uint64(e.id)), "Timer armed",
		slog.Duration("duration", d),
		slog.String("recurrence", rec.String()),
		slog.String("owner", owner.String()),
	)
	return e.id, nil
}

func (s *Service) fire(e *entry) {
	s.mu.Lock()
	cur, ok := s.timers[e.id]
	if !ok || cur != e {
		// cancelled while the callback was being scheduled
		s.mu.Unlock()
		return
	}
	if e.rec == OneShot {
		delete(s.timers, e.id)
	} else {
		e.t.Reset(e.duration)
	}
	s.mu.Unlock()

	ctx := logging.ContextWithTimerID(context.Background(), uint64(e.id))
	msg := &bus.TimerExpired{
		TimerID: uint64(e.id),
		Payload: append([]byte(nil), e.payload...),
	}
	if err := s.sender.Send(ctx, e.owner, e.instance, msg); err != nil {
		slog.WarnContext(ctx, "Failed to deliver timer expiry",
			slog.String("owner", e.owner.String()),
			slog.Any("error", err),
		)
	}
}

// Cancel removes a pending timer. Unknown, fired and inactive ids are ignored.
func (s *Service) Cancel(id ID) {
	if id == InactiveID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[id]; ok {
		e.t.Stop()
		delete(s.timers, id)
	}
}

// Active returns the number of pending timers.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer; later Arm calls fail.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.timers {
		e.t.Stop()
		delete(s.timers, id)
	}
	s.stopped = true
}

// EncodeUEID packs a UE id as a timer correlation payload.
func EncodeUEID(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

// DecodeUEID is the inverse of EncodeUEID.
func DecodeUEID(p []byte) (uint32, bool) {
	if len(p) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(p), true
}
