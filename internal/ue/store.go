// Package ue holds the per-subscriber session tree of the core:
// subscriber context, PDN connections, EPS bearers and the gateway APN
// table. A Store is owned by a single task and is never shared; none of
// its operations block or perform I/O.
package ue

import (
	"fmt"
	"sort"

	"github.com/thrillee/epccore/internal/timer"
)

// TimerCanceller lets Destroy stop the guard timers of a context.
// *timer.Service satisfies it.
type TimerCanceller interface {
	Cancel(id timer.ID)
}

// Stats counts what a store currently owns.
type Stats struct {
	Subscribers int `json:"subscribers"`
	PDNs        int `json:"pdns"`
	Bearers     int `json:"bearers"`
	APNEntries  int `json:"apn_entries"`
}

type Store struct {
	byMME  map[uint32]*SubscriberContext
	byENB  map[uint32]*SubscriberContext
	timers TimerCanceller
}

type StoreOption func(*Store)

func WithTimerCanceller(c TimerCanceller) StoreOption {
	return func(s *Store) {
		s.timers = c
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byMME: make(map[uint32]*SubscriberContext),
		byENB: make(map[uint32]*SubscriberContext),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTimerCanceller replaces the canceller used on Destroy.
func (s *Store) SetTimerCanceller(c TimerCanceller) {
	s.timers = c
}

// GetOrCreate returns the context for ids, creating and indexing it when no
// context is known under the MME UE id.
func (s *Store) GetOrCreate(ids IDs) (*SubscriberContext, bool) {
	if sc, ok := s.byMME[ids.MMEUEID]; ok {
		if sc.IDs.ENBUEID != ids.ENBUEID {
			// the radio side re-assigned its id
			if s.byENB[sc.IDs.ENBUEID] == sc {
				delete(s.byENB, sc.IDs.ENBUEID)
			}
			sc.IDs.ENBUEID = ids.ENBUEID
			s.byENB[ids.ENBUEID] = sc
		}
		return sc, false
	}
	sc := newSubscriberContext(ids)
	s.byMME[ids.MMEUEID] = sc
	s.byENB[ids.ENBUEID] = sc
	return sc, true
}

// Find looks a context up by MME UE id. The eNB UE id is only consulted
// when the MME UE id is unset, since eNB ids are unique per eNB alone.
func (s *Store) Find(ids IDs) (*SubscriberContext, bool) {
	if ids.MMEUEID != UnsetMMEUEID {
		sc, ok := s.byMME[ids.MMEUEID]
		return sc, ok
	}
	sc, ok := s.byENB[ids.ENBUEID]
	return sc, ok
}

func (s *Store) FindByMMEUEID(id uint32) (*SubscriberContext, bool) {
	sc, ok := s.byMME[id]
	return sc, ok
}

func (s *Store) FindByENBUEID(id uint32) (*SubscriberContext, bool) {
	sc, ok := s.byENB[id]
	return sc, ok
}

// Destroy unindexes the context for ids and tears its tree down: guard
// timers, PDN connections with their bearers, then the APN table. Destroying
// an unknown context is a no-op.
func (s *Store) Destroy(ids IDs) error {
	sc, ok := s.Find(ids)
	if !ok {
		return nil
	}
	if s.byMME[sc.IDs.MMEUEID] == sc {
		delete(s.byMME, sc.IDs.MMEUEID)
	}
	if s.byENB[sc.IDs.ENBUEID] == sc {
		delete(s.byENB, sc.IDs.ENBUEID)
	}
	if err := sc.teardown(s.timers); err != nil {
		return fmt.Errorf("destroy subscriber %06X: %w", sc.IDs.MMEUEID, err)
	}
	return nil
}

// AddBearer attaches b to pdn. The EBI must be in 5..15 and unused on pdn.
func (s *Store) AddBearer(pdn *PDNConnection, b *Bearer) error {
	if pdn == nil {
		return fmt.Errorf("%w: nil pdn connection", ErrInvariantViolation)
	}
	return pdn.addBearer(b)
}

// ReleaseBearer removes bearer ebi from pdn. It reports whether a bearer was
// removed; a repeated release is a no-op.
func (s *Store) ReleaseBearer(pdn *PDNConnection, ebi uint8) bool {
	if pdn == nil {
		return false
	}
	return pdn.releaseBearer(ebi)
}

// Range calls fn for every context in ascending MME UE id order until fn
// returns false.
func (s *Store) Range(fn func(*SubscriberContext) bool) {
	for _, id := range s.mmeIDs() {
		if !fn(s.byMME[id]) {
			return
		}
	}
}

func (s *Store) Len() int {
	return len(s.byMME)
}

func (s *Store) Stats() Stats {
	st := Stats{Subscribers: len(s.byMME)}
	for _, sc := range s.byMME {
		st.PDNs += len(sc.PDNs)
		for _, p := range sc.PDNs {
			st.Bearers += len(p.Bearers)
		}
		if sc.APNs != nil {
			st.APNEntries += sc.APNs.Len()
		}
	}
	return st
}

// DestroyAll tears down every context, stopping at the first invariant
// violation.
func (s *Store) DestroyAll() error {
	for _, id := range s.mmeIDs() {
		sc := s.byMME[id]
		if err := s.Destroy(sc.IDs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) mmeIDs() []uint32 {
	ids := make([]uint32, 0, len(s.byMME))
	for id := range s.byMME {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
