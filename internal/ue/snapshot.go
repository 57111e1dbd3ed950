package ue

import (
	"fmt"
)

// Snapshot is the serializable form of a Store. Guard timers are process
// local and are not part of it.
type Snapshot struct {
	Subscribers []SubscriberSnapshot `json:"subscribers"`
}

type SubscriberSnapshot struct {
	IDs  IDs                 `json:"ids"`
	IMSI string              `json:"imsi,omitempty"`
	PDNs []PDNSnapshot       `json:"pdns"`
	CSFB *CSFBContext        `json:"csfb,omitempty"`
	APNs []GatewayBearerInfo `json:"apn_table"`
}

type PDNSnapshot struct {
	ID      uint8    `json:"id"`
	APN     string   `json:"apn"`
	Bearers []Bearer `json:"bearers"`
}

// Snapshot copies the store tree. The copy shares nothing with the store.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{Subscribers: make([]SubscriberSnapshot, 0, len(s.byMME))}
	s.Range(func(sc *SubscriberContext) bool {
		sub := SubscriberSnapshot{
			IDs:  sc.IDs,
			IMSI: sc.IMSI,
			PDNs: make([]PDNSnapshot, 0, len(sc.PDNs)),
			APNs: []GatewayBearerInfo{},
		}
		for _, p := range sc.PDNs {
			ps := PDNSnapshot{ID: p.ID, APN: p.APN, Bearers: make([]Bearer, 0, len(p.Bearers))}
			for _, b := range p.Bearers {
				ps.Bearers = append(ps.Bearers, *b)
			}
			sub.PDNs = append(sub.PDNs, ps)
		}
		if sc.CSFB != nil {
			csfb := *sc.CSFB
			sub.CSFB = &csfb
		}
		if sc.APNs != nil {
			sub.APNs = sc.APNs.Entries()
		}
		snap.Subscribers = append(snap.Subscribers, sub)
		return true
	})
	return snap
}

// Restore builds a fresh store from snap. Duplicate subscribers, PDNs or
// bearers in the snapshot are rejected.
func Restore(snap Snapshot, opts ...StoreOption) (*Store, error) {
	s := NewStore(opts...)
	for _, sub := range snap.Subscribers {
		sc, created := s.GetOrCreate(sub.IDs)
		if !created {
			return nil, fmt.Errorf("restore subscriber %06X: duplicate entry", sub.IDs.MMEUEID)
		}
		sc.IMSI = sub.IMSI
		if sub.CSFB != nil {
			csfb := *sub.CSFB
			sc.CSFB = &csfb
		}
		for _, ps := range sub.PDNs {
			pdn, err := sc.AddPDN(ps.ID, ps.APN)
			if err != nil {
				return nil, fmt.Errorf("restore subscriber %06X: %w", sub.IDs.MMEUEID, err)
			}
			for i := range ps.Bearers {
				b := ps.Bearers[i]
				if err := s.AddBearer(pdn, &b); err != nil {
					return nil, fmt.Errorf("restore subscriber %06X pdn %d: %w", sub.IDs.MMEUEID, ps.ID, err)
				}
			}
		}
		for _, info := range sub.APNs {
			if err := sc.APNs.Put(info); err != nil {
				return nil, fmt.Errorf("restore subscriber %06X: %w", sub.IDs.MMEUEID, err)
			}
		}
	}
	return s, nil
}
