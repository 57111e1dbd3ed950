package ue

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/timer"
)

var (
	// ErrInvariantViolation flags a sequencing bug (double destroy and the
	// like). It is reported loudly and never retried.
	ErrInvariantViolation = errors.New("context invariant violation")
	ErrDuplicatePDN       = errors.New("pdn connection already exists")
	ErrDuplicateBearer    = errors.New("bearer already exists")
	ErrInvalidEBI         = errors.New("invalid eps bearer id")
)

const (
	MinEBI uint8 = 5
	MaxEBI uint8 = 15
)

// UnsetMMEUEID marks a message that carries only the eNB UE id.
const UnsetMMEUEID uint32 = 0

// IDs are the two independent correlation ids of a subscriber.
type IDs struct {
	MMEUEID uint32 `json:"mme_ue_id"`
	ENBUEID uint32 `json:"enb_ue_id"`
}

// ProcedureKind keys the per-procedure guard timers of a subscriber.
type ProcedureKind string

const (
	ProcedureUEContextModification ProcedureKind = "ue_context_modification"
)

// QoS of a bearer. Bit rates are kbps.
type QoS struct {
	QCI         uint8           `json:"qci"`
	ARP         uint8           `json:"arp"`
	MBRUplink   decimal.Decimal `json:"mbr_ul"`
	MBRDownlink decimal.Decimal `json:"mbr_dl"`
	GBRUplink   decimal.Decimal `json:"gbr_ul"`
	GBRDownlink decimal.Decimal `json:"gbr_dl"`
}

// Bearer is one EPS bearer of a PDN connection.
type Bearer struct {
	EBI     uint8  `json:"ebi"`
	QoS     QoS    `json:"qos"`
	S1UTEID uint32 `json:"s1u_teid"`
	S5TEID  uint32 `json:"s5_teid"`
}

// PDNConnection owns its bearers; they never outlive it.
type PDNConnection struct {
	ID      uint8
	APN     string
	Bearers []*Bearer
}

// Bearer returns the bearer with ebi, if present.
func (p *PDNConnection) Bearer(ebi uint8) (*Bearer, bool) {
	for _, b := range p.Bearers {
		if b.EBI == ebi {
			return b, true
		}
	}
	return nil, false
}

func (p *PDNConnection) addBearer(b *Bearer) error {
	if b == nil || b.EBI < MinEBI || b.EBI > MaxEBI {
		return ErrInvalidEBI
	}
	if _, ok := p.Bearer(b.EBI); ok {
		return fmt.Errorf("%w: ebi %d on pdn %d", ErrDuplicateBearer, b.EBI, p.ID)
	}
	p.Bearers = append(p.Bearers, b)
	return nil
}

func (p *PDNConnection) releaseBearer(ebi uint8) bool {
	for i, b := range p.Bearers {
		if b.EBI == ebi {
			p.Bearers = append(p.Bearers[:i], p.Bearers[i+1:]...)
			return true
		}
	}
	return false
}

func (p *PDNConnection) release() {
	for i := range p.Bearers {
		p.Bearers[i] = nil
	}
	p.Bearers = nil
	p.APN = ""
}

// CSFBContext is the CS-fallback sub-context of a subscriber.
type CSFBContext struct {
	ServiceType bus.CSFBServiceType `json:"service_type"`
	// Emergency is consumed by the first modification request that reads it.
	Emergency bool `json:"emergency"`
}

// SubscriberContext is the per-user session root.
type SubscriberContext struct {
	IDs    IDs
	IMSI   string
	PDNs   []*PDNConnection
	CSFB   *CSFBContext
	Timers map[ProcedureKind]timer.ID
	// APNs is the gateway-side half; nil once the context is torn down.
	APNs *APNTable
}

func newSubscriberContext(ids IDs) *SubscriberContext {
	return &SubscriberContext{
		IDs:    ids,
		Timers: make(map[ProcedureKind]timer.ID),
		APNs:   NewAPNTable(),
	}
}

// PDN returns the PDN connection with id.
func (sc *SubscriberContext) PDN(id uint8) (*PDNConnection, bool) {
	for _, p := range sc.PDNs {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// PDNByAPN returns the first PDN connection to apn.
func (sc *SubscriberContext) PDNByAPN(apn string) (*PDNConnection, bool) {
	for _, p := range sc.PDNs {
		if p.APN == apn {
			return p, true
		}
	}
	return nil, false
}

// AddPDN creates a PDN connection owned by sc.
func (sc *SubscriberContext) AddPDN(id uint8, apn string) (*PDNConnection, error) {
	if _, ok := sc.PDN(id); ok {
		return nil, fmt.Errorf("%w: pdn %d", ErrDuplicatePDN, id)
	}
	p := &PDNConnection{ID: id, APN: apn}
	sc.PDNs = append(sc.PDNs, p)
	return p, nil
}

// ReleasePDN tears down one PDN connection and all of its bearers.
func (sc *SubscriberContext) ReleasePDN(id uint8) bool {
	for i, p := range sc.PDNs {
		if p.ID == id {
			p.release()
			sc.PDNs = append(sc.PDNs[:i], sc.PDNs[i+1:]...)
			return true
		}
	}
	return false
}

// GuardTimer returns the live timer of kind, or timer.InactiveID.
func (sc *SubscriberContext) GuardTimer(kind ProcedureKind) timer.ID {
	if id, ok := sc.Timers[kind]; ok {
		return id
	}
	return timer.InactiveID
}

// SetGuardTimer records id for kind; InactiveID clears the entry.
func (sc *SubscriberContext) SetGuardTimer(kind ProcedureKind, id timer.ID) {
	if id == timer.InactiveID {
		delete(sc.Timers, kind)
		return
	}
	sc.Timers[kind] = id
}

// TimerKind finds which procedure owns timer id.
func (sc *SubscriberContext) TimerKind(id timer.ID) (ProcedureKind, bool) {
	if id == timer.InactiveID {
		return "", false
	}
	for k, v := range sc.Timers {
		if v == id {
			return k, true
		}
	}
	return "", false
}

// teardown walks the tree: timers, every PDN with its bearers, then the APN
// table exactly once.
func (sc *SubscriberContext) teardown(c TimerCanceller) error {
	kinds := make([]string, 0, len(sc.Timers))
	for k := range sc.Timers {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		if c != nil {
			c.Cancel(sc.Timers[ProcedureKind(k)])
		}
		delete(sc.Timers, ProcedureKind(k))
	}

	for _, p := range sc.PDNs {
		p.release()
	}
	sc.PDNs = nil
	sc.CSFB = nil

	if sc.APNs == nil {
		return nil
	}
	err := sc.APNs.Destroy()
	sc.APNs = nil
	return err
}
