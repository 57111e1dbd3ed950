package ue

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// GatewayBearerInfo is what the gateway side keeps per APN.
type GatewayBearerInfo struct {
	APN          string          `json:"apn"`
	PDNType      string          `json:"pdn_type"`
	PAA          string          `json:"paa"`
	ChargingID   uint32          `json:"charging_id"`
	AMBRUplink   decimal.Decimal `json:"apn_ambr_ul"`
	AMBRDownlink decimal.Decimal `json:"apn_ambr_dl"`
}

// APNTable maps access point names to gateway bearer metadata. It is
// destroyed exactly once, when its subscriber context is torn down.
type APNTable struct {
	entries   map[string]GatewayBearerInfo
	destroyed bool
}

func NewAPNTable() *APNTable {
	return &APNTable{entries: make(map[string]GatewayBearerInfo)}
}

func (t *APNTable) Put(info GatewayBearerInfo) error {
	if t.destroyed {
		return fmt.Errorf("%w: put %q into destroyed apn table", ErrInvariantViolation, info.APN)
	}
	t.entries[info.APN] = info
	return nil
}

func (t *APNTable) Get(apn string) (GatewayBearerInfo, bool) {
	info, ok := t.entries[apn]
	return info, ok
}

func (t *APNTable) Delete(apn string) {
	delete(t.entries, apn)
}

func (t *APNTable) Len() int {
	return len(t.entries)
}

func (t *APNTable) Destroyed() bool {
	return t.destroyed
}

// Entries returns the rows sorted by APN.
func (t *APNTable) Entries() []GatewayBearerInfo {
	out := make([]GatewayBearerInfo, 0, len(t.entries))
	for _, info := range t.entries {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APN < out[j].APN })
	return out
}

// Destroy releases every entry. A second call is an invariant violation.
func (t *APNTable) Destroy() error {
	if t.destroyed {
		return fmt.Errorf("%w: apn table destroyed twice", ErrInvariantViolation)
	}
	for k := range t.entries {
		delete(t.entries, k)
	}
	t.entries = nil
	t.destroyed = true
	return nil
}
