package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckpointResponse describes the stored checkpoint.
type CheckpointResponse struct {
	CheckpointID string    `json:"checkpoint_id"`
	InstanceID   string    `json:"instance_id"`
	TakenAt      time.Time `json:"taken_at"`
	Version      int       `json:"version"`
	Subscribers  int       `json:"subscribers"`
	PDNs         int       `json:"pdns"`
	Bearers      int       `json:"bearers"`
	APNEntries   int       `json:"apn_entries"`
}

// SubscriberSummary is one row of the subscriber list.
type SubscriberSummary struct {
	MMEUEID     uint32 `json:"mme_ue_id"`
	ENBUEID     uint32 `json:"enb_ue_id"`
	IMSI        string `json:"imsi,omitempty"`
	PDNCount    int    `json:"pdn_count"`
	BearerCount int    `json:"bearer_count"`
	CSFBService string `json:"csfb_service,omitempty"`
}

type BearerResponse struct {
	EBI         uint8           `json:"ebi"`
	QCI         uint8           `json:"qci"`
	ARP         uint8           `json:"arp"`
	MBRUplink   decimal.Decimal `json:"mbr_ul_kbps"`
	MBRDownlink decimal.Decimal `json:"mbr_dl_kbps"`
	GBRUplink   decimal.Decimal `json:"gbr_ul_kbps"`
	GBRDownlink decimal.Decimal `json:"gbr_dl_kbps"`
	S1UTEID     uint32          `json:"s1u_teid"`
	S5TEID      uint32          `json:"s5_teid"`
}

type PDNResponse struct {
	ID      uint8            `json:"id"`
	APN     string           `json:"apn"`
	Bearers []BearerResponse `json:"bearers"`
}

type APNEntryResponse struct {
	APN          string          `json:"apn"`
	PDNType      string          `json:"pdn_type"`
	PAA          string          `json:"paa"`
	ChargingID   uint32          `json:"charging_id"`
	AMBRUplink   decimal.Decimal `json:"apn_ambr_ul_kbps"`
	AMBRDownlink decimal.Decimal `json:"apn_ambr_dl_kbps"`
}

// SubscriberDetailResponse is the full tree of one subscriber.
type SubscriberDetailResponse struct {
	SubscriberSummary
	CSFBEmergency bool               `json:"csfb_emergency"`
	PDNs          []PDNResponse      `json:"pdns"`
	APNTable      []APNEntryResponse `json:"apn_table"`
	CheckpointID  string             `json:"checkpoint_id"`
}
