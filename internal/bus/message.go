package bus

import (
	"github.com/shopspring/decimal"
)

// Kind enumerates the message kinds carried on the bus.
type Kind int

const (
	KindUnknown Kind = iota
	KindContextModificationRequest
	KindContextModificationConfirm
	KindContextModificationFailure
	KindContextReleaseRequest
	KindSessionCreateRequest
	KindBearerReleaseRequest
	KindTimerExpired
	KindCSFBServiceRequest
	KindProcedureAborted
	KindCheckpointRequest
	KindTerminateTask
)

func (k Kind) String() string {
	switch k {
	case KindContextModificationRequest:
		return "S1AP_UE_CONTEXT_MODIFICATION_REQUEST"
	case KindContextModificationConfirm:
		return "S1AP_UE_CONTEXT_MODIFICATION_RESPONSE"
	case KindContextModificationFailure:
		return "S1AP_UE_CONTEXT_MODIFICATION_FAILURE"
	case KindContextReleaseRequest:
		return "S1AP_UE_CONTEXT_RELEASE_REQ"
	case KindSessionCreateRequest:
		return "S11_CREATE_SESSION_REQUEST"
	case KindBearerReleaseRequest:
		return "S11_BEARER_RELEASE_REQUEST"
	case KindTimerExpired:
		return "TIMER_HAS_EXPIRED"
	case KindCSFBServiceRequest:
		return "NAS_CSFB_SERVICE_REQUEST"
	case KindProcedureAborted:
		return "MME_APP_PROCEDURE_ABORTED"
	case KindCheckpointRequest:
		return "STATE_CHECKPOINT_REQUEST"
	case KindTerminateTask:
		return "TERMINATE_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Payload is the closed set of message bodies. Only types in this package
// implement it; consumers type-switch over the concrete pointer types.
type Payload interface {
	Kind() Kind
	payload()
}

// Message is the envelope moved through the bus. After Send the sender must
// not touch the payload again.
type Message struct {
	Source      TaskID
	Destination TaskID
	Instance    Instance
	Payload     Payload
}

// Kind is a shorthand for m.Payload.Kind().
func (m Message) Kind() Kind {
	if m.Payload == nil {
		return KindUnknown
	}
	return m.Payload.Kind()
}

// CSFBServiceType is the reason a subscriber falls back to the CS domain.
type CSFBServiceType int

const (
	CSFBServiceNone CSFBServiceType = iota
	CSFBServiceMOCall
	CSFBServiceMTCall
	CSFBServiceMOSMS
)

func (s CSFBServiceType) String() string {
	switch s {
	case CSFBServiceMOCall:
		return "mo_call"
	case CSFBServiceMTCall:
		return "mt_call"
	case CSFBServiceMOSMS:
		return "mo_sms"
	default:
		return "none"
	}
}

// CSFBIndicator values of the UE context modification request.
type CSFBIndicator int

const (
	CSFBIndicatorNone CSFBIndicator = iota
	CSFBRequired
	CSFBHighPriority
)

func (c CSFBIndicator) String() string {
	switch c {
	case CSFBRequired:
		return "CSFB_REQUIRED"
	case CSFBHighPriority:
		return "CSFB_HIGH_PRIORITY"
	default:
		return "NONE"
	}
}

// PresenceMask flags the optional IEs set on a modification request.
type PresenceMask uint8

const (
	LAIPresent PresenceMask = 1 << iota
	CSFBIndicatorPresent
)

// LAI is a location area identity.
type LAI struct {
	MCC string `json:"mcc"`
	MNC string `json:"mnc"`
	LAC uint16 `json:"lac"`
}

type ContextModificationRequest struct {
	MMEUEID       uint32
	ENBUEID       uint32
	Presence      PresenceMask
	LAI           LAI
	CSFBIndicator CSFBIndicator
}

type ContextModificationConfirm struct {
	MMEUEID uint32
	ENBUEID uint32
}

type ContextModificationFailure struct {
	MMEUEID uint32
	ENBUEID uint32
	Cause   string
}

type ContextReleaseRequest struct {
	MMEUEID uint32
	ENBUEID uint32
	Cause   string
}

// SessionCreateRequest carries what the core keeps of a created session:
// one PDN connection with its default bearer and the gateway-side APN entry.
type SessionCreateRequest struct {
	MMEUEID         uint32
	ENBUEID         uint32
	IMSI            string
	PDNID           uint8
	APN             string
	PDNType         string
	PAA             string
	ChargingID      uint32
	DefaultEBI      uint8
	QCI             uint8
	ARP             uint8
	S1UTEID         uint32
	S5TEID          uint32
	APNAMBRUplink   decimal.Decimal
	APNAMBRDownlink decimal.Decimal
}

type BearerReleaseRequest struct {
	MMEUEID uint32
	PDNID   uint8
	EBI     uint8
}

// TimerExpired is synthesized by the timer service.
type TimerExpired struct {
	TimerID uint64
	Payload []byte
}

// CSFBServiceRequest is the trigger for CS fallback of an attached subscriber.
type CSFBServiceRequest struct {
	MMEUEID     uint32
	ENBUEID     uint32
	ServiceType CSFBServiceType
	Emergency   bool
}

// ProcedureAborted tells the originating task that a procedure failed.
type ProcedureAborted struct {
	MMEUEID   uint32
	ENBUEID   uint32
	Procedure string
	Cause     string
}

type CheckpointRequest struct {
	Reason string
}

type TerminateTask struct{}

func (*ContextModificationRequest) Kind() Kind { return KindContextModificationRequest }
func (*ContextModificationConfirm) Kind() Kind { return KindContextModificationConfirm }
func (*ContextModificationFailure) Kind() Kind { return KindContextModificationFailure }
func (*ContextReleaseRequest) Kind() Kind      { return KindContextReleaseRequest }
func (*SessionCreateRequest) Kind() Kind       { return KindSessionCreateRequest }
func (*BearerReleaseRequest) Kind() Kind       { return KindBearerReleaseRequest }
func (*TimerExpired) Kind() Kind               { return KindTimerExpired }
func (*CSFBServiceRequest) Kind() Kind         { return KindCSFBServiceRequest }
func (*ProcedureAborted) Kind() Kind           { return KindProcedureAborted }
func (*CheckpointRequest) Kind() Kind          { return KindCheckpointRequest }
func (*TerminateTask) Kind() Kind              { return KindTerminateTask }

func (*ContextModificationRequest) payload() {}
func (*ContextModificationConfirm) payload() {}
func (*ContextModificationFailure) payload() {}
func (*ContextReleaseRequest) payload()      {}
func (*SessionCreateRequest) payload()       {}
func (*BearerReleaseRequest) payload()       {}
func (*TimerExpired) payload()               {}
func (*CSFBServiceRequest) payload()         {}
func (*ProcedureAborted) payload()           {}
func (*CheckpointRequest) payload()          {}
func (*TerminateTask) payload()              {}
