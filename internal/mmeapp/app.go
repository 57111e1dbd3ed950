// Package mmeapp is the MME application task. It owns the subscriber context
// store of the process and drives the procedures that run against it.
package mmeapp

import (
	"context"
	"log/slog"
	"time"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/config"
	"github.com/thrillee/epccore/internal/logging"
	"github.com/thrillee/epccore/internal/timer"
	"github.com/thrillee/epccore/internal/ue"
	"github.com/thrillee/epccore/pkg/errormapper"
)

// Sender posts messages to other tasks. bus.Endpoint satisfies it.
type Sender interface {
	Send(ctx context.Context, dst bus.TaskID, instance bus.Instance, p bus.Payload) error
}

// Timers is the part of timer.Service the task uses.
type Timers interface {
	Arm(ctx context.Context, d time.Duration, rec timer.Recurrence, owner bus.TaskID, instance bus.Instance, payload []byte) (timer.ID, error)
	Cancel(id timer.ID)
}

// Checkpointer persists the store on request.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

type App struct {
	store        *ue.Store
	sender       Sender
	timers       Timers
	mmeConfig    *config.Shared[config.MMEConfig]
	checkpointer Checkpointer
	procs        map[uint32]*csfbProcedure
}

// NewApp wires the task to its store. Destroying a subscriber through the
// store cancels its guard timers on timers.
func NewApp(store *ue.Store, sender Sender, timers Timers, mmeConfig *config.Shared[config.MMEConfig], checkpointer Checkpointer) *App {
	store.SetTimerCanceller(timers)
	return &App{
		store:        store,
		sender:       sender,
		timers:       timers,
		mmeConfig:    mmeConfig,
		checkpointer: checkpointer,
		procs:        make(map[uint32]*csfbProcedure),
	}
}

func (a *App) Store() *ue.Store {
	return a.store
}

// Handle is the event loop callback of the MME task.
func (a *App) Handle(ctx context.Context, m bus.Message) {
	switch p := m.Payload.(type) {
	case *bus.CSFBServiceRequest:
		a.onCSFBServiceRequest(logging.ContextWithUE(ctx, p.MMEUEID, p.ENBUEID), p)
	case *bus.ContextModificationConfirm:
		a.onModificationConfirm(logging.ContextWithUE(ctx, p.MMEUEID, p.ENBUEID), p)
	case *bus.ContextModificationFailure:
		a.onModificationFailure(logging.ContextWithUE(ctx, p.MMEUEID, p.ENBUEID), p)
	case *bus.TimerExpired:
		a.onTimerExpired(logging.ContextWithTimerID(ctx, p.TimerID), p)
	case *bus.ContextReleaseRequest:
		a.onContextRelease(logging.ContextWithUE(ctx, p.MMEUEID, p.ENBUEID), p)
	case *bus.SessionCreateRequest:
		a.onSessionCreate(logging.ContextWithUE(ctx, p.MMEUEID, p.ENBUEID), p)
	case *bus.BearerReleaseRequest:
		a.onBearerRelease(logging.ContextWithMMEUEID(ctx, p.MMEUEID), p)
	case *bus.CheckpointRequest:
		a.onCheckpointRequest(ctx, p)
	default:
		slog.WarnContext(ctx, "Unhandled message kind",
			slog.String("kind", m.Kind().String()),
			slog.String("source", m.Source.String()),
		)
	}
}

func (a *App) onCSFBServiceRequest(ctx context.Context, p *bus.CSFBServiceRequest) {
	sc, ok := a.store.Find(ue.IDs{MMEUEID: p.MMEUEID, ENBUEID: p.ENBUEID})
	if !ok {
		slog.WarnContext(ctx, "CS fallback requested for unknown subscriber")
		return
	}
	sc.CSFB = &ue.CSFBContext{ServiceType: p.ServiceType, Emergency: p.Emergency}
	if err := a.StartCSFBModification(ctx, sc.IDs); err != nil {
		slog.WarnContext(ctx, "CS fallback not started", slog.Any("error", err))
	}
}

func (a *App) onContextRelease(ctx context.Context, p *bus.ContextReleaseRequest) {
	ids := ue.IDs{MMEUEID: p.MMEUEID, ENBUEID: p.ENBUEID}
	sc, ok := a.store.Find(ids)
	if !ok {
		slog.DebugContext(ctx, "Release for unknown subscriber ignored")
		return
	}
	mmeID := sc.IDs.MMEUEID
	if err := a.store.Destroy(ids); err != nil {
		slog.ErrorContext(ctx, "Subscriber teardown failed",
			slog.String("error_code", errormapper.Classify(err)),
			slog.Any("error", err),
		)
	}
	delete(a.procs, mmeID)
	slog.InfoContext(ctx, "Subscriber context released", slog.String("cause", p.Cause))
}

func (a *App) onSessionCreate(ctx context.Context, p *bus.SessionCreateRequest) {
	sc, created := a.store.GetOrCreate(ue.IDs{MMEUEID: p.MMEUEID, ENBUEID: p.ENBUEID})
	if p.IMSI != "" {
		sc.IMSI = p.IMSI
	}

	pdn, ok := sc.PDN(p.PDNID)
	newPDN := !ok
	if newPDN {
		var err error
		if pdn, err = sc.AddPDN(p.PDNID, p.APN); err != nil {
			slog.ErrorContext(ctx, "Failed to add PDN connection", slog.Any("error", err))
			a.discardCreated(ctx, sc, created)
			return
		}
	}
	err := a.store.AddBearer(pdn, &ue.Bearer{
		EBI:     p.DefaultEBI,
		QoS:     ue.QoS{QCI: p.QCI, ARP: p.ARP},
		S1UTEID: p.S1UTEID,
		S5TEID:  p.S5TEID,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to add default bearer",
			slog.Int("ebi", int(p.DefaultEBI)),
			slog.String("error_code", errormapper.Classify(err)),
			slog.Any("error", err),
		)
		if newPDN {
			sc.ReleasePDN(p.PDNID)
		}
		a.discardCreated(ctx, sc, created)
		return
	}
	err = sc.APNs.Put(ue.GatewayBearerInfo{
		APN:          p.APN,
		PDNType:      p.PDNType,
		PAA:          p.PAA,
		ChargingID:   p.ChargingID,
		AMBRUplink:   p.APNAMBRUplink,
		AMBRDownlink: p.APNAMBRDownlink,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record APN entry", slog.Any("error", err))
		return
	}
	slog.InfoContext(ctx, "Session created",
		slog.Bool("new_subscriber", created),
		slog.Int("pdn_id", int(p.PDNID)),
		slog.String("apn", p.APN),
		slog.Int("ebi", int(p.DefaultEBI)),
	)
}

// discardCreated drops a subscriber that a failed session setup created.
func (a *App) discardCreated(ctx context.Context, sc *ue.SubscriberContext, created bool) {
	if !created {
		return
	}
	if err := a.store.Destroy(sc.IDs); err != nil {
		slog.ErrorContext(ctx, "Failed to discard subscriber", slog.Any("error", err))
	}
}

func (a *App) onBearerRelease(ctx context.Context, p *bus.BearerReleaseRequest) {
	sc, ok := a.store.FindByMMEUEID(p.MMEUEID)
	if !ok {
		slog.DebugContext(ctx, "Bearer release for unknown subscriber ignored")
		return
	}
	pdn, ok := sc.PDN(p.PDNID)
	if !ok {
		slog.DebugContext(ctx, "Bearer release for unknown PDN ignored", slog.Int("pdn_id", int(p.PDNID)))
		return
	}
	released := a.store.ReleaseBearer(pdn, p.EBI)
	slog.InfoContext(ctx, "Bearer release processed",
		slog.Int("pdn_id", int(p.PDNID)),
		slog.Int("ebi", int(p.EBI)),
		slog.Bool("released", released),
	)
}

func (a *App) onCheckpointRequest(ctx context.Context, p *bus.CheckpointRequest) {
	if a.checkpointer == nil {
		return
	}
	if err := a.checkpointer.Checkpoint(ctx); err != nil {
		slog.WarnContext(ctx, "Checkpoint failed, continuing in memory",
			slog.String("reason", p.Reason),
			slog.String("error_code", errormapper.Classify(err)),
			slog.Any("error", err),
		)
	}
}

var _ bus.Handler = (*App)(nil)
