package mmeapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thrillee/epccore/internal/bus"
	"github.com/thrillee/epccore/internal/config"
	"github.com/thrillee/epccore/internal/logging"
	"github.com/thrillee/epccore/internal/timer"
	"github.com/thrillee/epccore/internal/ue"
	"github.com/thrillee/epccore/pkg/codes"
	"github.com/thrillee/epccore/pkg/errormapper"
)

var (
	ErrUnknownSubscriber   = errors.New("unknown subscriber")
	ErrProcedureInProgress = errors.New("procedure already in progress")
)

// CSFBState is the state of the UE context modification procedure run for
// CS fallback.
type CSFBState int

const (
	CSFBIdle CSFBState = iota
	CSFBModificationRequested
	CSFBCompleted
	CSFBAbortedOnTimeout
	CSFBAbortedOnFailure
)

func (s CSFBState) String() string {
	switch s {
	case CSFBModificationRequested:
		return codes.ProcStatusModificationRequested
	case CSFBCompleted:
		return codes.ProcStatusCompleted
	case CSFBAbortedOnTimeout:
		return codes.ProcStatusAbortedOnTimeout
	case CSFBAbortedOnFailure:
		return codes.ProcStatusAbortedOnFailure
	default:
		return codes.ProcStatusIdle
	}
}

// Terminal reports whether no further transition can happen.
func (s CSFBState) Terminal() bool {
	return s == CSFBCompleted || s == CSFBAbortedOnTimeout || s == CSFBAbortedOnFailure
}

const procedureName = "UE_CONTEXT_MODIFICATION_CSFB"

type csfbProcedure struct {
	state CSFBState
	guard timer.ID
}

// buildModificationRequest fills the request from the subscriber context.
// LAI and indicator are only present for MO and MT calls. The emergency
// flag is left set; it is cleared once the request has been sent.
func buildModificationRequest(sc *ue.SubscriberContext, mme *config.Shared[config.MMEConfig]) *bus.ContextModificationRequest {
	req := &bus.ContextModificationRequest{
		MMEUEID: sc.IDs.MMEUEID,
		ENBUEID: sc.IDs.ENBUEID,
	}
	if sc.CSFB == nil {
		return req
	}
	switch sc.CSFB.ServiceType {
	case bus.CSFBServiceMOCall, bus.CSFBServiceMTCall:
	default:
		return req
	}

	mme.Read(func(c config.MMEConfig) {
		req.LAI = c.LAI
	})
	req.Presence |= bus.LAIPresent

	req.Presence |= bus.CSFBIndicatorPresent
	if sc.CSFB.Emergency {
		req.CSFBIndicator = bus.CSFBHighPriority
	} else {
		req.CSFBIndicator = bus.CSFBRequired
	}
	return req
}

// StartCSFBModification moves the subscriber's procedure from idle (or a
// finished run) to ModificationRequested: the request goes to S1AP, then
// the guard timer is armed. A guard that cannot be armed is recorded as
// inactive and the request stays sent.
func (a *App) StartCSFBModification(ctx context.Context, ids ue.IDs) error {
	sc, ok := a.store.Find(ids)
	if !ok {
		return fmt.Errorf("%w: mme_ue_id %06X", ErrUnknownSubscriber, ids.MMEUEID)
	}
	ctx = logging.ContextWithUE(ctx, sc.IDs.MMEUEID, sc.IDs.ENBUEID)

	proc := a.procs[sc.IDs.MMEUEID]
	if proc != nil && proc.state == CSFBModificationRequested {
		slog.WarnContext(ctx, "UE context modification already in progress")
		return ErrProcedureInProgress
	}

	req := buildModificationRequest(sc, a.mmeConfig)
	if err := a.sender.Send(ctx, bus.TaskS1AP, bus.InstanceDefault, req); err != nil {
		slog.ErrorContext(ctx, "Failed to send UE context modification request",
			slog.String("error_code", errormapper.Classify(err)),
			slog.Any("error", err),
		)
		return fmt.Errorf("send context modification request: %w", err)
	}
	if req.CSFBIndicator == bus.CSFBHighPriority {
		sc.CSFB.Emergency = false
	}

	proc = &csfbProcedure{state: CSFBModificationRequested}
	a.procs[sc.IDs.MMEUEID] = proc

	var d time.Duration
	a.mmeConfig.Read(func(c config.MMEConfig) {
		d = c.UEContextModificationTimer
	})
	id, err := a.timers.Arm(ctx, d, timer.OneShot, bus.TaskMMEApp, bus.InstanceDefault, timer.EncodeUEID(sc.IDs.MMEUEID))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to start UE context modification timer",
			slog.String("error_code", errormapper.Classify(err)),
			slog.Any("error", err),
		)
		id = timer.InactiveID
	}
	proc.guard = id
	sc.SetGuardTimer(ue.ProcedureUEContextModification, id)

	slog.InfoContext(logging.ContextWithTimerID(ctx, uint64(id)), "UE context modification requested",
		slog.String("csfb_indicator", req.CSFBIndicator.String()),
		slog.Bool("lai_present", req.Presence&bus.LAIPresent != 0),
	)
	return nil
}

func (a *App) onModificationConfirm(ctx context.Context, m *bus.ContextModificationConfirm) {
	sc, ok := a.store.Find(ue.IDs{MMEUEID: m.MMEUEID, ENBUEID: m.ENBUEID})
	if !ok {
		slog.WarnContext(ctx, "Modification confirm for unknown subscriber")
		return
	}
	proc := a.procs[sc.IDs.MMEUEID]
	if proc == nil || proc.state != CSFBModificationRequested {
		slog.DebugContext(ctx, "Ignoring modification confirm", slog.String("state", a.stateOf(sc.IDs.MMEUEID).String()))
		return
	}
	a.stopGuard(sc, proc)
	proc.state = CSFBCompleted
	slog.InfoContext(ctx, "UE context modification completed")
}

func (a *App) onModificationFailure(ctx context.Context, m *bus.ContextModificationFailure) {
	sc, ok := a.store.Find(ue.IDs{MMEUEID: m.MMEUEID, ENBUEID: m.ENBUEID})
	if !ok {
		slog.WarnContext(ctx, "Modification failure for unknown subscriber")
		return
	}
	proc := a.procs[sc.IDs.MMEUEID]
	if proc == nil || proc.state != CSFBModificationRequested {
		slog.DebugContext(ctx, "Ignoring modification failure", slog.String("state", a.stateOf(sc.IDs.MMEUEID).String()))
		return
	}
	a.stopGuard(sc, proc)
	proc.state = CSFBAbortedOnFailure
	slog.WarnContext(ctx, "UE context modification rejected by radio side", slog.String("cause", m.Cause))
	a.notifyAborted(ctx, sc, errormapper.CauseUEContextModificationFailure)
}

func (a *App) onTimerExpired(ctx context.Context, m *bus.TimerExpired) {
	id := timer.ID(m.TimerID)
	mmeID, ok := timer.DecodeUEID(m.Payload)
	if !ok {
		slog.WarnContext(ctx, "Timer expiry without UE correlation", slog.Int("payload_len", len(m.Payload)))
		return
	}
	ctx = logging.ContextWithMMEUEID(ctx, mmeID)

	sc, ok := a.store.FindByMMEUEID(mmeID)
	if !ok {
		slog.DebugContext(ctx, "Ignoring timer expiry for released subscriber")
		return
	}
	kind, ok := sc.TimerKind(id)
	if !ok || kind != ue.ProcedureUEContextModification {
		slog.DebugContext(ctx, "Ignoring stale timer expiry")
		return
	}
	proc := a.procs[mmeID]
	if proc == nil || proc.state != CSFBModificationRequested || proc.guard != id {
		sc.SetGuardTimer(kind, timer.InactiveID)
		slog.DebugContext(ctx, "Ignoring timer expiry outside of procedure")
		return
	}

	proc.guard = timer.InactiveID
	sc.SetGuardTimer(kind, timer.InactiveID)
	proc.state = CSFBAbortedOnTimeout
	slog.WarnContext(ctx, "UE context modification timed out")
	a.notifyAborted(ctx, sc, errormapper.CauseUEContextModificationTimeout)
}

func (a *App) stopGuard(sc *ue.SubscriberContext, proc *csfbProcedure) {
	a.timers.Cancel(proc.guard)
	proc.guard = timer.InactiveID
	sc.SetGuardTimer(ue.ProcedureUEContextModification, timer.InactiveID)
}

// notifyAborted reports the failed procedure to NAS, which owns the unwind of
// the originating service request.
func (a *App) notifyAborted(ctx context.Context, sc *ue.SubscriberContext, cause string) {
	err := a.sender.Send(ctx, bus.TaskNAS, bus.InstanceDefault, &bus.ProcedureAborted{
		MMEUEID:   sc.IDs.MMEUEID,
		ENBUEID:   sc.IDs.ENBUEID,
		Procedure: procedureName,
		Cause:     cause,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to notify procedure abort",
			slog.String("cause", cause),
			slog.Any("error", err),
		)
	}
}

// CSFBStateOf reports the procedure state of a subscriber; unknown
// subscribers are Idle.
func (a *App) CSFBStateOf(ids ue.IDs) CSFBState {
	sc, ok := a.store.Find(ids)
	if !ok {
		return CSFBIdle
	}
	return a.stateOf(sc.IDs.MMEUEID)
}

func (a *App) stateOf(mmeID uint32) CSFBState {
	if proc := a.procs[mmeID]; proc != nil {
		return proc.state
	}
	return CSFBIdle
}
