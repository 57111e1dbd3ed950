package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/epccore/internal/logging"
	"github.com/thrillee/epccore/internal/managerapi/handlers/dto"
	"github.com/thrillee/epccore/internal/state"
	"github.com/thrillee/epccore/internal/ue"
	"github.com/thrillee/epccore/pkg/errormapper"
)

// CheckpointLoader reads the stored record. persist.BlobStore satisfies it.
type CheckpointLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

// CheckpointHandler serves a read-only view of the last checkpoint. It never
// reaches the live store of a running core.
type CheckpointHandler struct {
	loader CheckpointLoader
}

func NewCheckpointHandler(loader CheckpointLoader) *CheckpointHandler {
	return &CheckpointHandler{loader: loader}
}

func (h *CheckpointHandler) load(c *gin.Context, logCtx context.Context) (state.Record, bool) {
	blob, err := h.loader.Load(logCtx)
	if err == nil {
		var rec state.Record
		if rec, err = state.DecodeRecord(blob); err == nil {
			return rec, true
		}
	}
	code := errormapper.Classify(err)
	slog.WarnContext(logCtx, "Failed to read checkpoint", slog.String("error_code", code), slog.Any("error", err))
	c.JSON(errormapper.HTTPStatus(code), gin.H{"error": "Checkpoint unavailable", "code": code})
	return state.Record{}, false
}

// GetCheckpoint handles GET /checkpoint
func (h *CheckpointHandler) GetCheckpoint(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetCheckpoint")
	rec, ok := h.load(c, logCtx)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.CheckpointResponse{
		CheckpointID: rec.CheckpointID.String(),
		InstanceID:   rec.InstanceID.String(),
		TakenAt:      rec.TakenAt,
		Version:      rec.Version,
		Subscribers:  rec.Stats.Subscribers,
		PDNs:         rec.Stats.PDNs,
		Bearers:      rec.Stats.Bearers,
		APNEntries:   rec.Stats.APNEntries,
	})
}

// ListSubscribers handles GET /subscribers
func (h *CheckpointHandler) ListSubscribers(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "ListSubscribers")
	rec, ok := h.load(c, logCtx)
	if !ok {
		return
	}

	subs := rec.Store.Subscribers
	limit, offset, lo, hi := subscriberPage(c, len(subs))
	rows := make([]dto.SubscriberSummary, 0, hi-lo)
	for _, sub := range subs[lo:hi] {
		rows = append(rows, summarize(sub))
	}
	c.JSON(http.StatusOK, dto.SubscriberPage{
		CheckpointID: rec.CheckpointID.String(),
		Data:         rows,
		Pagination:   dto.Page{Total: len(subs), Limit: limit, Offset: offset},
	})
}

// GetSubscriber handles GET /subscribers/:mme_ue_id
func (h *CheckpointHandler) GetSubscriber(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetSubscriber")
	id, err := strconv.ParseUint(c.Param("mme_ue_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mme_ue_id format"})
		return
	}
	logCtx = logging.ContextWithMMEUEID(logCtx, uint32(id))

	rec, ok := h.load(c, logCtx)
	if !ok {
		return
	}
	for _, sub := range rec.Store.Subscribers {
		if sub.IDs.MMEUEID == uint32(id) {
			c.JSON(http.StatusOK, detail(sub, rec.CheckpointID.String()))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Subscriber not found in checkpoint"})
}

func summarize(sub ue.SubscriberSnapshot) dto.SubscriberSummary {
	s := dto.SubscriberSummary{
		MMEUEID:  sub.IDs.MMEUEID,
		ENBUEID:  sub.IDs.ENBUEID,
		IMSI:     sub.IMSI,
		PDNCount: len(sub.PDNs),
	}
	for _, p := range sub.PDNs {
		s.BearerCount += len(p.Bearers)
	}
	if sub.CSFB != nil {
		s.CSFBService = sub.CSFB.ServiceType.String()
	}
	return s
}

func detail(sub ue.SubscriberSnapshot, checkpointID string) dto.SubscriberDetailResponse {
	d := dto.SubscriberDetailResponse{
		SubscriberSummary: summarize(sub),
		PDNs:              make([]dto.PDNResponse, 0, len(sub.PDNs)),
		APNTable:          make([]dto.APNEntryResponse, 0, len(sub.APNs)),
		CheckpointID:      checkpointID,
	}
	if sub.CSFB != nil {
		d.CSFBEmergency = sub.CSFB.Emergency
	}
	for _, p := range sub.PDNs {
		pr := dto.PDNResponse{ID: p.ID, APN: p.APN, Bearers: make([]dto.BearerResponse, 0, len(p.Bearers))}
		for _, b := range p.Bearers {
			pr.Bearers = append(pr.Bearers, dto.BearerResponse{
				EBI:         b.EBI,
				QCI:         b.QoS.QCI,
				ARP:         b.QoS.ARP,
				MBRUplink:   b.QoS.MBRUplink,
				MBRDownlink: b.QoS.MBRDownlink,
				GBRUplink:   b.QoS.GBRUplink,
				GBRDownlink: b.QoS.GBRDownlink,
				S1UTEID:     b.S1UTEID,
				S5TEID:      b.S5TEID,
			})
		}
		d.PDNs = append(d.PDNs, pr)
	}
	for _, a := range sub.APNs {
		d.APNTable = append(d.APNTable, dto.APNEntryResponse{
			APN:          a.APN,
			PDNType:      a.PDNType,
			PAA:          a.PAA,
			ChargingID:   a.ChargingID,
			AMBRUplink:   a.AMBRUplink,
			AMBRDownlink: a.AMBRDownlink,
		})
	}
	return d
}
