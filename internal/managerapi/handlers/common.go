package handlers

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultSubscriberPage = 50
	MaxSubscriberPage     = 500
)

// subscriberPage reads limit and offset for the subscriber list and clamps
// them to [lo, hi) of a list of total rows.
func subscriberPage(c *gin.Context, total int) (limit, offset, lo, hi int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	switch {
	case err != nil || limit <= 0:
		limit = DefaultSubscriberPage
	case limit > MaxSubscriberPage:
		slog.WarnContext(c.Request.Context(), "Subscriber page too large, capping",
			slog.Int("requested", limit), slog.Int("max", MaxSubscriberPage))
		limit = MaxSubscriberPage
	}
	offset, err = strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	lo = min(offset, total)
	hi = min(lo+limit, total)
	return limit, offset, lo, hi
}
