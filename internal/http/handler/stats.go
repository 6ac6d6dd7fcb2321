package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatehouse-hq/gatehouse/internal/governor"
	"github.com/gatehouse-hq/gatehouse/internal/store"
)

// StatsHandler exposes processing statistics for operators.
type StatsHandler struct {
	governor *governor.Governor
	store    store.Store
}

func NewStatsHandler(g *governor.Governor, st store.Store) *StatsHandler {
	return &StatsHandler{
		governor: g,
		store:    st,
	}
}

func (h *StatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.governor.GetStats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read governor stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}

	byType, err := h.store.GetEventStats(ctx, nil, 24*time.Hour)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read event stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}

	efficient, err := h.store.IsCostEfficient(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read cost efficiency", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hourly_cost":      stats.HourlyCost,
		"events_processed": stats.EventsProcessed,
		"efficiency":       stats.Efficiency,
		"cost_efficient":   efficient,
		"by_type":          byType,
	})
}
