package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"library-occupancy-backend/internal/ingest"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 200
)

// CurrentOccupancy returns the live occupancy summary.
func (h *Handler) CurrentOccupancy(c *gin.Context) {
	occ, err := h.ingest.Occupancy(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

// OccupancyHistory returns records between start and end (RFC3339),
// defaulting to today so far.
func (h *Handler) OccupancyHistory(c *gin.Context) {
	now := h.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := now

	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be an RFC3339 timestamp"})
			return
		}
		start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be an RFC3339 timestamp"})
			return
		}
		end = t
	}

	records, err := h.store.OccupancyHistory(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// RecentEvents returns the newest entry/exit events.
func (h *Handler) RecentEvents(c *gin.Context) {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.store.RecentEntryExits(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// RecordScan records one turnstile pass.
func (h *Handler) RecordScan(c *gin.Context) {
	var in ingest.ScanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := h.ingest.RecordScan(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// UpdateOccupancy stores a manual occupancy snapshot.
func (h *Handler) UpdateOccupancy(c *gin.Context) {
	var in ingest.OccupancyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := h.ingest.UpdateOccupancy(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
