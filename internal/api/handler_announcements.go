package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-occupancy-backend/internal/ingest"
)

// GetAnnouncements lists announcements that are active and unexpired.
func (h *Handler) GetAnnouncements(c *gin.Context) {
	list, err := h.store.ActiveAnnouncements(c.Request.Context(), h.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateAnnouncement publishes a new announcement.
func (h *Handler) CreateAnnouncement(c *gin.Context) {
	var in ingest.AnnouncementInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.ingest.CreateAnnouncement(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// DeactivateAnnouncement hides an announcement.
func (h *Handler) DeactivateAnnouncement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	a, err := h.ingest.DeactivateAnnouncement(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
