package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetZones lists every zone.
func (h *Handler) GetZones(c *gin.Context) {
	zones, err := h.store.Zones(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, zones)
}

// GetZone returns one zone by id.
func (h *Handler) GetZone(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	zone, err := h.store.Zone(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, zone)
}
