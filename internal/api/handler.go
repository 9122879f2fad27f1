package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/ingest"
	"library-occupancy-backend/internal/store"
)

// ConnectionCounter reports how many live feed connections are open.
type ConnectionCounter interface {
	Count() int
}

// Handler holds shared dependencies for API handlers. Reads go straight to
// the store, writes go through the ingest service so they are broadcast.
type Handler struct {
	store   store.Store
	ingest  *ingest.Service
	conns   ConnectionCounter
	webpush *webpush.Options
	auth    config.AuthConfig

	// Now is the clock used for expiry checks and history defaults.
	Now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, svc *ingest.Service, conns ConnectionCounter, webpushOptions *webpush.Options, auth config.AuthConfig) *Handler {
	return &Handler{
		store:   s,
		ingest:  svc,
		conns:   conns,
		webpush: webpushOptions,
		auth:    auth,
		Now:     time.Now,
	}
}

// Health reports liveness and the number of open live feed connections.
func (h *Handler) Health(c *gin.Context) {
	connections := 0
	if h.conns != nil {
		connections = h.conns.Count()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": connections})
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// pathID parses the :id path parameter and writes a 400 when it is not a number.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id " + strconv.Quote(c.Param("id"))})
		return 0, false
	}
	return id, true
}
