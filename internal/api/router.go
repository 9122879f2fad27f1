package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/mw"
)

// NewRouter creates and configures the gin router. ws serves the live feed.
func NewRouter(cfg config.ServerConfig, handler *Handler, ws http.HandlerFunc) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, cfg.RequestIPHeader)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl+time.Minute), ttl)

	authRequired := AuthRequired(handler.auth.JWTSecret)

	if ws != nil {
		r.GET("/ws", gin.WrapF(ws))
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/health", handler.Health)

		api.POST("/auth/login", handler.Login)
		api.GET("/auth/me", authRequired, handler.Me)
		api.PUT("/users/me/preferences", authRequired, handler.UpdatePreferences)

		api.GET("/occupancy/current", handler.CurrentOccupancy)
		api.GET("/occupancy/history", handler.OccupancyHistory)
		api.GET("/occupancy/events", handler.RecentEvents)
		api.POST("/occupancy/scan", handler.RecordScan)
		api.POST("/occupancy/update", handler.UpdateOccupancy)

		api.GET("/zones", handler.GetZones)
		api.GET("/zones/:id", handler.GetZone)

		api.GET("/seats", handler.GetSeatPosts)
		api.GET("/seats/zone/:zone", handler.GetSeatPostsByZone)
		api.POST("/seats", handler.CreateSeatPost)
		api.PUT("/seats/:id", handler.UpdateSeatPost)
		api.POST("/seats/:id/verify", handler.VerifySeatPost)

		api.GET("/announcements", handler.GetAnnouncements)
		api.POST("/announcements", handler.CreateAnnouncement)
		api.PUT("/announcements/:id/deactivate", handler.DeactivateAnnouncement)

		api.GET("/vapid_public_key", caching, handler.GetVAPIDPublicKey)
		api.PUT("/subscriptions", authRequired, handler.PutSubscription)
		api.DELETE("/subscriptions", authRequired, handler.DeleteSubscription)
	}

	return r
}
