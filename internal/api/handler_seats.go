package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-occupancy-backend/internal/ingest"
	"library-occupancy-backend/internal/model"
)

// GetSeatPosts lists active seat posts, newest first. ?all=true includes
// expired and removed ones.
func (h *Handler) GetSeatPosts(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		posts []model.SeatPost
		err   error
	)
	if c.Query("all") == "true" {
		posts, err = h.store.SeatPosts(ctx)
	} else {
		posts, err = h.store.ActiveSeatPosts(ctx, h.Now())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

// GetSeatPostsByZone lists active seat posts for a zone name or slug.
func (h *Handler) GetSeatPostsByZone(c *gin.Context) {
	posts, err := h.store.SeatPostsByZone(c.Request.Context(), c.Param("zone"), h.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

// CreateSeatPost publishes a new seat post.
func (h *Handler) CreateSeatPost(c *gin.Context) {
	var in ingest.SeatPostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	post, err := h.ingest.CreateSeatPost(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

type seatStatusRequest struct {
	Status model.SeatPostStatus `json:"status" binding:"required"`
}

// UpdateSeatPost changes a seat post's status.
func (h *Handler) UpdateSeatPost(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req seatStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	post, err := h.ingest.UpdateSeatPostStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

type verifyRequest struct {
	IsPositive *bool `json:"isPositive" binding:"required"`
}

// VerifySeatPost records a community vote on a seat post.
func (h *Handler) VerifySeatPost(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isPositive must be a boolean"})
		return
	}
	post, err := h.ingest.VerifySeatPost(c.Request.Context(), id, *req.IsPositive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}
