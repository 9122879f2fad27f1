package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/store"
)

// ErrUnauthorized is returned when a request lacks a valid bearer token.
var ErrUnauthorized = errors.New("unauthorized")

const userIDKey = "user_id"

type loginRequest struct {
	Email        string `json:"email" binding:"required,email"`
	ExternalID   string `json:"externalId" binding:"required"`
	Name         string `json:"name" binding:"required"`
	StudentID    string `json:"studentId" binding:"required"`
	ProfileImage string `json:"profileImage"`
}

// Login signs a user in after the external identity provider has vouched
// for them. First logins create the user; later ones refresh lastLogin.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if domain := h.auth.EmailDomain; !strings.HasSuffix(strings.ToLower(req.Email), "@"+strings.ToLower(domain)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email must be an @" + domain + " address"})
		return
	}

	ctx := c.Request.Context()
	now := h.Now().UTC()

	user, err := h.store.GetUserByExternalID(ctx, req.ExternalID)
	switch {
	case err == nil:
		user, err = h.store.TouchLastLogin(ctx, user.ID, now)
	case errors.Is(err, store.ErrNotFound):
		if _, lookupErr := h.store.GetUserByEmail(ctx, req.Email); lookupErr == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "email is already registered to another account"})
			return
		}
		user, err = h.store.CreateUser(ctx, model.User{
			StudentID:    req.StudentID,
			Email:        req.Email,
			Name:         req.Name,
			ProfileImage: req.ProfileImage,
			Role:         model.RoleStudent,
			ExternalID:   req.ExternalID,
			CreatedAt:    now,
			LastLogin:    now,
			Preferences:  model.DefaultPreferences(),
		})
	}
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.issueToken(user, now)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

// Me returns the signed-in user.
func (h *Handler) Me(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.GetInt64(userIDKey))
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, ErrUnauthorized)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type preferencesRequest struct {
	Notifications         *bool    `json:"notifications"`
	NotificationThreshold *int     `json:"notificationThreshold" binding:"omitempty,gte=0,lte=100"`
	FavoriteAreas         []string `json:"favoriteAreas"`
}

// UpdatePreferences merges the given fields into the signed-in user's preferences.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	user, err := h.store.GetUser(ctx, c.GetInt64(userIDKey))
	if err != nil {
		respondError(c, err)
		return
	}

	prefs := user.Preferences
	if req.Notifications != nil {
		prefs.Notifications = *req.Notifications
	}
	if req.NotificationThreshold != nil {
		prefs.NotificationThreshold = *req.NotificationThreshold
	}
	if req.FavoriteAreas != nil {
		prefs.FavoriteAreas = req.FavoriteAreas
	}

	user, err = h.store.UpdateUserPreferences(ctx, user.ID, prefs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) issueToken(user *model.User, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(user.ID, 10),
		"role": string(user.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(h.auth.TokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// AuthRequired rejects requests without a valid HS256 bearer token and
// stores the token's user id in the context.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		tok, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrUnauthorized
			}
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		sub, err := tok.Claims.GetSubject()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}
