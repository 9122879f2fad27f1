package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(r http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2, "X-Forwarded-For"))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	alice := map[string]string{"X-Forwarded-For": "10.0.0.1, 172.16.0.1"}
	bob := map[string]string{"X-Forwarded-For": "10.0.0.2"}

	assert.Equal(t, http.StatusOK, get(r, "/ping", alice).Code)
	assert.Equal(t, http.StatusOK, get(r, "/ping", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/ping", alice).Code)

	// Buckets are per client.
	assert.Equal(t, http.StatusOK, get(r, "/ping", bob).Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(0, 0, ""))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, get(r, "/ping", nil).Code)
	}
}

func TestCache(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/history", func(c *gin.Context) {
		calls++
		if c.Query("fail") != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := get(r, "/history?a=1&b=2", nil)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := get(r, "/history?b=2&a=1", nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	// Errors are never cached.
	get(r, "/history?fail=1", nil)
	get(r, "/history?fail=1", nil)
	assert.Equal(t, 3, calls)
}
