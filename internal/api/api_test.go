package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/ingest"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/store"
	"library-occupancy-backend/internal/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var quiet = log.New(io.Discard, "", 0)

type testServer struct {
	router   *gin.Engine
	store    store.Store
	handler  *Handler
	registry *hub.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemStore(store.DefaultTotalCapacity)
	require.NoError(t, st.SeedZones(context.Background(), store.DefaultZones()))

	registry := hub.NewRegistry(16, 5*time.Second, quiet)
	t.Cleanup(registry.Shutdown)
	svc := ingest.New(st, registry, nil, quiet)

	handler := NewHandler(st, svc, registry, &webpush.Options{VAPIDPublicKey: "BPublicKey"}, config.AuthConfig{
		EmailDomain: "student.chula.ac.th",
		JWTSecret:   "test-secret",
		TokenTTL:    time.Hour,
	})
	router := NewRouter(config.ServerConfig{CacheTTLSeconds: 60}, handler, hub.NewServer(registry, svc, quiet).ServeWS)
	return &testServer{router: router, store: st, handler: handler, registry: registry}
}

func (s *testServer) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type loginResponse struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

func (s *testServer) login(t *testing.T, externalID, email string) loginResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":      email,
		"externalId": externalID,
		"name":       "Somchai",
		"studentId":  "6530" + externalID,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[loginResponse](t, w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, w.Body.String())
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "someone@gmail.com", "externalId": "x", "name": "n", "studentId": "1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", `{"email":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	first := s.login(t, "ms-1", "somchai@student.chula.ac.th")
	assert.NotEmpty(t, first.Token)
	assert.Equal(t, model.RoleStudent, first.User.Role)
	assert.Equal(t, model.DefaultPreferences(), first.User.Preferences)
	w = s.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "somchai@student.chula.ac.th", "externalId": "ms-1", "name": "Somchai", "studentId": "6530ms-1",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "externalId")

	second := s.login(t, "ms-1", "somchai@student.chula.ac.th")
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.False(t, second.User.LastLogin.Before(first.User.LastLogin))

	users, err := s.store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)

	// Same email under another identity.
	w = s.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "somchai@student.chula.ac.th", "externalId": "ms-2", "name": "n", "studentId": "2",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Same student id under another identity and email.
	w = s.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email": "somsri@student.chula.ac.th", "externalId": "ms-3", "name": "n", "studentId": "6530ms-1",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	users, err = s.store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestMe(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", func() string {
			other := NewHandler(nil, nil, nil, nil, config.AuthConfig{JWTSecret: "other", TokenTTL: time.Hour})
			tok, err := other.issueToken(&model.User{ID: 1}, time.Now())
			require.NoError(t, err)
			return tok
		}()},
		{"expired token", func() string {
			tok, err := s.handler.issueToken(&model.User{ID: 1}, time.Now().Add(-2*time.Hour))
			require.NoError(t, err)
			return tok
		}()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/auth/me", nil, tc.token).Code)
		})
	}

	session := s.login(t, "ms-1", "somchai@student.chula.ac.th")
	w := s.do(t, http.MethodGet, "/api/auth/me", nil, session.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.User.Email, decode[model.User](t, w).Email)

	// A valid token for a user that no longer resolves.
	ghost, err := s.handler.issueToken(&model.User{ID: 999}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/auth/me", nil, ghost).Code)
}

func TestUpdatePreferences(t *testing.T) {
	s := newTestServer(t)
	session := s.login(t, "ms-1", "somchai@student.chula.ac.th")

	w := s.do(t, http.MethodPut, "/api/users/me/preferences", gin.H{"notificationThreshold": 150}, session.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/users/me/preferences", gin.H{
		"notificationThreshold": 90,
		"favoriteAreas":         []string{"Zone A - Reading Area"},
	}, session.Token)
	require.Equal(t, http.StatusOK, w.Code)
	prefs := decode[model.User](t, w).Preferences
	assert.True(t, prefs.Notifications, "omitted fields keep their value")
	assert.Equal(t, 90, prefs.NotificationThreshold)
	assert.Equal(t, []string{"Zone A - Reading Area"}, prefs.FavoriteAreas)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPut, "/api/users/me/preferences", gin.H{}, "").Code)
}

func TestOccupancy(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/occupancy/scan", gin.H{"studentId": "s1", "eventType": "entry"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.EventEntry, decode[model.EntryExitEvent](t, w).EventType)

	w = s.do(t, http.MethodGet, "/api/occupancy/current", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	current := decode[wire.OccupancyUpdate](t, w)
	assert.Equal(t, 1, current.Current)
	assert.Equal(t, 400, current.Total)
	assert.Len(t, current.Zones, 4)

	w = s.do(t, http.MethodPost, "/api/occupancy/scan", gin.H{"studentId": "s1", "eventType": "sideways"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[struct {
		Error  string              `json:"error"`
		Fields []ingest.FieldError `json:"fields"`
	}](t, w)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "eventType", body.Fields[0].Field)

	w = s.do(t, http.MethodPost, "/api/occupancy/update", gin.H{"currentOccupancy": 120, "zoneOccupancy": gin.H{"99": 1}}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/occupancy/update", gin.H{"currentOccupancy": 120, "capacity": 400, "zoneOccupancy": gin.H{"1": 60}}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	record := decode[model.OccupancyRecord](t, w)
	assert.Equal(t, 120, record.CurrentOccupancy)

	zone, err := s.store.Zone(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 60, zone.CurrentOccupancy)

	w = s.do(t, http.MethodGet, "/api/occupancy/events?limit=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.EntryExitEvent](t, w), 1)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/occupancy/events?limit=-1", nil, "").Code)
}

func TestOccupancyHistory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.store.SaveOccupancyRecord(ctx, model.OccupancyRecord{
			Timestamp:        base.Add(time.Duration(i) * time.Hour),
			CurrentOccupancy: 10 * (i + 1),
			Capacity:         400,
			ZoneOccupancy:    map[string]int{},
		})
		require.NoError(t, err)
	}

	w := s.do(t, http.MethodGet, "/api/occupancy/history?start=2025-03-10T08:30:00Z&end=2025-03-10T10:00:00Z", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[[]model.OccupancyRecord](t, w)
	require.Len(t, records, 2)
	assert.Equal(t, 20, records[0].CurrentOccupancy)
	assert.Equal(t, 30, records[1].CurrentOccupancy)

	// Defaults cover today so far.
	s.handler.Now = func() time.Time { return base.Add(90 * time.Minute) }
	w = s.do(t, http.MethodGet, "/api/occupancy/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.OccupancyRecord](t, w), 2)

	// A scan shows up in the very next read of the same window.
	w = s.do(t, http.MethodPost, "/api/occupancy/scan", gin.H{
		"studentId": "s1", "eventType": "entry", "timestamp": base.Add(80 * time.Minute),
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/occupancy/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"))
	records = decode[[]model.OccupancyRecord](t, w)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[2].CurrentOccupancy)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/occupancy/history?start=yesterday", nil, "").Code)
}

func TestZones(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/zones", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Zone](t, w), 4)

	testCases := []struct {
		target string
		status int
	}{
		{"/api/zones/1", http.StatusOK},
		{"/api/zones/99", http.StatusNotFound},
		{"/api/zones/abc", http.StatusBadRequest},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.status, s.do(t, http.MethodGet, tc.target, nil, "").Code, tc.target)
	}
}

func TestSeatPosts(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/seats", gin.H{
		"userId":   1,
		"location": gin.H{"zone": "Zone A - Reading Area", "seatId": "A-12"},
		"duration": 30,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	post := decode[model.SeatPost](t, w)
	assert.Equal(t, model.SeatPostActive, post.Status)
	assert.Equal(t, 1, post.GroupSize)

	w = s.do(t, http.MethodPost, "/api/seats", gin.H{"userId": 1, "location": gin.H{}, "duration": 0}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/seats/zone/zone-a-reading-area", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.SeatPost](t, w), 1)

	w = s.do(t, http.MethodGet, "/api/seats/zone/zone-b-computer-lab", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]model.SeatPost](t, w))

	target := "/api/seats/" + jsonID(post.ID)

	w = s.do(t, http.MethodPost, target+"/verify", gin.H{"isPositive": "yes"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, target+"/verify", gin.H{}, "")
	assert.JSONEq(t, `{"error":"isPositive must be a boolean"}`, w.Body.String())

	w = s.do(t, http.MethodPost, target+"/verify", gin.H{"isPositive": false}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[model.SeatPost](t, w).Verifications.Negative)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/seats/999/verify", gin.H{"isPositive": true}, "").Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, target, gin.H{"status": "bogus"}, "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, target, gin.H{}, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/seats/999", gin.H{"status": "removed"}, "").Code)

	w = s.do(t, http.MethodPut, target, gin.H{"status": "removed"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/seats", nil, "")
	assert.Empty(t, decode[[]model.SeatPost](t, w))
	w = s.do(t, http.MethodGet, "/api/seats?all=true", nil, "")
	assert.Len(t, decode[[]model.SeatPost](t, w), 1)
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestAnnouncements(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/announcements", gin.H{"message": "", "createdBy": 1}, "").Code)

	w := s.do(t, http.MethodPost, "/api/announcements", gin.H{"message": "Closing at 20:00", "createdBy": 1}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a := decode[model.Announcement](t, w)
	assert.True(t, a.IsActive)

	w = s.do(t, http.MethodGet, "/api/announcements", nil, "")
	assert.Len(t, decode[[]model.Announcement](t, w), 1)

	target := "/api/announcements/" + jsonID(a.ID) + "/deactivate"
	for i := 0; i < 2; i++ {
		w = s.do(t, http.MethodPut, target, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, decode[model.Announcement](t, w).IsActive)
	}
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/announcements/99/deactivate", nil, "").Code)

	w = s.do(t, http.MethodGet, "/api/announcements", nil, "")
	assert.Empty(t, decode[[]model.Announcement](t, w))
}

func TestSubscriptions(t *testing.T) {
	s := newTestServer(t)
	session := s.login(t, "ms-1", "somchai@student.chula.ac.th")
	sub := gin.H{"endpoint": "https://push.example/abc", "p256dh": "key", "auth": "secret"}

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPut, "/api/subscriptions", sub, "").Code)

	w := s.do(t, http.MethodPut, "/api/subscriptions", nil, session.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPut, "/api/subscriptions", sub, session.Token).Code)
	subs, err := s.store.PushSubscriptionsForUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "key", subs[0].P256DH)

	w = s.do(t, http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc"}, session.Token)
	assert.Equal(t, http.StatusNoContent, w.Code)
	subs, err = s.store.PushSubscriptionsForUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/vapid_public_key", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPublicKey"}`, w.Body.String())
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	w = s.do(t, http.MethodGet, "/api/vapid_public_key", nil, "")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	// Errors are not cached.
	s = newTestServer(t)
	s.handler.webpush = nil
	w = s.do(t, http.MethodGet, "/api/vapid_public_key", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	s.handler.webpush = &webpush.Options{VAPIDPublicKey: "BPublicKey"}
	w = s.do(t, http.MethodGet, "/api/vapid_public_key", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
