package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}
}

// seedUser creates a user with one push subscription.
func seedUser(t *testing.T, st store.Store, n string, prefs model.Preferences) model.User {
	t.Helper()
	ctx := context.Background()
	u, err := st.CreateUser(ctx, model.User{
		StudentID:   n,
		Email:       n + "@student.chula.ac.th",
		Name:        "User " + n,
		Role:        model.RoleStudent,
		ExternalID:  "ext-" + n,
		Preferences: prefs,
	})
	require.NoError(t, err)
	require.NoError(t, st.SavePushSubscription(ctx, model.PushSubscription{
		Endpoint: "https://push.example.com/" + n,
		P256DH:   "p256dh-" + n,
		Auth:     "auth-" + n,
		UserID:   u.ID,
	}))
	return *u
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, store.NewMemStore(0), &webpush.Options{})

	assert.True(t, wp.Dispatch(ZoneAlert{ZoneID: 2, Previous: 70, Current: 80}))

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, int64(2), job.ZoneID)
		assert.Equal(t, 80, job.Current)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchNeverBlocks(t *testing.T) {
	wp := NewWorkerPool(1, store.NewMemStore(0), &webpush.Options{})

	accepted := 0
	for i := 0; i < cap(wp.Jobs())+5; i++ {
		if wp.Dispatch(ZoneAlert{ZoneID: int64(i)}) {
			accepted++
		}
	}
	assert.Equal(t, cap(wp.Jobs()), accepted)
}

func TestZoneAlert_Rules(t *testing.T) {
	alert := ZoneAlert{ZoneID: 3, ZoneName: "Zone C - Group Study", ZoneSlug: "zone-c-group-study", Previous: 70, Current: 80}

	testCases := []struct {
		name      string
		threshold int
		favorites []string
		crossed   bool
		watches   bool
	}{
		{"crosses threshold, no favorites", 75, nil, true, true},
		{"already above threshold", 60, nil, false, true},
		{"below threshold", 90, nil, false, true},
		{"lands exactly on threshold", 80, nil, true, true},
		{"favorite by id", 75, []string{"3"}, true, true},
		{"favorite by name", 75, []string{"zone c - group study"}, true, true},
		{"favorite by slug", 75, []string{"zone-c-group-study"}, true, true},
		{"other favorite", 75, []string{"1", "Zone D - Quiet Zone"}, true, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.crossed, alert.Crossed(tc.threshold))
			assert.Equal(t, tc.watches, alert.Watches(model.Preferences{FavoriteAreas: tc.favorites}))
		})
	}
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("notifies only users whose threshold was crossed", func(t *testing.T) {
		st := store.NewMemStore(0)
		seedUser(t, st, "1001", model.Preferences{Notifications: true, NotificationThreshold: 75})
		seedUser(t, st, "1002", model.Preferences{Notifications: true, NotificationThreshold: 95})
		seedUser(t, st, "1003", model.Preferences{Notifications: false, NotificationThreshold: 75})
		seedUser(t, st, "1004", model.Preferences{Notifications: true, NotificationThreshold: 75, FavoriteAreas: []string{"4"}})

		var mu sync.Mutex
		var endpoints []string
		var wg sync.WaitGroup
		wg.Add(1)

		wp := NewWorkerPool(1, st, &webpush.Options{})
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				assert.Equal(t, int64(2), p.ZoneID)
				assert.Equal(t, 94, p.Percentage)
				assert.Contains(t, p.Body, "Zone B - Computer Lab")

				mu.Lock()
				endpoints = append(endpoints, sub.Endpoint)
				mu.Unlock()
				wg.Done()
				return response(http.StatusCreated), nil
			},
		}
		wp.Start(ctx)

		wp.Dispatch(ZoneAlert{ZoneID: 2, ZoneName: "Zone B - Computer Lab", Previous: 60, Current: 94})
		wg.Wait()

		// Give the worker a moment to (not) send anything else.
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"https://push.example.com/1001"}, endpoints)
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		st := store.NewMemStore(0)
		u := seedUser(t, st, "2001", model.DefaultPreferences())

		wp := NewWorkerPool(1, st, &webpush.Options{})
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return response(http.StatusGone), nil
			},
		}
		wp.Start(ctx)

		wp.Dispatch(ZoneAlert{ZoneID: 1, ZoneName: "Zone A - Reading Area", Previous: 50, Current: 90})

		assert.Eventually(t, func() bool {
			subs, err := st.PushSubscriptionsForUser(context.Background(), u.ID)
			return err == nil && len(subs) == 0
		}, time.Second, 10*time.Millisecond)
	})
}
