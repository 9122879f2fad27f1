package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/SherClockHolmes/webpush-go"

	"library-occupancy-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Store is the subset of the state store the workers read and prune.
type Store interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	PushSubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// ZoneAlert reports that a zone's occupancy percentage moved from Previous to Current.
type ZoneAlert struct {
	ZoneID   int64
	ZoneName string
	ZoneSlug string
	Previous int
	Current  int
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	ZoneID     int64  `json:"zoneId"`
	Percentage int    `json:"percentage"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan ZoneAlert
	store   Store
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan ZoneAlert, size*16),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case alert := <-wp.jobs:
			wp.sendAlert(ctx, alert)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues an alert without blocking. It reports false when the queue is full.
func (wp *WorkerPool) Dispatch(alert ZoneAlert) bool {
	select {
	case wp.jobs <- alert:
		return true
	default:
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan ZoneAlert {
	return wp.jobs
}

// Crossed reports whether the alert moved a zone up across threshold.
func (a ZoneAlert) Crossed(threshold int) bool {
	return a.Previous < threshold && a.Current >= threshold
}

// Watches reports whether prefs follow the alert's zone. Favorites hold zone
// ids, names or slugs; an empty list follows every zone.
func (a ZoneAlert) Watches(prefs model.Preferences) bool {
	if len(prefs.FavoriteAreas) == 0 {
		return true
	}
	id := strconv.FormatInt(a.ZoneID, 10)
	for _, fav := range prefs.FavoriteAreas {
		if fav == id || strings.EqualFold(fav, a.ZoneName) || fav == a.ZoneSlug {
			return true
		}
	}
	return false
}

func (wp *WorkerPool) sendAlert(ctx context.Context, alert ZoneAlert) {
	users, err := wp.store.ListUsers(ctx)
	if err != nil {
		log.Printf("Error listing users for zone %d alert: %v", alert.ZoneID, err)
		return
	}

	payload, err := json.Marshal(Payload{
		Title:      "Library getting busy",
		Body:       fmt.Sprintf("%s is now %d%% full", alert.ZoneName, alert.Current),
		ZoneID:     alert.ZoneID,
		Percentage: alert.Current,
	})
	if err != nil {
		log.Printf("Error encoding alert for zone %d: %v", alert.ZoneID, err)
		return
	}

	for _, u := range users {
		prefs := u.Preferences
		if !prefs.Notifications || !alert.Crossed(prefs.NotificationThreshold) || !alert.Watches(prefs) {
			continue
		}
		subs, err := wp.store.PushSubscriptionsForUser(ctx, u.ID)
		if err != nil {
			log.Printf("Error fetching subscriptions for user %d: %v", u.ID, err)
			continue
		}
		for _, sub := range subs {
			wp.sendNotification(ctx, sub, payload)
		}
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
