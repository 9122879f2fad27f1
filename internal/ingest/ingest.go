// Package ingest validates incoming changes, applies them to the store and
// publishes exactly one live feed message per successful mutation.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/copier"

	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/notification"
	"library-occupancy-backend/internal/store"
	"library-occupancy-backend/internal/wire"
)

// Publisher fans a message out to every live connection.
type Publisher interface {
	Broadcast(msg wire.Message)
}

// Alerter receives zone crowding changes. It must not block.
type Alerter interface {
	Dispatch(alert notification.ZoneAlert) bool
}

// Service is the single write path into the store.
type Service struct {
	store    store.Store
	pub      Publisher
	alerts   Alerter
	validate *validator.Validate
	logger   *log.Logger

	// Now is the clock used for timestamps and expiry checks.
	Now func() time.Time

	// mu keeps mutation order and broadcast order identical.
	mu sync.Mutex
}

// New creates an ingest service. alerts may be nil.
func New(st store.Store, pub Publisher, alerts Alerter, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:    st,
		pub:      pub,
		alerts:   alerts,
		validate: newValidator(),
		logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// ScanInput is one turnstile pass.
type ScanInput struct {
	StudentID string          `json:"studentId" validate:"required,max=64"`
	EventType model.EventType `json:"eventType" validate:"required,oneof=entry exit"`
	DeviceID  string          `json:"deviceId" validate:"max=64"`
	Location  string          `json:"location" validate:"max=128"`
	At        *time.Time      `json:"timestamp"`
}

// OccupancyInput is a manual occupancy snapshot. Zone values are keyed by zone id.
type OccupancyInput struct {
	CurrentOccupancy *int           `json:"currentOccupancy" validate:"required,gte=0"`
	Capacity         int            `json:"capacity" validate:"omitempty,gt=0"`
	ZoneOccupancy    map[string]int `json:"zoneOccupancy" validate:"dive,gte=0"`
	At               *time.Time     `json:"timestamp"`
}

// SeatPostInput is a new seat post submission. Duration is in minutes and
// capped at one day.
type SeatPostInput struct {
	UserID      int64              `json:"userId" validate:"gt=0"`
	Location    model.SeatLocation `json:"location"`
	ImageURL    string             `json:"imageUrl" validate:"omitempty,max=512"`
	Duration    int                `json:"duration" validate:"gt=0,max=1440"`
	Group       *int               `json:"groupSize" validate:"omitempty,gte=1"`
	Message     string             `json:"message" validate:"max=1024"`
	IsAnonymous bool               `json:"isAnonymous"`
}

// AnnouncementInput is a new announcement. A past expiry is accepted.
type AnnouncementInput struct {
	Message   string     `json:"message" validate:"required,max=2048"`
	Expiry    *time.Time `json:"expiry"`
	CreatedBy int64      `json:"createdBy" validate:"gt=0"`
}

// RecordScan appends an entry/exit event and broadcasts the new occupancy.
func (s *Service) RecordScan(ctx context.Context, in ScanInput) (*model.EntryExitEvent, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	var event model.EntryExitEvent
	if err := copier.Copy(&event, &in); err != nil {
		return nil, fmt.Errorf("copy scan input: %w", err)
	}
	event.Timestamp = s.Now()
	if in.At != nil {
		event.Timestamp = in.At.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.RecordEntryExit(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", in.EventType, err)
	}
	update, err := s.Occupancy(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(wire.TypeOccupancyUpdate, update)
	return stored, nil
}

// UpdateOccupancy stores a manual snapshot, applies its per-zone values and
// broadcasts the snapshot's totals.
func (s *Service) UpdateOccupancy(ctx context.Context, in OccupancyInput) (*model.OccupancyRecord, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.store.Zones(ctx)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	ids, err := knownZoneIDs(before, "zoneOccupancy", in.ZoneOccupancy)
	if err != nil {
		return nil, err
	}

	capacity := in.Capacity
	if capacity == 0 {
		if capacity, err = s.store.TotalCapacity(ctx); err != nil {
			return nil, fmt.Errorf("load total capacity: %w", err)
		}
	}

	// The record carries every zone so the latest record mirrors zone state.
	perZone := make(map[string]int, len(before))
	for _, z := range before {
		perZone[strconv.FormatInt(z.ID, 10)] = z.CurrentOccupancy
	}
	for key, v := range in.ZoneOccupancy {
		perZone[strconv.FormatInt(ids[key], 10)] = v
	}

	at := s.Now()
	if in.At != nil {
		at = in.At.UTC()
	}
	record, err := s.store.SaveOccupancyRecord(ctx, model.OccupancyRecord{
		Timestamp:        at,
		CurrentOccupancy: *in.CurrentOccupancy,
		Capacity:         capacity,
		ZoneOccupancy:    perZone,
	})
	if err != nil {
		return nil, fmt.Errorf("save occupancy record: %w", err)
	}
	for key, v := range in.ZoneOccupancy {
		if _, err := s.store.UpdateZoneOccupancy(ctx, ids[key], v); err != nil {
			return nil, fmt.Errorf("update zone %s: %w", key, err)
		}
	}

	after, err := s.store.Zones(ctx)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	s.publish(wire.TypeOccupancyUpdate, wire.OccupancyUpdate{
		Current:    record.CurrentOccupancy,
		Total:      record.Capacity,
		Percentage: Percentage(record.CurrentOccupancy, record.Capacity),
		Zones:      ZoneSummaries(after),
	})
	s.alertChanges(before, after)
	return record, nil
}

// CreateSeatPost stores a new seat post ending duration minutes from now.
func (s *Service) CreateSeatPost(ctx context.Context, in SeatPostInput) (*model.SeatPost, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.Location.Zone == "" {
		return nil, invalid("location.zone", "is required")
	}

	var post model.SeatPost
	if err := copier.Copy(&post, &in); err != nil {
		return nil, fmt.Errorf("copy seat post input: %w", err)
	}
	post.GroupSize = 1
	if in.Group != nil {
		post.GroupSize = *in.Group
	}
	post.CreatedAt = s.Now()
	post.EndTime = post.CreatedAt.Add(time.Duration(in.Duration) * time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.CreateSeatPost(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("create seat post: %w", err)
	}
	s.publish(wire.TypeNewSeatPost, stored)
	return stored, nil
}

// UpdateSeatPostStatus changes a post's stored status.
func (s *Service) UpdateSeatPostStatus(ctx context.Context, id int64, status model.SeatPostStatus) (*model.SeatPost, error) {
	if !status.Valid() {
		return nil, invalid("status", "must be one of: active expired removed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	post, err := s.store.UpdateSeatPostStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.publish(wire.TypeSeatPostUpdate, post)
	return post, nil
}

// VerifySeatPost records one community vote.
func (s *Service) VerifySeatPost(ctx context.Context, id int64, isPositive bool) (*model.SeatPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, err := s.store.VerifySeatPost(ctx, id, isPositive)
	if err != nil {
		return nil, err
	}
	s.publish(wire.TypeSeatPostUpdate, post)
	return post, nil
}

// CreateAnnouncement stores a new, active announcement.
func (s *Service) CreateAnnouncement(ctx context.Context, in AnnouncementInput) (*model.Announcement, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	var a model.Announcement
	if err := copier.Copy(&a, &in); err != nil {
		return nil, fmt.Errorf("copy announcement input: %w", err)
	}
	a.IsActive = true
	a.CreatedAt = s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.CreateAnnouncement(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}
	s.publish(wire.TypeNewAnnouncement, stored)
	return stored, nil
}

// DeactivateAnnouncement hides an announcement. Repeating it is not an error.
func (s *Service) DeactivateAnnouncement(ctx context.Context, id int64) (*model.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.DeactivateAnnouncement(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(wire.TypeAnnouncementUpdate, a)
	return a, nil
}

// UpdateCapacity changes library and zone capacities and broadcasts capacityUpdate.
func (s *Service) UpdateCapacity(ctx context.Context, in wire.UpdateCapacity) (*wire.CapacityUpdate, error) {
	if in.TotalCapacity <= 0 {
		return nil, invalid("totalCapacity", "must be greater than 0")
	}
	for key, v := range in.ZoneCapacities {
		if v <= 0 {
			return nil, invalid("zoneCapacities["+key+"]", "must be greater than 0")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.store.Zones(ctx)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	ids, err := knownZoneIDs(before, "zoneCapacities", in.ZoneCapacities)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetTotalCapacity(ctx, in.TotalCapacity); err != nil {
		return nil, fmt.Errorf("set total capacity: %w", err)
	}
	for key, v := range in.ZoneCapacities {
		if _, err := s.store.UpdateZoneCapacity(ctx, ids[key], v); err != nil {
			return nil, fmt.Errorf("update zone %s capacity: %w", key, err)
		}
	}

	update, err := s.Capacity(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(wire.TypeCapacityUpdate, update)
	s.alertChanges(before, update.Zones)
	return &update, nil
}

// knownZoneIDs parses zone id keys and rejects ids that are not in zones.
func knownZoneIDs(zones []model.Zone, field string, values map[string]int) (map[string]int64, error) {
	known := make(map[int64]bool, len(zones))
	for _, z := range zones {
		known[z.ID] = true
	}
	ids := make(map[string]int64, len(values))
	verr := &ValidationError{}
	for key := range values {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || !known[id] {
			verr.Fields = append(verr.Fields, FieldError{Field: field + "[" + key + "]", Message: "unknown zone"})
			continue
		}
		ids[key] = id
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return ids, nil
}

func (s *Service) publish(msgType string, payload any) {
	msg, err := wire.New(msgType, payload)
	if err != nil {
		s.logger.Printf("ingest: dropping %s broadcast: %v", msgType, err)
		return
	}
	s.pub.Broadcast(msg)
}

func (s *Service) alertChanges(before, after []model.Zone) {
	if s.alerts == nil {
		return
	}
	prev := make(map[int64]int, len(before))
	for _, z := range before {
		prev[z.ID] = Percentage(z.CurrentOccupancy, z.Capacity)
	}
	for _, z := range after {
		cur := Percentage(z.CurrentOccupancy, z.Capacity)
		if p, ok := prev[z.ID]; ok && p == cur {
			continue
		}
		alert := notification.ZoneAlert{
			ZoneID:   z.ID,
			ZoneName: z.Name,
			ZoneSlug: z.Slug,
			Previous: prev[z.ID],
			Current:  cur,
		}
		if !s.alerts.Dispatch(alert) {
			s.logger.Printf("ingest: alert queue full, dropped alert for zone %d", z.ID)
		}
	}
}
