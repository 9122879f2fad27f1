package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"library-occupancy-backend/internal/model"
)

// memStore keeps everything in process memory. A single RWMutex serializes
// writers so that each method behaves as one atomic unit.
type memStore struct {
	mu sync.RWMutex

	users         map[int64]model.User
	events        []model.EntryExitEvent
	entries       int
	exits         int
	records       []model.OccupancyRecord
	zones         map[int64]model.Zone
	seatPosts     map[int64]model.SeatPost
	announcements map[int64]model.Announcement
	pushSubs      map[string]model.PushSubscription
	totalCapacity int

	nextUserID         int64
	nextEventID        int64
	nextRecordID       int64
	nextZoneID         int64
	nextSeatPostID     int64
	nextAnnouncementID int64
}

// NewMemStore creates an empty in-memory store. Zones are added with SeedZones.
func NewMemStore(totalCapacity int) Store {
	if totalCapacity <= 0 {
		totalCapacity = DefaultTotalCapacity
	}
	return &memStore{
		users:              make(map[int64]model.User),
		zones:              make(map[int64]model.Zone),
		seatPosts:          make(map[int64]model.SeatPost),
		announcements:      make(map[int64]model.Announcement),
		pushSubs:           make(map[string]model.PushSubscription),
		totalCapacity:      totalCapacity,
		nextUserID:         1,
		nextEventID:        1,
		nextRecordID:       1,
		nextZoneID:         1,
		nextSeatPostID:     1,
		nextAnnouncementID: 1,
	}
}

// --- Users ---

func (s *memStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return cloneUser(u), nil
}

func (s *memStore) findUser(match func(model.User) bool) *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			return cloneUser(u)
		}
	}
	return nil
}

func (s *memStore) GetUserByStudentID(_ context.Context, studentID string) (*model.User, error) {
	if u := s.findUser(func(u model.User) bool { return u.StudentID == studentID }); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user with student id %q: %w", studentID, ErrNotFound)
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	if u := s.findUser(func(u model.User) bool { return u.Email == email }); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user with email %q: %w", email, ErrNotFound)
}

func (s *memStore) GetUserByExternalID(_ context.Context, externalID string) (*model.User, error) {
	if u := s.findUser(func(u model.User) bool { return u.ExternalID == externalID }); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user with external id: %w", ErrNotFound)
}

func (s *memStore) CreateUser(_ context.Context, user model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.StudentID == user.StudentID || u.Email == user.Email || u.ExternalID == user.ExternalID {
			return nil, fmt.Errorf("user %q: %w", user.Email, ErrConflict)
		}
	}
	user.ID = s.nextUserID
	s.nextUserID++
	s.users[user.ID] = *cloneUser(user)
	return cloneUser(user), nil
}

func (s *memStore) UpdateUserPreferences(_ context.Context, id int64, prefs model.Preferences) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	u.Preferences = prefs
	u = *cloneUser(u)
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *memStore) TouchLastLogin(_ context.Context, id int64, at time.Time) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	u.LastLogin = at
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *memStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Occupancy ---

func (s *memStore) RecordEntryExit(_ context.Context, event model.EntryExitEvent) (*model.EntryExitEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ID = s.nextEventID
	s.nextEventID++
	s.events = append(s.events, event)

	switch event.EventType {
	case model.EventEntry:
		s.entries++
	case model.EventExit:
		s.exits++
	}

	s.appendRecordLocked(model.OccupancyRecord{
		Timestamp:        event.Timestamp,
		CurrentOccupancy: clampOccupancy(s.entries, s.exits),
		Capacity:         s.totalCapacity,
		ZoneOccupancy:    s.zoneOccupancyLocked(),
	})

	stored := event
	return &stored, nil
}

func (s *memStore) CurrentOccupancy(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clampOccupancy(s.entries, s.exits), nil
}

func (s *memStore) ZoneOccupancy(_ context.Context, zoneID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return 0, fmt.Errorf("zone %d: %w", zoneID, ErrNotFound)
	}
	return z.CurrentOccupancy, nil
}

func (s *memStore) AllZoneOccupancy(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zoneOccupancyLocked(), nil
}

func (s *memStore) zoneOccupancyLocked() map[string]int {
	out := make(map[string]int, len(s.zones))
	for id, z := range s.zones {
		out[strconv.FormatInt(id, 10)] = z.CurrentOccupancy
	}
	return out
}

func (s *memStore) SaveOccupancyRecord(_ context.Context, record model.OccupancyRecord) (*model.OccupancyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	return cloneRecord(s.appendRecordLocked(record)), nil
}

func (s *memStore) appendRecordLocked(record model.OccupancyRecord) model.OccupancyRecord {
	record.ID = s.nextRecordID
	s.nextRecordID++
	record = *cloneRecord(record)
	s.records = append(s.records, record)
	return record
}

func (s *memStore) OccupancyHistory(_ context.Context, start, end time.Time) ([]model.OccupancyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.OccupancyRecord, 0)
	for _, r := range s.records {
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		out = append(out, *cloneRecord(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memStore) RecentEntryExits(_ context.Context, limit int) ([]model.EntryExitEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]model.EntryExitEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// --- Zones ---

func (s *memStore) Zones(_ context.Context) ([]model.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, *cloneZone(z))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Zone(_ context.Context, id int64) (*model.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[id]
	if !ok {
		return nil, fmt.Errorf("zone %d: %w", id, ErrNotFound)
	}
	return cloneZone(z), nil
}

func (s *memStore) UpdateZoneOccupancy(_ context.Context, id int64, current int) (*model.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[id]
	if !ok {
		return nil, fmt.Errorf("zone %d: %w", id, ErrNotFound)
	}
	z.CurrentOccupancy = current
	z.UpdatedAt = time.Now().UTC()
	s.zones[id] = z
	return cloneZone(z), nil
}

func (s *memStore) UpdateZoneCapacity(_ context.Context, id int64, capacity int) (*model.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[id]
	if !ok {
		return nil, fmt.Errorf("zone %d: %w", id, ErrNotFound)
	}
	z.Capacity = capacity
	z.UpdatedAt = time.Now().UTC()
	s.zones[id] = z
	return cloneZone(z), nil
}

func (s *memStore) TotalCapacity(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalCapacity, nil
}

func (s *memStore) SetTotalCapacity(_ context.Context, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCapacity = capacity
	return nil
}

func (s *memStore) SeedZones(_ context.Context, zones []model.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.zones) > 0 {
		return nil
	}
	for _, z := range zones {
		z.ID = s.nextZoneID
		s.nextZoneID++
		if z.Slug == "" {
			z.Slug = slugOf(z.Name)
		}
		s.zones[z.ID] = *cloneZone(z)
	}
	return nil
}

// --- Seat posts ---

func (s *memStore) CreateSeatPost(_ context.Context, post model.SeatPost) (*model.SeatPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post.ID = s.nextSeatPostID
	s.nextSeatPostID++
	post.Verifications = model.Verifications{}
	post.Status = model.SeatPostActive
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	s.seatPosts[post.ID] = *cloneSeatPost(post)
	return cloneSeatPost(post), nil
}

func (s *memStore) SeatPosts(_ context.Context) ([]model.SeatPost, error) {
	return s.filterSeatPosts(func(model.SeatPost) bool { return true }), nil
}

func (s *memStore) ActiveSeatPosts(_ context.Context, now time.Time) ([]model.SeatPost, error) {
	return s.filterSeatPosts(func(p model.SeatPost) bool { return p.IsActiveAt(now) }), nil
}

func (s *memStore) SeatPostsByZone(_ context.Context, zone string, now time.Time) ([]model.SeatPost, error) {
	return s.filterSeatPosts(func(p model.SeatPost) bool {
		return p.IsActiveAt(now) && zoneMatches(p.Location.Zone, zone)
	}), nil
}

// filterSeatPosts returns matching posts, newest-created first.
func (s *memStore) filterSeatPosts(keep func(model.SeatPost) bool) []model.SeatPost {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SeatPost, 0)
	for _, p := range s.seatPosts {
		if keep(p) {
			out = append(out, *cloneSeatPost(p))
		}
	}
	sortNewestFirst(out)
	return out
}

func (s *memStore) UpdateSeatPostStatus(_ context.Context, id int64, status model.SeatPostStatus) (*model.SeatPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.seatPosts[id]
	if !ok {
		return nil, fmt.Errorf("seat post %d: %w", id, ErrNotFound)
	}
	p.Status = status
	s.seatPosts[id] = p
	return cloneSeatPost(p), nil
}

func (s *memStore) VerifySeatPost(_ context.Context, id int64, isPositive bool) (*model.SeatPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.seatPosts[id]
	if !ok {
		return nil, fmt.Errorf("seat post %d: %w", id, ErrNotFound)
	}
	if isPositive {
		p.Verifications.Positive++
	} else {
		p.Verifications.Negative++
	}
	s.seatPosts[id] = p
	return cloneSeatPost(p), nil
}

// --- Announcements ---

func (s *memStore) CreateAnnouncement(_ context.Context, a model.Announcement) (*model.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.nextAnnouncementID
	s.nextAnnouncementID++
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.announcements[a.ID] = *cloneAnnouncement(a)
	return cloneAnnouncement(a), nil
}

func (s *memStore) ActiveAnnouncements(_ context.Context, now time.Time) ([]model.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Announcement, 0)
	for _, a := range s.announcements {
		if a.IsActiveAt(now) {
			out = append(out, *cloneAnnouncement(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) DeactivateAnnouncement(_ context.Context, id int64) (*model.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.announcements[id]
	if !ok {
		return nil, fmt.Errorf("announcement %d: %w", id, ErrNotFound)
	}
	a.IsActive = false
	s.announcements[id] = a
	return cloneAnnouncement(a), nil
}

// --- Push subscriptions ---

func (s *memStore) SavePushSubscription(_ context.Context, sub model.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pushSubs[sub.Endpoint]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	s.pushSubs[sub.Endpoint] = sub
	return nil
}

func (s *memStore) DeletePushSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pushSubs, endpoint)
	return nil
}

func (s *memStore) PushSubscriptionsForUser(_ context.Context, userID int64) ([]model.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PushSubscription, 0)
	for _, sub := range s.pushSubs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

// --- Hygiene ---

func (s *memStore) ExpireSeatPosts(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, p := range s.seatPosts {
		if p.Status == model.SeatPostActive && !p.EndTime.After(now) {
			p.Status = model.SeatPostExpired
			s.seatPosts[id] = p
			n++
		}
	}
	return n, nil
}

func (s *memStore) ExpireAnnouncements(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, a := range s.announcements {
		if a.IsActive && a.Expiry != nil && !a.Expiry.After(now) {
			a.IsActive = false
			s.announcements[id] = a
			n++
		}
	}
	return n, nil
}

// --- copies ---

func sortNewestFirst(posts []model.SeatPost) {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
}

func cloneUser(u model.User) *model.User {
	u.Preferences.FavoriteAreas = append([]string{}, u.Preferences.FavoriteAreas...)
	return &u
}

func cloneZone(z model.Zone) *model.Zone {
	z.Resources = append([]string{}, z.Resources...)
	return &z
}

func cloneRecord(r model.OccupancyRecord) *model.OccupancyRecord {
	zones := make(map[string]int, len(r.ZoneOccupancy))
	for k, v := range r.ZoneOccupancy {
		zones[k] = v
	}
	r.ZoneOccupancy = zones
	return &r
}

func cloneSeatPost(p model.SeatPost) *model.SeatPost {
	if p.Location.Coordinates != nil {
		pt := *p.Location.Coordinates
		p.Location.Coordinates = &pt
	}
	return &p
}

func cloneAnnouncement(a model.Announcement) *model.Announcement {
	if a.Expiry != nil {
		exp := *a.Expiry
		a.Expiry = &exp
	}
	return &a
}
