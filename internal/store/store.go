package store

import (
	"context"
	"errors"
	"time"

	"library-occupancy-backend/internal/model"
)

// ErrNotFound is returned when an operation targets an unknown entity id.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a new entity collides with a unique field of an existing one.
var ErrConflict = errors.New("already exists")

// DefaultTotalCapacity is the library-wide capacity used until an operator changes it.
const DefaultTotalCapacity = 400

// Store is the single source of truth for all library state. Implementations
// must make every call atomic with respect to the others.
type Store interface {
	// Users
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByStudentID(ctx context.Context, studentID string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error)
	CreateUser(ctx context.Context, user model.User) (*model.User, error)
	UpdateUserPreferences(ctx context.Context, id int64, prefs model.Preferences) (*model.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)

	// Occupancy
	RecordEntryExit(ctx context.Context, event model.EntryExitEvent) (*model.EntryExitEvent, error)
	CurrentOccupancy(ctx context.Context) (int, error)
	ZoneOccupancy(ctx context.Context, zoneID int64) (int, error)
	AllZoneOccupancy(ctx context.Context) (map[string]int, error)
	SaveOccupancyRecord(ctx context.Context, record model.OccupancyRecord) (*model.OccupancyRecord, error)
	OccupancyHistory(ctx context.Context, start, end time.Time) ([]model.OccupancyRecord, error)
	RecentEntryExits(ctx context.Context, limit int) ([]model.EntryExitEvent, error)

	// Zones
	Zones(ctx context.Context) ([]model.Zone, error)
	Zone(ctx context.Context, id int64) (*model.Zone, error)
	UpdateZoneOccupancy(ctx context.Context, id int64, current int) (*model.Zone, error)
	UpdateZoneCapacity(ctx context.Context, id int64, capacity int) (*model.Zone, error)
	TotalCapacity(ctx context.Context) (int, error)
	SetTotalCapacity(ctx context.Context, capacity int) error
	SeedZones(ctx context.Context, zones []model.Zone) error

	// Seat posts
	CreateSeatPost(ctx context.Context, post model.SeatPost) (*model.SeatPost, error)
	SeatPosts(ctx context.Context) ([]model.SeatPost, error)
	ActiveSeatPosts(ctx context.Context, now time.Time) ([]model.SeatPost, error)
	SeatPostsByZone(ctx context.Context, zone string, now time.Time) ([]model.SeatPost, error)
	UpdateSeatPostStatus(ctx context.Context, id int64, status model.SeatPostStatus) (*model.SeatPost, error)
	VerifySeatPost(ctx context.Context, id int64, isPositive bool) (*model.SeatPost, error)

	// Announcements
	CreateAnnouncement(ctx context.Context, a model.Announcement) (*model.Announcement, error)
	ActiveAnnouncements(ctx context.Context, now time.Time) ([]model.Announcement, error)
	DeactivateAnnouncement(ctx context.Context, id int64) (*model.Announcement, error)

	// Push subscriptions
	SavePushSubscription(ctx context.Context, sub model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
	PushSubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)

	// Storage hygiene. Reads never depend on these having run.
	ExpireSeatPosts(ctx context.Context, now time.Time) (int, error)
	ExpireAnnouncements(ctx context.Context, now time.Time) (int, error)
}

func clampOccupancy(entries, exits int) int {
	if n := entries - exits; n > 0 {
		return n
	}
	return 0
}

// zoneMatches reports whether a seat post's zone label refers to the requested zone.
func zoneMatches(label, want string) bool {
	if label == want {
		return true
	}
	return slugOf(label) == slugOf(want)
}
