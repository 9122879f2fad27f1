package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library-occupancy-backend/internal/model"
)

const settingsRowID = 1

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// --- Users ---

func (s *gormStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &u, nil
}

func (s *gormStore) GetUserByStudentID(ctx context.Context, studentID string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("student_id = ?", studentID).First(&u).Error; err != nil {
		return nil, notFound(err, "user with student id %q", studentID)
	}
	return &u, nil
}

func (s *gormStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, notFound(err, "user with email %q", email)
	}
	return &u, nil
}

func (s *gormStore) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&u).Error; err != nil {
		return nil, notFound(err, "user with external id")
	}
	return &u, nil
}

func (s *gormStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	user.ID = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&model.User{}).
			Where("student_id = ? OR email = ? OR external_id = ?", user.StudentID, user.Email, user.ExternalID).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrConflict
		}
		err := tx.Create(&user).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", user.Email, err)
	}
	return &user, nil
}

func (s *gormStore) UpdateUserPreferences(ctx context.Context, id int64, prefs model.Preferences) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&u, id).Error; err != nil {
			return notFound(err, "user %d", id)
		}
		u.Preferences = prefs
		return tx.Save(&u).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) TouchLastLogin(ctx context.Context, id int64, at time.Time) (*model.User, error) {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("last_login", at)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to touch last login for user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

func (s *gormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// --- Occupancy ---

// RecordEntryExit appends the event and the derived occupancy record in one transaction.
func (s *gormStore) RecordEntryExit(ctx context.Context, event model.EntryExitEvent) (*model.EntryExitEvent, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ID = 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to append entry/exit event: %w", err)
		}
		current, err := currentOccupancy(tx)
		if err != nil {
			return err
		}
		zones, err := zoneOccupancy(tx)
		if err != nil {
			return err
		}
		total, err := totalCapacity(tx)
		if err != nil {
			return err
		}
		record := model.OccupancyRecord{
			Timestamp:        event.Timestamp,
			CurrentOccupancy: current,
			Capacity:         total,
			ZoneOccupancy:    zones,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to append occupancy record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

type eventCount struct {
	EventType model.EventType
	Total     int
}

func currentOccupancy(tx *gorm.DB) (int, error) {
	var counts []eventCount
	err := tx.Model(&model.EntryExitEvent{}).
		Select("event_type, COUNT(*) AS total").
		Group("event_type").
		Scan(&counts).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count entry/exit events: %w", err)
	}
	var entries, exits int
	for _, c := range counts {
		switch c.EventType {
		case model.EventEntry:
			entries = c.Total
		case model.EventExit:
			exits = c.Total
		}
	}
	return clampOccupancy(entries, exits), nil
}

func zoneOccupancy(tx *gorm.DB) (map[string]int, error) {
	var zones []model.Zone
	if err := tx.Find(&zones).Error; err != nil {
		return nil, fmt.Errorf("failed to load zones: %w", err)
	}
	out := make(map[string]int, len(zones))
	for _, z := range zones {
		out[strconv.FormatInt(z.ID, 10)] = z.CurrentOccupancy
	}
	return out, nil
}

func totalCapacity(tx *gorm.DB) (int, error) {
	var setting model.LibrarySetting
	err := tx.First(&setting, settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultTotalCapacity, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load library settings: %w", err)
	}
	return setting.TotalCapacity, nil
}

func (s *gormStore) CurrentOccupancy(ctx context.Context) (int, error) {
	return currentOccupancy(s.db.WithContext(ctx))
}

func (s *gormStore) ZoneOccupancy(ctx context.Context, zoneID int64) (int, error) {
	z, err := s.Zone(ctx, zoneID)
	if err != nil {
		return 0, err
	}
	return z.CurrentOccupancy, nil
}

func (s *gormStore) AllZoneOccupancy(ctx context.Context) (map[string]int, error) {
	return zoneOccupancy(s.db.WithContext(ctx))
}

func (s *gormStore) SaveOccupancyRecord(ctx context.Context, record model.OccupancyRecord) (*model.OccupancyRecord, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.ID = 0
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to save occupancy record: %w", err)
	}
	return &record, nil
}

func (s *gormStore) OccupancyHistory(ctx context.Context, start, end time.Time) ([]model.OccupancyRecord, error) {
	records := []model.OccupancyRecord{}
	err := s.db.WithContext(ctx).
		Where(`"timestamp" >= ? AND "timestamp" <= ?`, start, end).
		Order(`"timestamp" ASC, id ASC`).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load occupancy history: %w", err)
	}
	return records, nil
}

func (s *gormStore) RecentEntryExits(ctx context.Context, limit int) ([]model.EntryExitEvent, error) {
	events := []model.EntryExitEvent{}
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load entry/exit events: %w", err)
	}
	return events, nil
}

// --- Zones ---

func (s *gormStore) Zones(ctx context.Context) ([]model.Zone, error) {
	zones := []model.Zone{}
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&zones).Error; err != nil {
		return nil, fmt.Errorf("failed to load zones: %w", err)
	}
	return zones, nil
}

func (s *gormStore) Zone(ctx context.Context, id int64) (*model.Zone, error) {
	var z model.Zone
	if err := s.db.WithContext(ctx).First(&z, id).Error; err != nil {
		return nil, notFound(err, "zone %d", id)
	}
	return &z, nil
}

func (s *gormStore) updateZoneColumn(ctx context.Context, id int64, column string, value int) (*model.Zone, error) {
	res := s.db.WithContext(ctx).Model(&model.Zone{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update %s of zone %d: %w", column, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("zone %d: %w", id, ErrNotFound)
	}
	return s.Zone(ctx, id)
}

func (s *gormStore) UpdateZoneOccupancy(ctx context.Context, id int64, current int) (*model.Zone, error) {
	return s.updateZoneColumn(ctx, id, "current_occupancy", current)
}

func (s *gormStore) UpdateZoneCapacity(ctx context.Context, id int64, capacity int) (*model.Zone, error) {
	return s.updateZoneColumn(ctx, id, "capacity", capacity)
}

func (s *gormStore) TotalCapacity(ctx context.Context) (int, error) {
	return totalCapacity(s.db.WithContext(ctx))
}

func (s *gormStore) SetTotalCapacity(ctx context.Context, capacity int) error {
	setting := model.LibrarySetting{ID: settingsRowID, TotalCapacity: capacity}
	if err := s.db.WithContext(ctx).Save(&setting).Error; err != nil {
		return fmt.Errorf("failed to save total capacity: %w", err)
	}
	return nil
}

func (s *gormStore) SeedZones(ctx context.Context, zones []model.Zone) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Zone{}).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to count zones: %w", err)
		}
		if n > 0 || len(zones) == 0 {
			return nil
		}
		rows := make([]model.Zone, len(zones))
		for i, z := range zones {
			z.ID = 0
			if z.Slug == "" {
				z.Slug = slugOf(z.Name)
			}
			rows[i] = z
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to seed zones: %w", err)
		}
		return nil
	})
}

// --- Seat posts ---

func (s *gormStore) CreateSeatPost(ctx context.Context, post model.SeatPost) (*model.SeatPost, error) {
	post.ID = 0
	post.Verifications = model.Verifications{}
	post.Status = model.SeatPostActive
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, fmt.Errorf("failed to create seat post: %w", err)
	}
	return &post, nil
}

func (s *gormStore) SeatPosts(ctx context.Context) ([]model.SeatPost, error) {
	posts := []model.SeatPost{}
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to load seat posts: %w", err)
	}
	return posts, nil
}

func (s *gormStore) ActiveSeatPosts(ctx context.Context, now time.Time) ([]model.SeatPost, error) {
	posts := []model.SeatPost{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_time > ?", model.SeatPostActive, now).
		Order("created_at DESC, id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active seat posts: %w", err)
	}
	return posts, nil
}

// SeatPostsByZone filters in Go because the zone label lives inside the JSON location column.
func (s *gormStore) SeatPostsByZone(ctx context.Context, zone string, now time.Time) ([]model.SeatPost, error) {
	active, err := s.ActiveSeatPosts(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]model.SeatPost, 0, len(active))
	for _, p := range active {
		if zoneMatches(p.Location.Zone, zone) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *gormStore) loadSeatPost(ctx context.Context, id int64) (*model.SeatPost, error) {
	var p model.SeatPost
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "seat post %d", id)
	}
	return &p, nil
}

func (s *gormStore) UpdateSeatPostStatus(ctx context.Context, id int64, status model.SeatPostStatus) (*model.SeatPost, error) {
	res := s.db.WithContext(ctx).Model(&model.SeatPost{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update seat post %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("seat post %d: %w", id, ErrNotFound)
	}
	return s.loadSeatPost(ctx, id)
}

// VerifySeatPost increments the counter in SQL so concurrent votes are never lost.
func (s *gormStore) VerifySeatPost(ctx context.Context, id int64, isPositive bool) (*model.SeatPost, error) {
	column := "verifications_negative"
	if isPositive {
		column = "verifications_positive"
	}
	res := s.db.WithContext(ctx).Model(&model.SeatPost{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to verify seat post %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("seat post %d: %w", id, ErrNotFound)
	}
	return s.loadSeatPost(ctx, id)
}

// --- Announcements ---

func (s *gormStore) CreateAnnouncement(ctx context.Context, a model.Announcement) (*model.Announcement, error) {
	a.ID = 0
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, fmt.Errorf("failed to create announcement: %w", err)
	}
	return &a, nil
}

func (s *gormStore) ActiveAnnouncements(ctx context.Context, now time.Time) ([]model.Announcement, error) {
	out := []model.Announcement{}
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND (expiry IS NULL OR expiry > ?)", true, now).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load announcements: %w", err)
	}
	return out, nil
}

func (s *gormStore) DeactivateAnnouncement(ctx context.Context, id int64) (*model.Announcement, error) {
	var a model.Announcement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&a, id).Error; err != nil {
			return notFound(err, "announcement %d", id)
		}
		if !a.IsActive {
			return nil
		}
		a.IsActive = false
		return tx.Model(&a).Update("is_active", false).Error
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- Push subscriptions ---

func (s *gormStore) SavePushSubscription(ctx context.Context, sub model.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "user_id"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

func (s *gormStore) PushSubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	subs := []model.PushSubscription{}
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("endpoint ASC").Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load push subscriptions for user %d: %w", userID, err)
	}
	return subs, nil
}

// --- Hygiene ---

func (s *gormStore) ExpireSeatPosts(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&model.SeatPost{}).
		Where("status = ? AND end_time <= ?", model.SeatPostActive, now).
		Update("status", model.SeatPostExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire seat posts: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *gormStore) ExpireAnnouncements(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Model(&model.Announcement{}).
		Where("is_active = ? AND expiry IS NOT NULL AND expiry <= ?", true, now).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire announcements: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
