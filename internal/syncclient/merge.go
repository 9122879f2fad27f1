package syncclient

import (
	"fmt"

	"library-occupancy-backend/internal/ingest"
	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/wire"
)

// merge folds one server message into m. Each message type replaces the
// part of the mirror it describes.
func merge(m *Mirror, msg wire.Message) error {
	switch msg.Type {
	case wire.TypeInitialData:
		var data wire.InitialData
		if err := msg.Into(&data); err != nil {
			return err
		}
		m.Occupancy = &wire.OccupancyUpdate{
			Current:    data.Occupancy.Current,
			Total:      data.Occupancy.Total,
			Percentage: ingest.Percentage(data.Occupancy.Current, data.Occupancy.Total),
			Zones:      data.Occupancy.Zones,
		}
		m.Announcements = data.Announcements
		m.SeatPosts = data.SeatPosts

	case wire.TypeOccupancyUpdate:
		var data wire.OccupancyUpdate
		if err := msg.Into(&data); err != nil {
			return err
		}
		m.Occupancy = &data

	case wire.TypeCapacityUpdate:
		var data wire.CapacityUpdate
		if err := msg.Into(&data); err != nil {
			return err
		}
		m.Capacity = &data

	case wire.TypeSeatPosts:
		var posts []model.SeatPost
		if err := msg.Into(&posts); err != nil {
			return err
		}
		m.SeatPosts = posts

	case wire.TypeNewSeatPost, wire.TypeSeatPostUpdate:
		var post model.SeatPost
		if err := msg.Into(&post); err != nil {
			return err
		}
		m.SeatPosts = upsertPost(m.SeatPosts, post)

	case wire.TypeNewAnnouncement, wire.TypeAnnouncementUpdate:
		var a model.Announcement
		if err := msg.Into(&a); err != nil {
			return err
		}
		m.Announcements = upsertAnnouncement(m.Announcements, a)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// upsertPost replaces post in place, prepends it if new, and drops it once
// it is no longer active.
func upsertPost(posts []model.SeatPost, post model.SeatPost) []model.SeatPost {
	out := make([]model.SeatPost, 0, len(posts)+1)
	found := false
	for _, p := range posts {
		if p.ID != post.ID {
			out = append(out, p)
			continue
		}
		found = true
		if post.Status == model.SeatPostActive {
			out = append(out, post)
		}
	}
	if !found && post.Status == model.SeatPostActive {
		out = append([]model.SeatPost{post}, out...)
	}
	return out
}

func upsertAnnouncement(list []model.Announcement, a model.Announcement) []model.Announcement {
	out := make([]model.Announcement, 0, len(list)+1)
	found := false
	for _, existing := range list {
		if existing.ID != a.ID {
			out = append(out, existing)
			continue
		}
		found = true
		if a.IsActive {
			out = append(out, a)
		}
	}
	if !found && a.IsActive {
		out = append(out, a)
	}
	return out
}
