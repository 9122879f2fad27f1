package ingest

import (
	"context"
	"fmt"
	"math"

	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/wire"
)

// Percentage is the only place occupancy percentages are derived.
func Percentage(current, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(capacity) * 100))
}

// ZoneSummaries converts zones into their live feed form.
func ZoneSummaries(zones []model.Zone) []wire.ZoneOccupancy {
	out := make([]wire.ZoneOccupancy, 0, len(zones))
	for _, z := range zones {
		out = append(out, wire.ZoneOccupancy{
			ID:         z.ID,
			Name:       z.Name,
			Current:    z.CurrentOccupancy,
			Capacity:   z.Capacity,
			Percentage: Percentage(z.CurrentOccupancy, z.Capacity),
		})
	}
	return out
}

// Occupancy builds the occupancyUpdate payload from the event log aggregate.
func (s *Service) Occupancy(ctx context.Context) (wire.OccupancyUpdate, error) {
	current, err := s.store.CurrentOccupancy(ctx)
	if err != nil {
		return wire.OccupancyUpdate{}, fmt.Errorf("load occupancy: %w", err)
	}
	total, err := s.store.TotalCapacity(ctx)
	if err != nil {
		return wire.OccupancyUpdate{}, fmt.Errorf("load total capacity: %w", err)
	}
	zones, err := s.store.Zones(ctx)
	if err != nil {
		return wire.OccupancyUpdate{}, fmt.Errorf("load zones: %w", err)
	}
	return wire.OccupancyUpdate{
		Current:    current,
		Total:      total,
		Percentage: Percentage(current, total),
		Zones:      ZoneSummaries(zones),
	}, nil
}

// Capacity builds the capacityUpdate payload.
func (s *Service) Capacity(ctx context.Context) (wire.CapacityUpdate, error) {
	total, err := s.store.TotalCapacity(ctx)
	if err != nil {
		return wire.CapacityUpdate{}, fmt.Errorf("load total capacity: %w", err)
	}
	zones, err := s.store.Zones(ctx)
	if err != nil {
		return wire.CapacityUpdate{}, fmt.Errorf("load zones: %w", err)
	}
	return wire.CapacityUpdate{Zones: zones, TotalCapacity: total}, nil
}

// ActiveSeatPosts returns live seat posts, newest first.
func (s *Service) ActiveSeatPosts(ctx context.Context) ([]model.SeatPost, error) {
	posts, err := s.store.ActiveSeatPosts(ctx, s.Now())
	if err != nil {
		return nil, fmt.Errorf("load seat posts: %w", err)
	}
	return posts, nil
}

// Snapshot builds the initialData payload for a new connection.
func (s *Service) Snapshot(ctx context.Context) (wire.InitialData, error) {
	occ, err := s.Occupancy(ctx)
	if err != nil {
		return wire.InitialData{}, err
	}
	now := s.Now()
	announcements, err := s.store.ActiveAnnouncements(ctx, now)
	if err != nil {
		return wire.InitialData{}, fmt.Errorf("load announcements: %w", err)
	}
	posts, err := s.store.ActiveSeatPosts(ctx, now)
	if err != nil {
		return wire.InitialData{}, fmt.Errorf("load seat posts: %w", err)
	}
	return wire.InitialData{
		Occupancy: wire.OccupancySummary{
			Current: occ.Current,
			Total:   occ.Total,
			Zones:   occ.Zones,
		},
		Announcements: announcements,
		SeatPosts:     posts,
	}, nil
}
