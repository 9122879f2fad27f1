package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gosimple/slug"

	"library-occupancy-backend/internal/model"
)

func slugOf(s string) string {
	return slug.Make(s)
}

// DefaultZones returns the reference zone catalog.
func DefaultZones() []model.Zone {
	zones := []model.Zone{
		{
			Name:             "Zone A - Reading Area",
			Capacity:         100,
			Resources:        []string{"quiet_reading", "power_outlets"},
			Coordinates:      model.Coordinates{X: 60, Y: 60, Width: 300, Height: 200},
			CurrentOccupancy: 32,
		},
		{
			Name:             "Zone B - Computer Lab",
			Capacity:         50,
			Resources:        []string{"computers", "printers", "scanners"},
			Coordinates:      model.Coordinates{X: 440, Y: 60, Width: 300, Height: 120},
			CurrentOccupancy: 47,
		},
		{
			Name:             "Zone C - Group Study",
			Capacity:         80,
			Resources:        []string{"group_tables", "whiteboards", "power_outlets"},
			Coordinates:      model.Coordinates{X: 440, Y: 220, Width: 300, Height: 120},
			CurrentOccupancy: 54,
		},
		{
			Name:             "Zone D - Quiet Zone",
			Capacity:         40,
			Resources:        []string{"silent_study", "individual_desks"},
			Coordinates:      model.Coordinates{X: 60, Y: 300, Width: 300, Height: 40},
			CurrentOccupancy: 22,
		},
	}
	for i := range zones {
		zones[i].Slug = slugOf(zones[i].Name)
	}
	return zones
}

// hourly demo occupancy starting at 08:00
var demoHourly = []int{45, 87, 156, 201, 245, 267, 310, 345, 290, 234, 178, 145}

// SeedDemo adds a sample announcement and a day of hourly occupancy history
// so dashboards have something to draw on a fresh instance.
func SeedDemo(ctx context.Context, s Store, now time.Time) error {
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	if _, err := s.CreateAnnouncement(ctx, model.Announcement{
		Message:   "The library will close early at 20:00 today due to system maintenance. Please plan accordingly.",
		Expiry:    &endOfDay,
		CreatedBy: 1,
		CreatedAt: now,
		IsActive:  true,
	}); err != nil {
		return fmt.Errorf("seed announcement: %w", err)
	}

	zones, err := s.Zones(ctx)
	if err != nil {
		return fmt.Errorf("seed history: %w", err)
	}
	total, err := s.TotalCapacity(ctx)
	if err != nil {
		return fmt.Errorf("seed history: %w", err)
	}
	shares := []float64{0.3, 0.25, 0.35, 0.1}

	start := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, now.Location())
	for i, count := range demoHourly {
		at := start.Add(time.Duration(i) * time.Hour)
		if at.After(now) {
			break
		}
		perZone := make(map[string]int, len(zones))
		for j, z := range zones {
			if j < len(shares) {
				perZone[strconv.FormatInt(z.ID, 10)] = int(float64(count) * shares[j])
			}
		}
		if _, err := s.SaveOccupancyRecord(ctx, model.OccupancyRecord{
			Timestamp:        at,
			CurrentOccupancy: count,
			Capacity:         total,
			ZoneOccupancy:    perZone,
		}); err != nil {
			return fmt.Errorf("seed history: %w", err)
		}
	}

	// The newest record must mirror the live zone counts.
	current, err := s.CurrentOccupancy(ctx)
	if err != nil {
		return fmt.Errorf("seed history: %w", err)
	}
	perZone, err := s.AllZoneOccupancy(ctx)
	if err != nil {
		return fmt.Errorf("seed history: %w", err)
	}
	if _, err := s.SaveOccupancyRecord(ctx, model.OccupancyRecord{
		Timestamp:        now,
		CurrentOccupancy: current,
		Capacity:         total,
		ZoneOccupancy:    perZone,
	}); err != nil {
		return fmt.Errorf("seed history: %w", err)
	}
	return nil
}
