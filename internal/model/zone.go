package model

import "time"

// Coordinates locates a zone on the floor map.
type Coordinates struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Zone is a fixed physical area of the library with its own capacity.
type Zone struct {
	ID               int64       `gorm:"primaryKey" json:"id"`
	Name             string      `gorm:"size:128;not null" json:"name"`
	Slug             string      `gorm:"uniqueIndex;size:128;not null" json:"slug"`
	Capacity         int         `gorm:"not null" json:"capacity"`
	Resources        []string    `gorm:"serializer:json" json:"resources"`
	Coordinates      Coordinates `gorm:"serializer:json" json:"coordinates"`
	CurrentOccupancy int         `gorm:"not null" json:"currentOccupancy"` // may exceed Capacity
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// LibrarySetting holds library-wide values. There is a single row with ID 1.
type LibrarySetting struct {
	ID            int64 `gorm:"primaryKey"`
	TotalCapacity int   `gorm:"not null"`
	UpdatedAt     time.Time
}
