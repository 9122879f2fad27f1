package model

import (
	"time"
)

// EventType distinguishes turnstile passes.
type EventType string

const (
	EventEntry EventType = "entry"
	EventExit  EventType = "exit"
)

// EntryExitEvent is an immutable log entry of someone passing a gate.
type EntryExitEvent struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	StudentID string    `gorm:"size:64;index;not null" json:"studentId"`
	EventType EventType `gorm:"size:8;index;not null" json:"eventType"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	DeviceID  string    `gorm:"size:64" json:"deviceId,omitempty"`
	Location  string    `gorm:"size:128" json:"location,omitempty"`
}

// OccupancyRecord is a snapshot of library occupancy (time-series table).
type OccupancyRecord struct {
	ID               int64          `gorm:"primaryKey" json:"id"`
	Timestamp        time.Time      `gorm:"index;not null" json:"timestamp"`
	CurrentOccupancy int            `gorm:"not null" json:"currentOccupancy"`
	Capacity         int            `gorm:"not null" json:"capacity"`
	ZoneOccupancy    map[string]int `gorm:"serializer:json" json:"zoneOccupancy"` // keyed by zone id
}
