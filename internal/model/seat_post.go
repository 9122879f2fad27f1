package model

import "time"

// SeatPostStatus is the stored lifecycle state of a seat post.
type SeatPostStatus string

const (
	SeatPostActive  SeatPostStatus = "active"
	SeatPostExpired SeatPostStatus = "expired"
	SeatPostRemoved SeatPostStatus = "removed"
)

// Valid reports whether s is one of the known statuses.
func (s SeatPostStatus) Valid() bool {
	switch s {
	case SeatPostActive, SeatPostExpired, SeatPostRemoved:
		return true
	}
	return false
}

// Point is a position on the floor map.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SeatLocation identifies where a seat post applies.
type SeatLocation struct {
	Zone        string `json:"zone"`
	SeatID      string `json:"seatId,omitempty"`
	Coordinates *Point `json:"coordinates,omitempty"`
}

// Verifications counts community votes on a seat post. Both counters only grow.
type Verifications struct {
	Positive int `gorm:"not null" json:"positive"`
	Negative int `gorm:"not null" json:"negative"`
}

// SeatPost is a time-bounded, community-submitted claim about a seat.
type SeatPost struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	UserID        int64          `gorm:"index;not null" json:"userId"`
	Location      SeatLocation   `gorm:"serializer:json;not null" json:"location"`
	ImageURL      string         `gorm:"size:512" json:"imageUrl,omitempty"`
	Duration      int            `gorm:"not null" json:"duration"` // minutes
	EndTime       time.Time      `gorm:"index;not null" json:"endTime"`
	GroupSize     int            `gorm:"not null" json:"groupSize"`
	Message       string         `gorm:"size:1024" json:"message,omitempty"`
	IsAnonymous   bool           `gorm:"not null" json:"isAnonymous"`
	Verifications Verifications  `gorm:"embedded;embeddedPrefix:verifications_" json:"verifications"`
	Status        SeatPostStatus `gorm:"size:16;index;not null" json:"status"`
	CreatedAt     time.Time      `gorm:"index;not null" json:"createdAt"`
}

// IsActiveAt reports whether the post is still live at now. A post whose
// end time has passed is inert even if its stored status is still active.
func (p *SeatPost) IsActiveAt(now time.Time) bool {
	return p.Status == SeatPostActive && p.EndTime.After(now)
}
