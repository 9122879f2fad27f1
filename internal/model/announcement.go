package model

import "time"

// Announcement is an operator-authored banner message.
type Announcement struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	Message   string     `gorm:"size:2048;not null" json:"message"`
	Expiry    *time.Time `json:"expiry"`
	CreatedBy int64      `gorm:"not null" json:"createdBy"`
	CreatedAt time.Time  `gorm:"not null" json:"createdAt"`
	IsActive  bool       `gorm:"index;not null" json:"isActive"`
}

// IsActiveAt reports whether the announcement should be shown at now.
func (a *Announcement) IsActiveAt(now time.Time) bool {
	return a.IsActive && (a.Expiry == nil || a.Expiry.After(now))
}
