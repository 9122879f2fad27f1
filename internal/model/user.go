package model

import "time"

// Role of a library user.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
)

// Preferences holds per-user notification settings.
type Preferences struct {
	Notifications         bool     `json:"notifications"`
	NotificationThreshold int      `json:"notificationThreshold"` // percent
	FavoriteAreas         []string `json:"favoriteAreas"`
}

// DefaultPreferences are assigned to users on first login.
func DefaultPreferences() Preferences {
	return Preferences{
		Notifications:         true,
		NotificationThreshold: 75,
		FavoriteAreas:         []string{},
	}
}

// User is created on the first successful external login and never deleted.
type User struct {
	ID           int64       `gorm:"primaryKey" json:"id"`
	StudentID    string      `gorm:"uniqueIndex;size:64;not null" json:"studentId"`
	Email        string      `gorm:"uniqueIndex;size:256;not null" json:"email"`
	Name         string      `gorm:"size:256;not null" json:"name"`
	ProfileImage string      `gorm:"size:512" json:"profileImage,omitempty"`
	Role         Role        `gorm:"size:16;not null" json:"role"`
	ExternalID   string      `gorm:"uniqueIndex;size:256;not null" json:"-"`
	CreatedAt    time.Time   `gorm:"not null" json:"createdAt"`
	LastLogin    time.Time   `gorm:"not null" json:"lastLogin"`
	Preferences  Preferences `gorm:"serializer:json" json:"preferences"`
}
