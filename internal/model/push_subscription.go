package model

import "time"

// PushSubscription holds a browser push endpoint used for crowding alerts.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth      string    `gorm:"not null" json:"auth"`
	UserID    int64     `gorm:"index;not null" json:"userId"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}
