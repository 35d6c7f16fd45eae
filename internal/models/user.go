package models

import "time"

// Defaults applied when a profile omits the do-not-disturb window.
const (
	DefaultDNDStart = "09:00"
	DefaultDNDEnd   = "17:00"
)

// User is a practice-app profile. The ID is assigned at creation and never
// changes; DeviceToken is nil until the client registers for notifications.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	DNDStart    string    `json:"dnd_start"`
	DNDEnd      string    `json:"dnd_end"`
	DeviceToken *string   `json:"device_token"`
	CreatedAt   time.Time `json:"created_at"`
}
