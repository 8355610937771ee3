package models

import "time"

// User is the subset of an account profile needed for notifications.
type User struct {
	ID          string  `json:"id"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
}

// Name returns the display name or a neutral fallback.
func (u *User) Name() string {
	if u == nil || u.DisplayName == nil || *u.DisplayName == "" {
		return "there"
	}
	return *u.DisplayName
}

// DeviceToken is one push destination owned by an account.
type DeviceToken struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Token     string    `json:"token"`
	DeviceID  *string   `json:"device_id,omitempty"`
	Platform  *string   `json:"platform,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenKey returns the storage key for a registration: the device id when
// the client supplies one, so re-registering a device overwrites its old token.
func TokenKey(token, deviceID string) string {
	if deviceID != "" {
		return deviceID
	}
	return token
}
