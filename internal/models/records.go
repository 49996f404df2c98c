package models

import "time"

// Pickup request statuses.
const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Location is a pickup address saved by a user.
type Location struct {
	Meta
	Name      string  `json:"name" validate:"required,max=100"`
	Address   string  `json:"address" validate:"required,max=300"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	IsDefault bool    `json:"is_default"`
}

// PickupRequest asks for bags to be collected from a location.
type PickupRequest struct {
	Meta
	LocationID   string     `json:"location_id" validate:"required"`
	WasteType    string     `json:"waste_type" validate:"required,oneof=general recyclable organic hazardous electronic"`
	BagCount     int        `json:"bag_count" validate:"min=1,max=50"`
	Status       string     `json:"status" validate:"oneof=pending scheduled completed cancelled"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Notes        string     `json:"notes,omitempty" validate:"max=500"`
}

// BagScan records a scanned bag batch code.
type BagScan struct {
	Meta
	BatchCode string    `json:"batch_code" validate:"required,max=64"`
	BagType   string    `json:"bag_type" validate:"required,oneof=general recyclable organic"`
	Quantity  int       `json:"quantity" validate:"min=1,max=100"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Profile is the user's contact data. Its id is the user id.
type Profile struct {
	Meta
	Name    string `json:"name" validate:"required,max=100"`
	Phone   string `json:"phone,omitempty" validate:"max=32"`
	Address string `json:"address,omitempty" validate:"max=300"`
}

// Preferences are the user's notification flags. Its id is the user id.
type Preferences struct {
	Meta
	PushNotifications bool   `json:"push_notifications"`
	EmailUpdates      bool   `json:"email_updates"`
	SMSReminders      bool   `json:"sms_reminders"`
	PickupReminders   bool   `json:"pickup_reminders"`
	Language          string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
}
