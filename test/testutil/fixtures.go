package testutil

import (
	"bytes"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
)

// TestUserID is the user every fixture belongs to.
const TestUserID = "user-1"

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// FixedClock returns a clock that advances by step on every call.
func FixedClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

// Location returns a valid, unsaved location.
func Location(name string) *models.Location {
	return &models.Location{
		Meta:      models.Meta{UserID: TestUserID},
		Name:      name,
		Address:   name + " Street 1",
		Latitude:  52.52,
		Longitude: 13.40,
	}
}

// Pickup returns a valid, unsaved pickup request at locationID.
func Pickup(locationID string) *models.PickupRequest {
	return &models.PickupRequest{
		Meta:       models.Meta{UserID: TestUserID},
		LocationID: locationID,
		WasteType:  "recyclable",
		BagCount:   2,
	}
}

// Bag returns a valid, unsaved bag scan.
func Bag(batch string) *models.BagScan {
	return &models.BagScan{
		Meta:      models.Meta{UserID: TestUserID},
		BatchCode: batch,
		BagType:   "organic",
		Quantity:  1,
	}
}

// Profile returns a valid profile for the test user.
func Profile(name string) *models.Profile {
	return &models.Profile{
		Meta:  models.Meta{UserID: TestUserID},
		Name:  name,
		Phone: "+49 30 1234567",
	}
}

// Preferences returns valid preferences for the test user.
func Preferences() *models.Preferences {
	return &models.Preferences{
		Meta:            models.Meta{UserID: TestUserID},
		EmailUpdates:    true,
		PickupReminders: true,
		Language:        "en",
	}
}
