package models

import (
	"fmt"
	"time"
)

// EntityType names a kind of record that can be synchronized.
type EntityType string

const (
	EntityLocation      EntityType = "location"
	EntityPickupRequest EntityType = "pickup_request"
	EntityBag           EntityType = "bag"
	EntityProfile       EntityType = "profile"
	EntityPreferences   EntityType = "preferences"
)

// Collection names in the durable store.
const (
	CollectionLocations      = "locations"
	CollectionPickupRequests = "pickup_requests"
	CollectionBagScans       = "bag_scans"
	CollectionProfiles       = "profiles"
	CollectionPreferences    = "preferences"
	CollectionSyncQueue      = "sync_queue"
)

// EntityTypes lists every synchronized entity type.
var EntityTypes = []EntityType{
	EntityLocation,
	EntityPickupRequest,
	EntityBag,
	EntityProfile,
	EntityPreferences,
}

// Collection returns the store collection holding records of this type.
func (e EntityType) Collection() string {
	switch e {
	case EntityLocation:
		return CollectionLocations
	case EntityPickupRequest:
		return CollectionPickupRequests
	case EntityBag:
		return CollectionBagScans
	case EntityProfile:
		return CollectionProfiles
	case EntityPreferences:
		return CollectionPreferences
	}
	return ""
}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	return e.Collection() != ""
}

// ParseEntityType converts a string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return e, nil
}

// Action is the mutation recorded in a queue entry.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionSetDefault Action = "set_default"
)

// Meta holds the fields every stored record carries.
type Meta struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id" validate:"required"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"_isDeleted,omitempty"`
}

// Metadata returns the record's common fields.
func (m *Meta) Metadata() *Meta {
	return m
}

// Entity is implemented by every record type through its embedded Meta.
type Entity interface {
	Metadata() *Meta
}
