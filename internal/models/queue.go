package models

import (
	"encoding/json"
	"time"
)

// QueueEntry is one pending mutation awaiting replay against the remote API.
type QueueEntry struct {
	ID         int64           `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	Action     Action          `json:"action"`
	RecordID   string          `json:"record_id"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}
