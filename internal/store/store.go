// Package store is the durable local database shared by the foreground client
// and the background sync worker.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

// Reader is the read side of a store or transaction.
type Reader interface {
	// Get returns one document or models.ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// All returns every document in a collection, deleted ones included.
	All(ctx context.Context, collection string) ([]Document, error)

	// Query returns documents whose indexed field equals value.
	Query(ctx context.Context, collection, index string, value interface{}) ([]Document, error)
}

// Tx is a read/write transaction. All writes commit together or not at all.
type Tx interface {
	Reader

	// Put inserts or replaces a document.
	Put(ctx context.Context, collection string, doc Document) error

	// Delete removes a document. Deleting a missing id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Enqueue appends a sync queue entry and returns its id.
	Enqueue(ctx context.Context, entry models.QueueEntry) (int64, error)

	// DeleteEntry removes a queue entry. A missing id is not an error.
	DeleteEntry(ctx context.Context, id int64) error

	// RewriteRecordID points queued entries for oldID at newID and returns
	// how many were rewritten.
	RewriteRecordID(ctx context.Context, entityType models.EntityType, oldID, newID string) (int, error)

	// RewriteReference replaces oldID with newID in the given payload field
	// of queued entries of entityType.
	RewriteReference(ctx context.Context, entityType models.EntityType, field, oldID, newID string) (int, error)
}

// Store manages the local collections and the sync queue.
type Store interface {
	Tx

	// Update runs fn in a transaction. It commits if fn returns nil and
	// rolls back on error or panic. fn must only use the Tx it is given.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// QueueEntries returns a snapshot of the queue ordered by id.
	QueueEntries(ctx context.Context) ([]models.QueueEntry, error)

	// MarkAttempt increments an entry's attempt counter and records the error.
	MarkAttempt(ctx context.Context, id int64, errMsg string) error

	// QueueLength counts queued entries.
	QueueLength(ctx context.Context) (int, error)

	// CountUnsynced counts documents in a collection with synced=false.
	CountUnsynced(ctx context.Context, collection string) (int, error)

	// SchemaVersion returns the on-disk schema version.
	SchemaVersion() int

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownIndex      = errors.New("unknown index")
)

// Document is a stored record. Body holds the full JSON record; the other
// fields are promoted copies used for indexing.
type Document struct {
	ID        string
	UserID    string
	Synced    bool
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Body      json.RawMessage
}

// NewDocument encodes an entity into a Document.
func NewDocument(e models.Entity) (Document, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return Document{}, fmt.Errorf("encode record: %w", err)
	}

	m := e.Metadata()
	return Document{
		ID:        m.ID,
		UserID:    m.UserID,
		Synced:    m.Synced,
		Deleted:   m.Deleted,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Body:      body,
	}, nil
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v interface{}) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("decode record %s: %w", d.ID, err)
	}
	return nil
}

// Patch sets top-level fields in the body and keeps promoted fields in step.
func (d *Document) Patch(fields map[string]interface{}) error {
	body := make(map[string]interface{})
	if len(d.Body) > 0 {
		if err := json.Unmarshal(d.Body, &body); err != nil {
			return fmt.Errorf("decode record %s: %w", d.ID, err)
		}
	}

	for k, v := range fields {
		body[k] = v
		switch k {
		case "id":
			d.ID, _ = v.(string)
		case "user_id":
			d.UserID, _ = v.(string)
		case "synced":
			d.Synced, _ = v.(bool)
		case "_isDeleted":
			d.Deleted, _ = v.(bool)
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", d.ID, err)
	}
	d.Body = data
	return nil
}

// Options configure Open.
type Options struct {
	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver string
	Path   string
}

// rewriteDataID replaces the "id" field of a queued payload.
func rewriteDataID(data string, newID string) (string, error) {
	out, _, err := rewriteField(data, "id", "", newID)
	return out, err
}

// rewriteField sets field to newID when it is present and, if oldID is not
// empty, currently equals oldID. It reports whether the payload changed.
func rewriteField(data, field, oldID, newID string) (string, bool, error) {
	if data == "" || data == "null" {
		return data, false, nil
	}

	var body map[string]interface{}
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return "", false, fmt.Errorf("decode payload: %w", err)
	}
	cur, ok := body[field]
	if !ok {
		return data, false, nil
	}
	if oldID != "" && cur != oldID {
		return data, false, nil
	}
	body[field] = newID

	out, err := json.Marshal(body)
	if err != nil {
		return "", false, fmt.Errorf("encode payload: %w", err)
	}
	return string(out), true, nil
}
