// Package repository turns user actions into durable records and sync queue
// entries. Local writes never depend on connectivity.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
)

// Status reports whether the remote API is believed reachable.
type Status interface {
	Online() bool
}

// Trigger starts a sync pass in the background.
type Trigger interface {
	Trigger()
}

// Deps are shared by every repository.
type Deps struct {
	Store  store.Store
	Status Status
	Syncer Trigger
	// EnqueueAlways records a queue entry for every mutation. When false,
	// entries are only recorded while offline.
	EnqueueAlways bool
	Logger        *events.Logger
	Bus           *events.Bus
	Now           func() time.Time
}

func (d Deps) online() bool {
	return d.Status != nil && d.Status.Online()
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateRecord(rec interface{}) error {
	if err := validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: %s failed %q", models.ErrInvalidRecord, f.Namespace(), f.Tag())
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidRecord, err)
	}
	return nil
}

// collection implements the stamping, persistence and enqueue rules shared
// by every record type.
type collection[T any, P interface {
	*T
	models.Entity
}] struct {
	deps   Deps
	entity models.EntityType
	logger *events.Logger
}

func newCollection[T any, P interface {
	*T
	models.Entity
}](deps Deps, entity models.EntityType) collection[T, P] {
	logger := deps.Logger
	if logger == nil {
		logger = events.NewDiscardLogger()
	}
	return collection[T, P]{
		deps:   deps,
		entity: entity,
		logger: logger.WithField("component", "repository").WithField("entity_type", string(entity)),
	}
}

func (c collection[T, P]) name() string {
	return c.entity.Collection()
}

func (c collection[T, P]) decode(doc store.Document) (P, error) {
	rec := P(new(T))
	if err := doc.Decode(rec); err != nil {
		return nil, err
	}
	// Promoted columns are authoritative for sync state.
	m := rec.Metadata()
	m.ID = doc.ID
	m.Synced = doc.Synced
	m.Deleted = doc.Deleted
	return rec, nil
}

func (c collection[T, P]) get(ctx context.Context, r store.Reader, id string) (P, error) {
	doc, err := r.Get(ctx, c.name(), id)
	if err != nil {
		return nil, err
	}
	return c.decode(doc)
}

func (c collection[T, P]) forUser(ctx context.Context, r store.Reader, userID string) ([]P, error) {
	docs, err := r.Query(ctx, c.name(), "user_id", userID)
	if err != nil {
		return nil, err
	}

	out := make([]P, 0, len(docs))
	for _, d := range docs {
		rec, err := c.decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// stampNew assigns a local id when missing and resets sync state. A record
// without an owner is assigned the user carried by ctx.
func (c collection[T, P]) stampNew(ctx context.Context, rec P) {
	now := c.deps.now()
	m := rec.Metadata()
	if m.UserID == "" {
		m.UserID = events.GetUserID(ctx)
	}
	if m.ID == "" {
		prefix := models.PrefixTemp
		if !c.deps.online() {
			prefix = models.PrefixOffline
		}
		m.ID = models.NewLocalID(prefix, now)
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Synced = false
}

func (c collection[T, P]) stampUpdate(rec P) {
	m := rec.Metadata()
	m.UpdatedAt = c.deps.now()
	m.Synced = false
}

// write persists rec and, per the enqueue policy, appends a queue entry.
func (c collection[T, P]) write(ctx context.Context, tx store.Tx, rec P, action models.Action) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	doc, err := store.NewDocument(rec)
	if err != nil {
		return err
	}
	if err := tx.Put(ctx, c.name(), doc); err != nil {
		return err
	}

	if !c.deps.EnqueueAlways && c.deps.online() {
		return nil
	}

	_, err = tx.Enqueue(ctx, models.QueueEntry{
		EntityType: c.entity,
		Action:     action,
		RecordID:   doc.ID,
		Data:       json.RawMessage(doc.Body),
		Timestamp:  rec.Metadata().UpdatedAt,
	})
	return err
}

// afterWrite signals the UI and kicks a background sync when online. Sync
// failures never affect the local write.
func (c collection[T, P]) afterWrite(rec P, action models.Action) {
	m := rec.Metadata()

	c.logger.WithFields(map[string]interface{}{
		"record_id": m.ID,
		"user_id":   m.UserID,
		"action":    string(action),
		"online":    c.deps.online(),
	}).Debug("Record saved")

	if !c.deps.online() {
		c.deps.Bus.Publish(events.Event{
			Type:       events.SavedOffline,
			EntityType: string(c.entity),
			RecordID:   m.ID,
		})
		return
	}

	if c.deps.Syncer != nil {
		c.deps.Syncer.Trigger()
	}
}

// Set bundles every repository.
type Set struct {
	Locations   *Locations
	Pickups     *Pickups
	Bags        *Bags
	Profiles    *Profiles
	Preferences *PreferencesRepo
}

// NewSet builds all repositories on deps.
func NewSet(deps Deps) *Set {
	return &Set{
		Locations:   NewLocations(deps),
		Pickups:     NewPickups(deps),
		Bags:        NewBags(deps),
		Profiles:    NewProfiles(deps),
		Preferences: NewPreferences(deps),
	}
}
