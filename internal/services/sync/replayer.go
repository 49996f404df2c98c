// Package sync replays the offline queue against the remote API.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/internal/transport"
)

// Stats counts the outcome of one drain.
type Stats struct {
	Synced   int
	Failed   int
	Deferred int
	Blocked  int
	Errors   []error
}

// Pending counts entries of the drain that are still unsynced afterwards.
func (s Stats) Pending() int {
	return s.Failed + s.Deferred + s.Blocked
}

// Replayer sends queue entries to the API and applies the results locally.
// The foreground coordinator and the background delegate share it.
type Replayer struct {
	store       store.Store
	client      transport.DataClient
	bus         *events.Bus
	source      string
	maxAttempts int
	logger      *events.Logger
}

// NewReplayer creates a replayer. source tags published events.
func NewReplayer(st store.Store, client transport.DataClient, bus *events.Bus, source string, maxAttempts int, logger *events.Logger) *Replayer {
	return &Replayer{
		store:       st,
		client:      client,
		bus:         bus,
		source:      source,
		maxAttempts: maxAttempts,
		logger:      logger.WithField("component", "replayer").WithField("source", source),
	}
}

type recordKey struct {
	entity models.EntityType
	id     string
}

// drainState carries id changes made earlier in the same drain.
type drainState struct {
	ids     map[recordKey]string
	blocked map[models.EntityType]bool
}

// Drain replays entries in order. A failed entry is recorded and left queued;
// it never stops the remaining entries, except that an auth failure blocks
// the rest of that entity type for this drain.
func (r *Replayer) Drain(ctx context.Context, entries []models.QueueEntry) Stats {
	var stats Stats
	st := &drainState{
		ids:     make(map[recordKey]string),
		blocked: make(map[models.EntityType]bool),
	}

	logger := r.logger
	if id := events.GetPassID(ctx); id != "" {
		logger = logger.WithField("pass_id", id)
	}

	for i, e := range entries {
		if ctx.Err() != nil {
			stats.Deferred += len(entries) - i
			break
		}

		if st.blocked[e.EntityType] {
			stats.Blocked++
			continue
		}

		body, err := decodePayload(e)
		if err == nil {
			err = r.applyRemap(st, &e, body)
		}
		if err != nil {
			r.fail(ctx, &stats, e, err)
			continue
		}

		if e.Action == models.ActionDelete && models.IsLocalID(e.RecordID) && e.ID == 0 {
			// Never reached the server; dropping it locally is enough.
			if err := r.store.Delete(ctx, e.EntityType.Collection(), e.RecordID); err != nil {
				r.fail(ctx, &stats, e, err)
				continue
			}
			stats.Synced++
			continue
		}

		if dep := r.unresolved(e, body); dep != "" {
			logger.WithFields(map[string]interface{}{
				"entry_id":  e.ID,
				"record_id": e.RecordID,
				"waits_for": dep,
			}).Debug("Deferring entry until its dependency is synced")
			stats.Deferred++
			continue
		}

		req, err := buildRequest(e, body)
		if err != nil {
			r.fail(ctx, &stats, e, err)
			continue
		}

		resp, err := r.client.Send(ctx, req)
		if err != nil {
			r.fail(ctx, &stats, e, err)
			if errors.Is(err, models.ErrAuthFailure) {
				st.blocked[e.EntityType] = true
				r.bus.Publish(events.Event{
					Type:       events.SyncFailed,
					Source:     r.source,
					EntityType: string(e.EntityType),
					Kind:       "auth",
					Error:      err.Error(),
				})
			}
			continue
		}

		if err := r.confirm(ctx, st, e, resp); err != nil {
			// The server accepted the change but the local bookkeeping
			// failed; the entry stays queued and is replayed later.
			r.fail(ctx, &stats, e, fmt.Errorf("confirm: %w", err))
			continue
		}

		stats.Synced++
		r.bus.Publish(events.Event{
			Type:       events.ItemSynced,
			Source:     r.source,
			EntityType: string(e.EntityType),
			RecordID:   e.RecordID,
		})
	}

	return stats
}

// applyRemap rewrites ids that changed earlier in this drain.
func (r *Replayer) applyRemap(st *drainState, e *models.QueueEntry, body map[string]interface{}) error {
	if newID, ok := st.ids[recordKey{e.EntityType, e.RecordID}]; ok {
		e.RecordID = newID
		if _, has := body["id"]; has {
			body["id"] = newID
		}
	}

	for target, refs := range references {
		for _, ref := range refs {
			if ref.entity != e.EntityType {
				continue
			}
			old, _ := body[ref.field].(string)
			if newID, ok := st.ids[recordKey{target, old}]; ok {
				body[ref.field] = newID
			}
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	e.Data = data
	return nil
}

// unresolved returns the local id this entry still depends on, or "".
// Only creates may carry their own local id; everything else waits for the
// create to be confirmed.
func (r *Replayer) unresolved(e models.QueueEntry, body map[string]interface{}) string {
	if e.Action != models.ActionCreate && models.IsLocalID(e.RecordID) {
		return e.RecordID
	}
	for _, refs := range references {
		for _, ref := range refs {
			if ref.entity != e.EntityType {
				continue
			}
			if id, _ := body[ref.field].(string); models.IsLocalID(id) {
				return id
			}
		}
	}
	return ""
}

func (r *Replayer) fail(ctx context.Context, stats *Stats, e models.QueueEntry, err error) {
	stats.Failed++

	syncErr := &models.SyncError{
		Code:       models.ErrorCode(err),
		Phase:      "replay",
		EntityType: e.EntityType,
		EntryID:    e.ID,
		Err:        err,
	}
	stats.Errors = append(stats.Errors, syncErr)

	logger := r.logger.WithFields(map[string]interface{}{
		"pass_id":     events.GetPassID(ctx),
		"entry_id":    e.ID,
		"entity_type": string(e.EntityType),
		"action":      string(e.Action),
		"record_id":   e.RecordID,
		"attempts":    e.Attempts + 1,
	}).WithError(err)

	if e.ID != 0 {
		if markErr := r.store.MarkAttempt(ctx, e.ID, err.Error()); markErr != nil {
			logger.WithField("mark_error", markErr.Error()).Warn("Failed to record attempt")
		}
	}

	if r.maxAttempts > 0 && e.Attempts+1 >= r.maxAttempts {
		logger.Warn("Queue entry is stuck")
	} else {
		logger.Info("Queue entry failed, will retry")
	}

	r.bus.Publish(events.Event{
		Type:       events.ItemFailed,
		Source:     r.source,
		EntityType: string(e.EntityType),
		RecordID:   e.RecordID,
		Kind:       syncErr.Code,
		Error:      err.Error(),
	})
}

// confirm applies a successful response: id reconciliation for creates,
// queue entry removal, the synced flag, and purging confirmed deletes. It
// runs in one transaction.
func (r *Replayer) confirm(ctx context.Context, st *drainState, e models.QueueEntry, resp map[string]interface{}) error {
	collection := e.EntityType.Collection()
	newID := serverID(resp)
	reconcile := e.Action == models.ActionCreate && models.IsLocalID(e.RecordID) &&
		newID != "" && newID != e.RecordID

	err := r.store.Update(ctx, func(tx store.Tx) error {
		if e.ID != 0 {
			if err := tx.DeleteEntry(ctx, e.ID); err != nil {
				return err
			}
		}

		doc, err := tx.Get(ctx, collection, e.RecordID)
		if errors.Is(err, models.ErrNotFound) {
			// Purged locally in the meantime; nothing left to mark.
			return nil
		}
		if err != nil {
			return err
		}

		// A newer local edit is still queued; the record stays unsynced.
		synced := !doc.UpdatedAt.After(e.Timestamp)

		if e.Action == models.ActionDelete && doc.Deleted && synced {
			return tx.Delete(ctx, collection, doc.ID)
		}

		if reconcile {
			if err := tx.Delete(ctx, collection, e.RecordID); err != nil {
				return err
			}
			if err := doc.Patch(map[string]interface{}{"id": newID, "synced": synced}); err != nil {
				return err
			}
			if err := tx.Put(ctx, collection, doc); err != nil {
				return err
			}
			if _, err := tx.RewriteRecordID(ctx, e.EntityType, e.RecordID, newID); err != nil {
				return err
			}
			return r.rewriteReferences(ctx, tx, e.EntityType, e.RecordID, newID)
		}

		if doc.Synced == synced {
			return nil
		}
		if err := doc.Patch(map[string]interface{}{"synced": synced}); err != nil {
			return err
		}
		return tx.Put(ctx, collection, doc)
	})
	if err != nil {
		return err
	}

	if reconcile {
		st.ids[recordKey{e.EntityType, e.RecordID}] = newID
		r.logger.WithFields(map[string]interface{}{
			"entity_type": string(e.EntityType),
			"local_id":    e.RecordID,
			"server_id":   newID,
		}).Debug("Reconciled record id")
	}
	return nil
}

// rewriteReferences points records and queued payloads that reference oldID
// at newID.
func (r *Replayer) rewriteReferences(ctx context.Context, tx store.Tx, entity models.EntityType, oldID, newID string) error {
	for _, ref := range references[entity] {
		if _, err := tx.RewriteReference(ctx, ref.entity, ref.field, oldID, newID); err != nil {
			return err
		}

		docs, err := tx.All(ctx, ref.entity.Collection())
		if err != nil {
			return err
		}
		for _, d := range docs {
			var fields map[string]interface{}
			if err := json.Unmarshal(d.Body, &fields); err != nil {
				return fmt.Errorf("decode %s: %w", d.ID, err)
			}
			if fields[ref.field] != oldID {
				continue
			}
			if err := d.Patch(map[string]interface{}{ref.field: newID}); err != nil {
				return err
			}
			if err := tx.Put(ctx, ref.entity.Collection(), d); err != nil {
				return err
			}
		}
	}
	return nil
}
