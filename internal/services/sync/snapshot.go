package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
)

// Filter limits a snapshot to some entity types. An empty filter means all.
type Filter []models.EntityType

func (f Filter) allows(t models.EntityType) bool {
	if len(f) == 0 {
		return true
	}
	for _, x := range f {
		if x == t {
			return true
		}
	}
	return false
}

// Snapshot returns the work for one pass: the queue in order, followed by
// unsynced records that no queued entry covers. Those are written with
// enqueue_always off while the API was reachable but the sync failed; they
// are replayed as entries with ID 0.
//
// A local-id record whose queued entries hold no create would have them
// deferred forever, so a create is replayed ahead of its first entry.
func Snapshot(ctx context.Context, st store.Store, filter Filter) ([]models.QueueEntry, error) {
	queued, err := st.QueueEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}

	first := make(map[recordKey]int)
	created := make(map[recordKey]bool)
	entries := make([]models.QueueEntry, 0, len(queued))
	for _, e := range queued {
		k := recordKey{e.EntityType, e.RecordID}
		if e.Action == models.ActionCreate {
			created[k] = true
		}
		if !filter.allows(e.EntityType) {
			continue
		}
		if _, ok := first[k]; !ok {
			first[k] = len(entries)
		}
		entries = append(entries, e)
	}

	ahead := make(map[int][]models.QueueEntry)
	var swept []models.QueueEntry
	for _, t := range models.EntityTypes {
		if !filter.allows(t) {
			continue
		}

		docs, err := st.Query(ctx, t.Collection(), "synced", false)
		if err != nil {
			return nil, fmt.Errorf("read unsynced %s: %w", t, err)
		}
		for _, d := range docs {
			k := recordKey{t, d.ID}
			pos, queuedFor := first[k]
			switch {
			case !queuedFor:
				swept = append(swept, sweepEntry(t, d))
			case models.IsLocalID(d.ID) && !created[k]:
				e := sweepEntry(t, d)
				e.Action = models.ActionCreate
				ahead[pos] = append(ahead[pos], e)
			}
		}
	}

	if len(ahead) == 0 {
		return append(entries, swept...), nil
	}

	out := make([]models.QueueEntry, 0, len(entries)+len(ahead)+len(swept))
	for i, e := range entries {
		out = append(out, ahead[i]...)
		out = append(out, e)
	}
	return append(out, swept...), nil
}

func sweepEntry(t models.EntityType, d store.Document) models.QueueEntry {
	action := models.ActionUpdate
	switch {
	case d.Deleted:
		action = models.ActionDelete
	case models.IsLocalID(d.ID):
		action = models.ActionCreate
	}

	return models.QueueEntry{
		EntityType: t,
		Action:     action,
		RecordID:   d.ID,
		Data:       json.RawMessage(d.Body),
		Timestamp:  d.UpdatedAt,
	}
}
