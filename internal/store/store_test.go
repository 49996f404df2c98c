package store_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
)

func TestMemoryStore(t *testing.T) {
	testStoreOperations(t, store.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			var buf bytes.Buffer
			logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

			s, err := store.Open(context.Background(), store.Options{
				Driver: driver,
				Path:   filepath.Join(t.TempDir(), "pickupsync.db"),
			}, logger)
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, store.SchemaVersion, s.SchemaVersion())
			testStoreOperations(t, s)
		})
	}
}

func newLocation(id, userID string, created time.Time, synced bool) models.Location {
	return models.Location{
		Meta: models.Meta{
			ID:        id,
			UserID:    userID,
			Synced:    synced,
			CreatedAt: created,
			UpdatedAt: created,
		},
		Name:    "Home " + id,
		Address: "1 Main St",
	}
}

func mustDoc(t *testing.T, e models.Entity) store.Document {
	doc, err := store.NewDocument(e)
	require.NoError(t, err)
	return doc
}

func testStoreOperations(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, models.CollectionLocations, "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("unknown collection", func(t *testing.T) {
		_, err := s.All(ctx, "rewards")
		assert.ErrorIs(t, err, store.ErrUnknownCollection)

		_, err = s.Query(ctx, models.CollectionLocations, "name", "x")
		assert.ErrorIs(t, err, store.ErrUnknownIndex)
	})

	t.Run("put and get", func(t *testing.T) {
		loc := newLocation("temp-1", "u1", base, false)
		require.NoError(t, s.Put(ctx, models.CollectionLocations, mustDoc(t, &loc)))

		doc, err := s.Get(ctx, models.CollectionLocations, "temp-1")
		require.NoError(t, err)
		assert.Equal(t, "u1", doc.UserID)
		assert.False(t, doc.Synced)
		assert.True(t, base.Equal(doc.CreatedAt))

		var got models.Location
		require.NoError(t, doc.Decode(&got))
		assert.Equal(t, "Home temp-1", got.Name)
	})

	t.Run("upsert", func(t *testing.T) {
		loc := newLocation("temp-1", "u1", base, true)
		loc.Name = "Renamed"
		require.NoError(t, s.Put(ctx, models.CollectionLocations, mustDoc(t, &loc)))

		doc, err := s.Get(ctx, models.CollectionLocations, "temp-1")
		require.NoError(t, err)
		assert.True(t, doc.Synced)

		var got models.Location
		require.NoError(t, doc.Decode(&got))
		assert.Equal(t, "Renamed", got.Name)
	})

	t.Run("query by index", func(t *testing.T) {
		a := newLocation("a", "u2", base.Add(time.Minute), false)
		b := newLocation("b", "u2", base.Add(2*time.Minute), false)
		c := newLocation("c", "u3", base.Add(3*time.Minute), true)
		for _, l := range []models.Location{a, b, c} {
			l := l
			require.NoError(t, s.Put(ctx, models.CollectionLocations, mustDoc(t, &l)))
		}

		docs, err := s.Query(ctx, models.CollectionLocations, "user_id", "u2")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "a", docs[0].ID)
		assert.Equal(t, "b", docs[1].ID)

		unsynced, err := s.Query(ctx, models.CollectionLocations, "synced", false)
		require.NoError(t, err)
		assert.Len(t, unsynced, 2)

		n, err := s.CountUnsynced(ctx, models.CollectionLocations)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		all, err := s.All(ctx, models.CollectionLocations)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, models.CollectionLocations, "c"))
		require.NoError(t, s.Delete(ctx, models.CollectionLocations, "c"))

		_, err := s.Get(ctx, models.CollectionLocations, "c")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("queue order and attempts", func(t *testing.T) {
		var ids []int64
		for i, rec := range []string{"q1", "q2", "q3"} {
			id, err := s.Enqueue(ctx, models.QueueEntry{
				EntityType: models.EntityBag,
				Action:     models.ActionCreate,
				RecordID:   rec,
				Data:       json.RawMessage(`{"id":"` + rec + `"}`),
				Timestamp:  base.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
			ids = append(ids, id)
		}
		assert.Less(t, ids[0], ids[1])
		assert.Less(t, ids[1], ids[2])

		require.NoError(t, s.MarkAttempt(ctx, ids[1], "boom"))

		entries, err := s.QueueEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "q1", entries[0].RecordID)
		assert.Equal(t, "q3", entries[2].RecordID)
		assert.Equal(t, 1, entries[1].Attempts)
		assert.Equal(t, "boom", entries[1].LastError)
		assert.True(t, base.Equal(entries[0].Timestamp))

		require.NoError(t, s.DeleteEntry(ctx, ids[0]))
		require.NoError(t, s.DeleteEntry(ctx, ids[0]))

		n, err := s.QueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("rewrite record id", func(t *testing.T) {
		_, err := s.Enqueue(ctx, models.QueueEntry{
			EntityType: models.EntityLocation,
			Action:     models.ActionUpdate,
			RecordID:   "temp-9",
			Data:       json.RawMessage(`{"id":"temp-9","name":"x"}`),
			Timestamp:  base,
		})
		require.NoError(t, err)

		n, err := s.RewriteRecordID(ctx, models.EntityLocation, "temp-9", "srv-9")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		entries, err := s.QueueEntries(ctx)
		require.NoError(t, err)
		last := entries[len(entries)-1]
		assert.Equal(t, "srv-9", last.RecordID)
		assert.JSONEq(t, `{"id":"srv-9","name":"x"}`, string(last.Data))

		n, err = s.RewriteRecordID(ctx, models.EntityBag, "temp-9", "srv-9")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("rewrite reference", func(t *testing.T) {
		_, err := s.Enqueue(ctx, models.QueueEntry{
			EntityType: models.EntityPickupRequest,
			Action:     models.ActionCreate,
			RecordID:   "temp-p1",
			Data:       json.RawMessage(`{"id":"temp-p1","location_id":"temp-loc"}`),
			Timestamp:  base,
		})
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, models.QueueEntry{
			EntityType: models.EntityPickupRequest,
			Action:     models.ActionCreate,
			RecordID:   "temp-p2",
			Data:       json.RawMessage(`{"id":"temp-p2","location_id":"srv-other"}`),
			Timestamp:  base,
		})
		require.NoError(t, err)

		n, err := s.RewriteReference(ctx, models.EntityPickupRequest, "location_id", "temp-loc", "srv-loc")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		entries, err := s.QueueEntries(ctx)
		require.NoError(t, err)
		byRecord := map[string]string{}
		for _, e := range entries {
			byRecord[e.RecordID] = string(e.Data)
		}
		assert.JSONEq(t, `{"id":"temp-p1","location_id":"srv-loc"}`, byRecord["temp-p1"])
		assert.JSONEq(t, `{"id":"temp-p2","location_id":"srv-other"}`, byRecord["temp-p2"])
	})

	t.Run("update commits", func(t *testing.T) {
		err := s.Update(ctx, func(tx store.Tx) error {
			loc := newLocation("tx-1", "u4", base, false)
			if err := tx.Put(ctx, models.CollectionLocations, mustDoc(t, &loc)); err != nil {
				return err
			}
			_, err := tx.Enqueue(ctx, models.QueueEntry{
				EntityType: models.EntityLocation,
				Action:     models.ActionCreate,
				RecordID:   "tx-1",
				Timestamp:  base,
			})
			return err
		})
		require.NoError(t, err)

		_, err = s.Get(ctx, models.CollectionLocations, "tx-1")
		assert.NoError(t, err)
	})

	t.Run("update rolls back on error", func(t *testing.T) {
		before, err := s.QueueLength(ctx)
		require.NoError(t, err)

		sentinel := errors.New("abort")
		err = s.Update(ctx, func(tx store.Tx) error {
			loc := newLocation("tx-2", "u4", base, false)
			require.NoError(t, tx.Put(ctx, models.CollectionLocations, mustDoc(t, &loc)))
			_, err := tx.Enqueue(ctx, models.QueueEntry{EntityType: models.EntityLocation, Action: models.ActionCreate, RecordID: "tx-2", Timestamp: base})
			require.NoError(t, err)
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		_, err = s.Get(ctx, models.CollectionLocations, "tx-2")
		assert.ErrorIs(t, err, models.ErrNotFound)

		after, err := s.QueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("update rolls back on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = s.Update(ctx, func(tx store.Tx) error {
				loc := newLocation("tx-3", "u4", base, false)
				_ = tx.Put(ctx, models.CollectionLocations, mustDoc(t, &loc))
				panic("boom")
			})
		})

		_, err := s.Get(ctx, models.CollectionLocations, "tx-3")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestDocumentPatch(t *testing.T) {
	loc := newLocation("temp-1", "u1", time.Now(), false)
	doc := mustDoc(t, &loc)

	require.NoError(t, doc.Patch(map[string]interface{}{"id": "srv-1", "synced": true}))
	assert.Equal(t, "srv-1", doc.ID)
	assert.True(t, doc.Synced)

	var got models.Location
	require.NoError(t, doc.Decode(&got))
	assert.Equal(t, "srv-1", got.ID)
	assert.True(t, got.Synced)
	assert.Equal(t, "Home temp-1", got.Name)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pickupsync.db")
	logger := events.NewDiscardLogger()

	s, err := store.Open(ctx, store.Options{Path: path}, logger)
	require.NoError(t, err)

	loc := newLocation("keep", "u1", time.Now(), false)
	require.NoError(t, s.Put(ctx, models.CollectionLocations, mustDoc(t, &loc)))
	require.NoError(t, s.Close())

	s, err = store.Open(ctx, store.Options{Path: path}, logger)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, models.CollectionLocations, "keep")
	assert.NoError(t, err)
}

func TestSQLiteStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	logger := events.NewDiscardLogger()

	_, err := store.Open(ctx, store.Options{Driver: "postgres", Path: "x"}, logger)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)

	_, err = store.Open(ctx, store.Options{Path: filepath.Join(t.TempDir(), "missing", "dir", "x.db")}, logger)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}
