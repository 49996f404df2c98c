package repository_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/repository"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/test/testutil"
)

type fixture struct {
	store   *store.MemoryStore
	status  *testutil.StaticStatus
	trigger *testutil.CountingTrigger
	bus     *events.Bus
	repos   *repository.Set
}

func newFixture(t *testing.T, online, enqueueAlways bool) *fixture {
	t.Helper()

	f := &fixture{
		store:   store.NewMemoryStore(),
		status:  testutil.NewStaticStatus(online),
		trigger: &testutil.CountingTrigger{},
		bus:     events.NewBus(),
	}
	f.repos = repository.NewSet(repository.Deps{
		Store:         f.store,
		Status:        f.status,
		Syncer:        f.trigger,
		EnqueueAlways: enqueueAlways,
		Logger:        testutil.NewTestLogger(),
		Bus:           f.bus,
		Now:           testutil.FixedClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), time.Second),
	})
	t.Cleanup(f.bus.Close)
	return f
}

func (f *fixture) queue(t *testing.T) []models.QueueEntry {
	t.Helper()
	entries, err := f.store.QueueEntries(context.Background())
	require.NoError(t, err)
	return entries
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for len(ch) > 0 {
		out = append(out, <-ch)
	}
	return out
}

func TestCreateOffline(t *testing.T) {
	f := newFixture(t, false, true)
	sub, cancel := f.bus.Subscribe(8)
	defer cancel()

	loc, err := f.repos.Locations.Create(context.Background(), testutil.Location("Home"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(loc.ID, models.PrefixOffline+"-"))
	assert.False(t, loc.Synced)
	assert.Equal(t, loc.CreatedAt, loc.UpdatedAt)

	entries := f.queue(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntityLocation, entries[0].EntityType)
	assert.Equal(t, models.ActionCreate, entries[0].Action)
	assert.Equal(t, loc.ID, entries[0].RecordID)
	assert.Equal(t, loc.UpdatedAt, entries[0].Timestamp)
	assert.Contains(t, string(entries[0].Data), `"name":"Home"`)

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, events.SavedOffline, evs[0].Type)
	assert.Equal(t, loc.ID, evs[0].RecordID)
	assert.Zero(t, f.trigger.Count())
}

func TestEnqueuePolicy(t *testing.T) {
	t.Run("online without enqueue-always", func(t *testing.T) {
		f := newFixture(t, true, false)

		loc, err := f.repos.Locations.Create(context.Background(), testutil.Location("Home"))
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(loc.ID, models.PrefixTemp+"-"))
		assert.Empty(t, f.queue(t))
		assert.Equal(t, 1, f.trigger.Count())

		n, err := f.store.CountUnsynced(context.Background(), models.CollectionLocations)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "record waits for the sweep")
	})

	t.Run("online with enqueue-always", func(t *testing.T) {
		f := newFixture(t, true, true)

		_, err := f.repos.Bags.Register(context.Background(), testutil.Bag("B1"))
		require.NoError(t, err)

		assert.Len(t, f.queue(t), 1)
		assert.Equal(t, 1, f.trigger.Count())
	})
}

func TestValidationRejectsWrite(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	bad := testutil.Location("")
	_, err := f.repos.Locations.Create(ctx, bad)
	assert.ErrorIs(t, err, models.ErrInvalidRecord)

	p := testutil.Pickup("")
	p.WasteType = "glitter"
	_, err = f.repos.Pickups.Create(ctx, p)
	assert.ErrorIs(t, err, models.ErrInvalidRecord)

	prefs := testutil.Preferences()
	prefs.Language = "not a language"
	_, err = f.repos.Preferences.Save(ctx, prefs)
	assert.ErrorIs(t, err, models.ErrInvalidRecord)

	assert.Empty(t, f.queue(t))
	all, err := f.store.All(ctx, models.CollectionLocations)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLocationUpdate(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	loc, err := f.repos.Locations.Create(ctx, testutil.Location("Home"))
	require.NoError(t, err)

	name := "Office"
	updated, err := f.repos.Locations.Update(ctx, loc.ID, repository.LocationPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Office", updated.Name)
	assert.Equal(t, loc.Address, updated.Address)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	entries := f.queue(t)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionUpdate, entries[1].Action)

	_, err = f.repos.Locations.Update(ctx, "missing", repository.LocationPatch{Name: &name})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetDefault(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	home := testutil.Location("Home")
	home.IsDefault = true
	home, err := f.repos.Locations.Create(ctx, home)
	require.NoError(t, err)
	office, err := f.repos.Locations.Create(ctx, testutil.Location("Office"))
	require.NoError(t, err)

	_, err = f.repos.Locations.SetDefault(ctx, testutil.TestUserID, office.ID)
	require.NoError(t, err)

	list, err := f.repos.Locations.ListForUser(ctx, testutil.TestUserID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, office.ID, list[0].ID)
	assert.True(t, list[0].IsDefault)
	assert.False(t, list[1].IsDefault)

	got, err := f.repos.Locations.Get(ctx, home.ID)
	require.NoError(t, err)
	assert.Equal(t, home.UpdatedAt, got.UpdatedAt, "sibling keeps its timestamp")

	entries := f.queue(t)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ActionSetDefault, entries[2].Action)
	assert.Equal(t, office.ID, entries[2].RecordID)

	t.Run("other user", func(t *testing.T) {
		_, err := f.repos.Locations.SetDefault(ctx, "someone-else", home.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestCreateDefaultClearsSiblings(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	first := testutil.Location("First")
	first.IsDefault = true
	first, err := f.repos.Locations.Create(ctx, first)
	require.NoError(t, err)

	second := testutil.Location("Second")
	second.IsDefault = true
	_, err = f.repos.Locations.Create(ctx, second)
	require.NoError(t, err)

	got, err := f.repos.Locations.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
}

func TestLocationDelete(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	loc, err := f.repos.Locations.Create(ctx, testutil.Location("Home"))
	require.NoError(t, err)
	require.NoError(t, f.repos.Locations.Delete(ctx, loc.ID))

	got, err := f.repos.Locations.Get(ctx, loc.ID)
	require.NoError(t, err, "tombstone stays until the delete is confirmed")
	assert.True(t, got.Deleted)

	list, err := f.repos.Locations.ListForUser(ctx, testutil.TestUserID)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, f.repos.Locations.Delete(ctx, loc.ID), models.ErrNotFound)

	_, err = f.repos.Pickups.Create(ctx, testutil.Pickup(loc.ID))
	assert.ErrorIs(t, err, models.ErrNotFound)

	entries := f.queue(t)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionDelete, entries[1].Action)
}

func TestPickups(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	_, err := f.repos.Pickups.Create(ctx, testutil.Pickup("offline-0-missing"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	loc, err := f.repos.Locations.Create(ctx, testutil.Location("Home"))
	require.NoError(t, err)

	first, err := f.repos.Pickups.Create(ctx, testutil.Pickup(loc.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, first.Status)
	second, err := f.repos.Pickups.Create(ctx, testutil.Pickup(loc.ID))
	require.NoError(t, err)

	t.Run("list newest first", func(t *testing.T) {
		list, err := f.repos.Pickups.List(ctx, repository.PickupFilter{UserID: testutil.TestUserID})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
	})

	t.Run("cancel", func(t *testing.T) {
		cancelled, err := f.repos.Pickups.Cancel(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)

		before := len(f.queue(t))
		_, err = f.repos.Pickups.Cancel(ctx, first.ID)
		require.NoError(t, err)
		assert.Len(t, f.queue(t), before, "cancelling twice queues nothing")

		list, err := f.repos.Pickups.List(ctx, repository.PickupFilter{Status: models.StatusCancelled})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, first.ID, list[0].ID)
	})

	t.Run("completed cannot be cancelled", func(t *testing.T) {
		done := models.StatusCompleted
		_, err := f.repos.Pickups.Update(ctx, second.ID, repository.PickupPatch{Status: &done})
		require.NoError(t, err)

		_, err = f.repos.Pickups.Cancel(ctx, second.ID)
		assert.ErrorIs(t, err, models.ErrInvalidRecord)
	})
}

func TestBagScans(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	scan := testutil.Bag("  LOT-42 ")
	scan.Quantity = 0
	scan, err := f.repos.Bags.Register(ctx, scan)
	require.NoError(t, err)
	assert.Equal(t, "LOT-42", scan.BatchCode)
	assert.Equal(t, 1, scan.Quantity)
	assert.Equal(t, scan.CreatedAt, scan.ScannedAt)

	_, err = f.repos.Bags.Register(ctx, testutil.Bag("lot-42"))
	assert.ErrorIs(t, err, models.ErrDuplicateScan)

	found, err := f.repos.Bags.FindByBatch(ctx, testutil.TestUserID, "Lot-42")
	require.NoError(t, err)
	assert.Equal(t, scan.ID, found.ID)

	_, err = f.repos.Bags.Register(ctx, testutil.Bag("LOT-43"))
	require.NoError(t, err)

	list, err := f.repos.Bags.List(ctx, testutil.TestUserID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "LOT-43", list[0].BatchCode)
	assert.Len(t, f.queue(t), 2)
}

func TestProfileUpsert(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	p, err := f.repos.Profiles.Save(ctx, testutil.Profile("Ada"))
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUserID, p.ID)
	created := p.CreatedAt

	p2 := testutil.Profile("Ada L.")
	_, err = f.repos.Profiles.Save(ctx, p2)
	require.NoError(t, err)
	assert.Equal(t, created, p2.CreatedAt)

	got, err := f.repos.Profiles.Get(ctx, testutil.TestUserID)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.Name)

	entries := f.queue(t)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionCreate, entries[0].Action)
	assert.Equal(t, models.ActionUpdate, entries[1].Action)

	_, err = f.repos.Profiles.Save(ctx, &models.Profile{Name: "Nobody"})
	assert.ErrorIs(t, err, models.ErrInvalidRecord)

	prefs, err := f.repos.Preferences.Save(ctx, testutil.Preferences())
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUserID, prefs.ID)
}

func TestOwnerFromContext(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := events.WithUserID(context.Background(), "user-ctx")

	loc := testutil.Location("Home")
	loc.UserID = ""
	saved, err := f.repos.Locations.Create(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "user-ctx", saved.UserID)

	explicit, err := f.repos.Locations.Create(ctx, testutil.Location("Work"))
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUserID, explicit.UserID)

	p, err := f.repos.Profiles.Save(ctx, &models.Profile{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "user-ctx", p.ID)

	t.Run("no user anywhere", func(t *testing.T) {
		loc := testutil.Location("Nowhere")
		loc.UserID = ""
		_, err := f.repos.Locations.Create(context.Background(), loc)
		assert.ErrorIs(t, err, models.ErrInvalidRecord)
	})
}
