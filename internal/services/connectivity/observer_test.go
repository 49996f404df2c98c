package connectivity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/repository"
	"github.com/TheMichaelB/pickupsync/internal/services/connectivity"
	syncsvc "github.com/TheMichaelB/pickupsync/internal/services/sync"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/internal/transport"
	"github.com/TheMichaelB/pickupsync/test/testutil"
)

type fixture struct {
	store     *store.MemoryStore
	client    *transport.MockClient
	bus       *events.Bus
	registrar *testutil.MockRegistrar
	observer  *connectivity.Observer
	repos     *repository.Set
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := testutil.NewTestLogger()
	f := &fixture{
		store:     store.NewMemoryStore(),
		client:    transport.NewMockClient(),
		bus:       events.NewBus(),
		registrar: &testutil.MockRegistrar{},
	}

	coord := syncsvc.NewCoordinator(f.store, f.client, f.bus, &syncsvc.CoordinatorConfig{MaxAttempts: 5}, logger)
	cfg := &config.ConnectivityConfig{ProbePath: "/health", Interval: 10 * time.Millisecond, SyncTag: "sync-all"}
	f.observer = connectivity.NewObserver(cfg, f.client, f.store, coord, f.registrar, f.bus, logger)
	f.repos = repository.NewSet(repository.Deps{
		Store:         f.store,
		Status:        f.observer,
		Syncer:        coord,
		EnqueueAlways: true,
		Logger:        logger,
		Bus:           f.bus,
	})

	t.Cleanup(func() {
		coord.Close()
		f.bus.Close()
	})
	return f
}

func TestReconnectionTriggersDrain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.On("Register", mock.Anything, "sync-all").Return(nil).Once()

	require.False(t, f.observer.Online())
	loc, err := f.repos.Locations.Create(ctx, testutil.Location("Home"))
	require.NoError(t, err)
	_, err = f.repos.Pickups.Create(ctx, testutil.Pickup(loc.ID))
	require.NoError(t, err)
	assert.Empty(t, f.client.Requests())

	res, err := f.observer.SetOnline(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Pending)

	locs, err := f.repos.Locations.ListForUser(ctx, testutil.TestUserID)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.True(t, locs[0].Synced)

	pickups, err := f.repos.Pickups.List(ctx, repository.PickupFilter{UserID: testutil.TestUserID})
	require.NoError(t, err)
	require.Len(t, pickups, 1)
	assert.True(t, pickups[0].Synced)

	testutil.AssertMockExpectations(t, f.registrar)
}

func TestRepeatedSignalIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.On("Register", mock.Anything, "sync-all").Return(nil).Once()

	_, err := f.observer.SetOnline(ctx, true)
	require.NoError(t, err)

	res, err := f.observer.SetOnline(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	testutil.AssertMockExpectations(t, f.registrar)
}

func TestGoingOfflineOnlyUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.On("Register", mock.Anything, mock.Anything).Return(nil)

	_, err := f.observer.SetOnline(ctx, true)
	require.NoError(t, err)

	sub, cancel := f.bus.Subscribe(8)
	defer cancel()

	_, err = f.observer.SetOnline(ctx, false)
	require.NoError(t, err)
	assert.False(t, f.observer.Online())

	_, err = f.repos.Bags.Register(ctx, testutil.Bag("B1"))
	require.NoError(t, err)
	assert.Empty(t, f.client.Requests())

	var saw []events.EventType
	for len(sub) > 0 {
		ev := <-sub
		saw = append(saw, ev.Type)
		if ev.Type == events.ConnectivityChanged {
			require.NotNil(t, ev.Online)
			assert.False(t, *ev.Online)
		}
	}
	assert.Equal(t, []events.EventType{events.ConnectivityChanged, events.SavedOffline}, saw)
}

func TestRegistrarFailureDoesNotBlockSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.On("Register", mock.Anything, "sync-all").Return(errors.New("no registry"))

	_, err := f.repos.Bags.Register(ctx, testutil.Bag("B1"))
	require.NoError(t, err)

	res, err := f.observer.SetOnline(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.On("Register", mock.Anything, mock.Anything).Return(nil)

	f.client.SetOnline(false)
	require.NoError(t, f.observer.Probe(ctx))
	assert.False(t, f.observer.Online())

	_, err := f.repos.Bags.Register(ctx, testutil.Bag("B1"))
	require.NoError(t, err)

	f.client.SetOnline(true)
	require.NoError(t, f.observer.Probe(ctx))
	assert.True(t, f.observer.Online())

	n, err := f.store.QueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReachableLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	client := testutil.NewMockDataClient()
	client.On("Ping", mock.Anything, "/health").Return(nil).Once()
	client.On("Ping", mock.Anything, "/health").Return(models.ErrNetworkFailure).Once()

	cfg := &config.ConnectivityConfig{ProbePath: "/health", Interval: time.Second, SyncTag: "sync-all"}
	observer := connectivity.NewObserver(cfg, client, store.NewMemoryStore(), nil, nil, nil, testutil.NewTestLogger())

	assert.True(t, observer.Reachable(ctx))
	assert.False(t, observer.Online(), "a reachability check is not a transition")
	assert.False(t, observer.Reachable(ctx))

	testutil.AssertMockExpectations(t, client)
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	f.registrar.On("Register", mock.Anything, mock.Anything).Return(nil)
	f.client.SetOnline(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.observer.Run(ctx) }()

	f.client.SetOnline(true)
	testutil.WaitForCondition(t, f.observer.Online, 2*time.Second, "observer never came online")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestUnsyncedCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.On("Register", mock.Anything, mock.Anything).Return(nil)

	_, err := f.repos.Bags.Register(ctx, testutil.Bag("B1"))
	require.NoError(t, err)
	_, err = f.repos.Profiles.Save(ctx, testutil.Profile("Ada"))
	require.NoError(t, err)

	n, err := f.observer.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	breakdown, err := f.observer.Breakdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, breakdown[models.CollectionSyncQueue])
	assert.Equal(t, 1, breakdown[models.CollectionBagScans])
	assert.Equal(t, 1, breakdown[models.CollectionProfiles])
	assert.Zero(t, breakdown[models.CollectionLocations])

	_, err = f.observer.SetOnline(ctx, true)
	require.NoError(t, err)

	n, err = f.observer.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
