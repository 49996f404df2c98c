package notify_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/notify"
)

func startHub(t *testing.T) (*events.Bus, *notify.Hub, string) {
	bus := events.NewBus()
	hub := notify.NewHub(bus, events.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return bus, hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func connect(t *testing.T, url, source string) *notify.Client {
	c := notify.NewClient(url, source, events.NewDiscardLogger())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return events.Event{}
}

func TestHubBroadcastsBusEvents(t *testing.T) {
	bus, hub, url := startHub(t)

	a := connect(t, url, "ui-a")
	b := connect(t, url, "ui-b")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	bus.Publish(events.Event{Type: events.SyncCompleted, Counts: &events.Counts{Synced: 3}})

	for _, c := range []*notify.Client{a, b} {
		ev := receive(t, c.Events())
		assert.Equal(t, events.SyncCompleted, ev.Type)
		require.NotNil(t, ev.Counts)
		assert.Equal(t, 3, ev.Counts.Synced)
	}
}

func TestHubRelaysClientEvents(t *testing.T) {
	bus, hub, url := startHub(t)

	local, cancel := bus.Subscribe(8)
	defer cancel()

	worker := connect(t, url, "worker")
	ui := connect(t, url, "ui")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, worker.Publish(events.Event{Type: events.SyncFailed, Error: "boom"}))

	ev := receive(t, ui.Events())
	assert.Equal(t, events.SyncFailed, ev.Type)
	assert.Equal(t, "worker", ev.Source)
	assert.Equal(t, "boom", ev.Error)

	ev = receive(t, local)
	assert.Equal(t, events.SyncFailed, ev.Type)

	select {
	case ev := <-worker.Events():
		t.Fatalf("sender received its own event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientPublishNotConnected(t *testing.T) {
	c := notify.NewClient("http://127.0.0.1:1/ws", "worker", events.NewDiscardLogger())
	assert.Error(t, c.Publish(events.Event{Type: events.SyncStarted}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
	assert.NoError(t, c.Close())
}

func TestClientCloseEndsEvents(t *testing.T) {
	_, hub, url := startHub(t)

	c := connect(t, url, "ui")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	select {
	case _, ok := <-c.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
