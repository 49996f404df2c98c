package events

import (
	"sync"
	"time"
)

// EventType identifies a sync lifecycle notification.
type EventType string

const (
	SyncStarted         EventType = "sync_started"
	SyncCompleted       EventType = "sync_completed"
	SyncFailed          EventType = "sync_failed"
	ItemSynced          EventType = "item_synced"
	ItemFailed          EventType = "item_failed"
	SavedOffline        EventType = "saved_offline"
	ConnectivityChanged EventType = "connectivity_changed"
)

// Counts summarizes one sync pass.
type Counts struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// Event is delivered to bus subscribers and relayed to UI clients.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	Online     *bool     `json:"online,omitempty"`
	Counts     *Counts   `json:"counts,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`

	// Origin identifies the relay connection an event arrived on, so it is
	// not echoed back. It never leaves the process.
	Origin string `json:"-"`
}

// Bus is an in-process pub-sub for Events. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
