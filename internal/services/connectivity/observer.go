// Package connectivity tracks whether the remote API is reachable and starts
// a sync pass when it becomes reachable again.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	syncsvc "github.com/TheMichaelB/pickupsync/internal/services/sync"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/internal/transport"
)

// Syncer runs one sync pass.
type Syncer interface {
	ProcessQueue(ctx context.Context) (syncsvc.Result, error)
}

// Registrar records a background sync request so a later wake-up retries
// even when no UI is open.
type Registrar interface {
	Register(ctx context.Context, tag string) error
}

// Observer holds the online/offline state.
type Observer struct {
	client    transport.DataClient
	store     store.Store
	syncer    Syncer
	registrar Registrar
	bus       *events.Bus
	logger    *events.Logger

	probePath string
	interval  time.Duration
	tag       string

	mu     sync.RWMutex
	online bool
	since  time.Time
}

// NewObserver creates an observer. It starts offline until the first probe
// or SetOnline call. registrar may be nil.
func NewObserver(
	cfg *config.ConnectivityConfig,
	client transport.DataClient,
	st store.Store,
	syncer Syncer,
	registrar Registrar,
	bus *events.Bus,
	logger *events.Logger,
) *Observer {
	return &Observer{
		client:    client,
		store:     st,
		syncer:    syncer,
		registrar: registrar,
		bus:       bus,
		logger:    logger.WithField("service", "connectivity"),
		probePath: cfg.ProbePath,
		interval:  cfg.Interval,
		tag:       cfg.SyncTag,
		since:     time.Now(),
	}
}

// Online reports the current status.
func (o *Observer) Online() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.online
}

// Since returns when the status last changed.
func (o *Observer) Since() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.since
}

// SetOnline applies a status signal. Going online registers the background
// tag and runs a sync pass before returning; the pass error, if any, is
// returned. Going offline only updates the status. A signal that does not
// change the status returns a skipped result.
func (o *Observer) SetOnline(ctx context.Context, online bool) (syncsvc.Result, error) {
	o.mu.Lock()
	changed := o.online != online
	o.online = online
	if changed {
		o.since = time.Now()
	}
	o.mu.Unlock()

	if !changed {
		return syncsvc.Result{Skipped: true}, nil
	}

	o.logger.WithField("online", online).Info("Connectivity changed")
	o.bus.Publish(events.Event{
		Type:   events.ConnectivityChanged,
		Source: "foreground",
		Online: &online,
	})

	if !online {
		return syncsvc.Result{}, nil
	}

	if o.registrar != nil && o.tag != "" {
		if err := o.registrar.Register(ctx, o.tag); err != nil {
			o.logger.WithError(err).WithField("tag", o.tag).Warn("Failed to register background sync")
		}
	}

	res, err := o.syncer.ProcessQueue(ctx)
	if err != nil {
		return res, fmt.Errorf("sync after reconnect: %w", err)
	}
	return res, nil
}

// Probe checks the API once and applies the result.
func (o *Observer) Probe(ctx context.Context) error {
	err := o.client.Ping(ctx, o.probePath)
	if err != nil {
		o.logger.WithError(err).Debug("Probe failed")
	}

	_, syncErr := o.SetOnline(ctx, err == nil)
	return syncErr
}

// Reachable pings the API without changing the status.
func (o *Observer) Reachable(ctx context.Context) bool {
	return o.client.Ping(ctx, o.probePath) == nil
}

// Run probes every interval until ctx is done.
func (o *Observer) Run(ctx context.Context) error {
	if err := o.Probe(ctx); err != nil {
		o.logger.WithError(err).Warn("Sync after probe failed")
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.Probe(ctx); err != nil {
				o.logger.WithError(err).Warn("Sync after probe failed")
			}
		}
	}
}

// UnsyncedCount returns the queue length plus every record still marked
// unsynced. It is computed on each call.
func (o *Observer) UnsyncedCount(ctx context.Context) (int, error) {
	breakdown, err := o.Breakdown(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, n := range breakdown {
		total += n
	}
	return total, nil
}

// Breakdown returns the unsynced counts keyed by collection, with the queue
// length under sync_queue.
func (o *Observer) Breakdown(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(models.EntityTypes)+1)

	n, err := o.store.QueueLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	out[models.CollectionSyncQueue] = n

	for _, t := range models.EntityTypes {
		n, err := o.store.CountUnsynced(ctx, t.Collection())
		if err != nil {
			return nil, fmt.Errorf("count unsynced %s: %w", t.Collection(), err)
		}
		out[t.Collection()] = n
	}
	return out, nil
}
