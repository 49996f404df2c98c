package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	syncsvc "github.com/TheMichaelB/pickupsync/internal/services/sync"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/internal/transport"
)

// Publisher forwards events to open UI clients.
type Publisher interface {
	Publish(ev events.Event) error
}

// StoreOpener opens a fresh handle on the shared store.
type StoreOpener func(ctx context.Context) (store.Store, error)

// Report summarises one wake-up.
type Report struct {
	Tag      string        `json:"tag"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Pending  int           `json:"pending"`
	Duration time.Duration `json:"duration"`
}

// Delegate replays the queue on behalf of the platform. It never runs two
// wake-ups at once.
type Delegate struct {
	open        StoreOpener
	client      transport.DataClient
	registry    *Registry
	publisher   Publisher
	maxAttempts int
	logger      *events.Logger

	mu sync.Mutex
}

// NewDelegate creates a delegate. publisher may be nil.
func NewDelegate(open StoreOpener, client transport.DataClient, registry *Registry, publisher Publisher, maxAttempts int, logger *events.Logger) *Delegate {
	return &Delegate{
		open:        open,
		client:      client,
		registry:    registry,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		logger:      logger.WithField("component", "sync_delegate"),
	}
}

// HandleTag replays unsynced work for tag. Per-item failures are logged and
// the remaining items still run; if any item failed the joined errors are
// returned and the tag stays registered so the platform retries it.
func (d *Delegate) HandleTag(ctx context.Context, tag string) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := Report{Tag: tag}
	start := time.Now()
	logger := d.logger.WithField("tag", tag)

	filter, err := TagFilter(tag)
	if err != nil {
		return report, err
	}

	st, err := d.open(ctx)
	if err != nil {
		d.notify(events.Event{Type: events.SyncFailed, Kind: "unavailable", Error: err.Error()})
		return report, fmt.Errorf("%w: %w", models.ErrSyncUnavailable, err)
	}
	defer st.Close()

	entries, err := syncsvc.Snapshot(ctx, st, filter)
	if err != nil {
		d.notify(events.Event{Type: events.SyncFailed, Kind: "unavailable", Error: err.Error()})
		return report, fmt.Errorf("%w: %w", models.ErrSyncUnavailable, err)
	}

	logger.WithField("entries", len(entries)).Info("Background sync started")

	bus := events.NewBus()
	sub, cancel := bus.Subscribe(2*len(entries) + 4)
	replayer := syncsvc.NewReplayer(st, d.client, bus, "background", d.maxAttempts, d.logger)
	stats := replayer.Drain(ctx, entries)
	cancel()
	for ev := range sub {
		d.notify(ev)
	}
	bus.Close()

	report.Synced = stats.Synced
	report.Failed = stats.Failed
	report.Pending = stats.Pending()
	report.Duration = time.Since(start)

	counts := &events.Counts{Synced: report.Synced, Failed: report.Failed, Pending: report.Pending}
	fields := map[string]interface{}{
		"synced":  report.Synced,
		"failed":  report.Failed,
		"pending": report.Pending,
	}

	if len(stats.Errors) > 0 {
		err := errors.Join(stats.Errors...)
		logger.WithFields(fields).WithError(err).Warn("Background sync finished with failures")
		d.notify(events.Event{Type: events.SyncFailed, Kind: "partial", Counts: counts, Error: err.Error()})
		return report, fmt.Errorf("background sync %s: %w", tag, err)
	}

	logger.WithFields(fields).Info("Background sync completed")
	d.notify(events.Event{Type: events.SyncCompleted, Counts: counts})

	if report.Pending == 0 && d.registry != nil {
		if err := d.registry.Consume(tag); err != nil {
			logger.WithError(err).Warn("Failed to consume tag")
		}
	}
	return report, nil
}

func (d *Delegate) notify(ev events.Event) {
	if d.publisher == nil {
		return
	}
	ev.Source = "background"
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := d.publisher.Publish(ev); err != nil {
		d.logger.WithError(err).Debug("No UI client to notify")
	}
}

// Run handles every pending tag and each newly registered one until ctx is
// done. Tags that failed are retried every retry interval.
func (d *Delegate) Run(ctx context.Context, retry time.Duration) error {
	if d.registry == nil {
		return errors.New("delegate has no registry")
	}

	wake := make(chan string, 16)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- d.registry.Watch(ctx, func(tag string) {
			select {
			case wake <- tag:
			case <-ctx.Done():
			}
		})
	}()

	var ticker *time.Ticker
	var tick <-chan time.Time
	if retry > 0 {
		ticker = time.NewTicker(retry)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-watchErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return ctx.Err()

		case tag := <-wake:
			d.handle(ctx, tag)

		case <-tick:
			pending, err := d.registry.Pending()
			if err != nil {
				d.logger.WithError(err).Warn("Failed to list pending tags")
				continue
			}
			for _, tag := range pending {
				d.handle(ctx, tag)
			}
		}
	}
}

func (d *Delegate) handle(ctx context.Context, tag string) {
	if _, err := d.HandleTag(ctx, tag); err != nil {
		d.logger.WithError(err).WithField("tag", tag).Warn("Background sync will be retried")
	}
}
