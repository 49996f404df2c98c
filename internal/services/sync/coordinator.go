package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/internal/transport"
)

// Result summarises one pass.
type Result struct {
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Pending int  `json:"pending"`
	Skipped bool `json:"skipped,omitempty"`

	Errors []error `json:"-"`
}

// Progress describes the last completed pass.
type Progress struct {
	PassID     string
	StartTime  time.Time
	FinishTime time.Time
	Result     Result
	Err        error
}

// Coordinator drains the sync queue. At most one pass runs at a time within
// a process; overlapping calls are coalesced into the running pass.
type Coordinator struct {
	store    store.Store
	replayer *Replayer
	bus      *events.Bus
	logger   *events.Logger

	last atomic.Value // *Progress

	mu       sync.Mutex
	syncing  bool
	closed   bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancelFn context.CancelFunc
}

// CoordinatorConfig contains coordinator configuration.
type CoordinatorConfig struct {
	MaxAttempts int
}

// NewCoordinator creates a coordinator for the foreground context.
func NewCoordinator(
	st store.Store,
	client transport.DataClient,
	bus *events.Bus,
	config *CoordinatorConfig,
	logger *events.Logger,
) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    st,
		replayer: NewReplayer(st, client, bus, "foreground", config.MaxAttempts, logger),
		bus:      bus,
		logger:   logger.WithField("component", "sync_coordinator"),
		baseCtx:  ctx,
		cancelFn: cancel,
	}
}

// LastPass returns the most recent finished pass, or nil.
func (c *Coordinator) LastPass() *Progress {
	if p := c.last.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// ProcessQueue runs one pass over the queue. Per-item failures are counted
// in the result; only failures to read the store are returned as errors.
func (c *Coordinator) ProcessQueue(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.syncing || c.closed {
		c.mu.Unlock()
		c.logger.Debug("Sync pass already running, skipping")
		return Result{Skipped: true}, nil
	}
	c.syncing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	passID := uuid.NewString()
	ctx = events.WithPassID(events.WithLogger(ctx, c.logger), passID)
	logger := events.FromContext(ctx)
	progress := &Progress{PassID: passID, StartTime: time.Now()}

	res, err := c.run(ctx, logger)

	progress.FinishTime = time.Now()
	progress.Result = res
	progress.Err = err
	c.last.Store(progress)

	return res, err
}

func (c *Coordinator) run(ctx context.Context, logger *events.Logger) (Result, error) {
	entries, err := Snapshot(ctx, c.store, nil)
	if err != nil {
		err = fmt.Errorf("%w: %w", models.ErrSyncUnavailable, err)
		logger.WithError(err).Error("Cannot read sync queue")
		c.bus.Publish(events.Event{
			Type:   events.SyncFailed,
			Source: "foreground",
			Kind:   "unavailable",
			Error:  err.Error(),
		})
		return Result{}, err
	}

	if len(entries) == 0 {
		logger.Debug("Nothing to sync")
		return Result{}, nil
	}

	logger.WithField("entries", len(entries)).Info("Starting sync pass")
	c.bus.Publish(events.Event{Type: events.SyncStarted, Source: "foreground"})

	stats := c.replayer.Drain(ctx, entries)

	res := Result{
		Synced:  stats.Synced,
		Failed:  stats.Failed,
		Pending: stats.Pending(),
		Errors:  stats.Errors,
	}

	counts := &events.Counts{Synced: res.Synced, Failed: res.Failed, Pending: res.Pending}
	fields := map[string]interface{}{
		"synced":  res.Synced,
		"failed":  res.Failed,
		"pending": res.Pending,
	}

	if res.Failed > 0 {
		logger.WithFields(fields).WithError(errors.Join(res.Errors...)).Warn("Sync pass finished with failures")
		c.bus.Publish(events.Event{
			Type:   events.SyncFailed,
			Source: "foreground",
			Kind:   "partial",
			Counts: counts,
		})
		return res, nil
	}

	logger.WithFields(fields).Info("Sync pass completed")
	c.bus.Publish(events.Event{
		Type:   events.SyncCompleted,
		Source: "foreground",
		Counts: counts,
	})
	return res, nil
}

// Trigger starts a pass in the background. Errors are logged only.
func (c *Coordinator) Trigger() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.ProcessQueue(c.baseCtx); err != nil {
			c.logger.WithError(err).Warn("Background sync pass failed")
		}
	}()
}

// Wait blocks until every triggered pass has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels triggered passes and waits for them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancelFn()
	c.wg.Wait()
}
