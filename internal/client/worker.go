package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/notify"
	"github.com/TheMichaelB/pickupsync/internal/services/auth"
	"github.com/TheMichaelB/pickupsync/internal/services/background"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/internal/transport"
)

// Worker is the background execution context. It has no repositories and
// opens its own store handle on every wake-up.
type Worker struct {
	Delegate *background.Delegate
	Registry *background.Registry

	publisher *hubPublisher
	config    *config.Config
	logger    *events.Logger
}

// NewWorker creates the background worker from cfg.
func NewWorker(cfg *config.Config, logger *events.Logger) (*Worker, error) {
	logger.Info("Initializing background sync worker")

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}

	authService := auth.NewService(expandHome(cfg.Auth.TokenFile), cfg.Auth.Token, logger)
	dataClient, err := transport.New(&cfg.API, authService, logger)
	if err != nil {
		return nil, err
	}

	registry := background.NewRegistry(expandHome(cfg.Background.TagsDir), logger)

	var publisher *hubPublisher
	var pub background.Publisher
	if cfg.Notify.URL != "" {
		publisher = &hubPublisher{url: cfg.Notify.URL, logger: logger}
		pub = publisher
	}

	open := func(ctx context.Context) (store.Store, error) {
		return OpenStore(ctx, cfg, logger)
	}

	return &Worker{
		Delegate:  background.NewDelegate(open, dataClient, registry, pub, cfg.Sync.MaxAttempts, logger),
		Registry:  registry,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}, nil
}

// HandleTag runs one wake-up.
func (w *Worker) HandleTag(ctx context.Context, tag string) (background.Report, error) {
	return w.Delegate.HandleTag(ctx, tag)
}

// Run watches the registry until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	return w.Delegate.Run(ctx, w.config.Background.RetryInterval)
}

// Close disconnects from the hub.
func (w *Worker) Close() error {
	if w.publisher != nil {
		return w.publisher.Close()
	}
	return nil
}

// hubPublisher dials the hub on first use and again after a failed send,
// since the UI may not have been running when the worker started.
type hubPublisher struct {
	url    string
	logger *events.Logger

	mu     sync.Mutex
	client *notify.Client
}

func (p *hubPublisher) Publish(ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		c := notify.NewClient(p.url, "background", p.logger)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			return err
		}
		p.client = c
	}

	if err := p.client.Publish(ev); err != nil {
		_ = p.client.Close()
		p.client = nil
		return err
	}
	return nil
}

func (p *hubPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
