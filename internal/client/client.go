package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/notify"
	"github.com/TheMichaelB/pickupsync/internal/repository"
	"github.com/TheMichaelB/pickupsync/internal/services/auth"
	"github.com/TheMichaelB/pickupsync/internal/services/background"
	"github.com/TheMichaelB/pickupsync/internal/services/connectivity"
	"github.com/TheMichaelB/pickupsync/internal/services/sync"
	"github.com/TheMichaelB/pickupsync/internal/store"
	"github.com/TheMichaelB/pickupsync/internal/transport"
)

// Client provides the high-level API for pickupsync operations.
type Client struct {
	Auth         *auth.Service
	Records      *repository.Set
	Sync         *sync.Coordinator
	Connectivity *connectivity.Observer
	Registry     *background.Registry
	Hub          *notify.Hub
	Bus          *events.Bus
	Store        store.Store

	config *config.Config
	logger *events.Logger
}

// New creates a foreground client: the store, repositories, coordinator and
// connectivity observer wired from cfg.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(expandHome(cfg.Auth.TokenFile), cfg.Auth.Token, logger)

	dataClient, err := transport.New(&cfg.API, authService, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	bus := events.NewBus()
	registry := background.NewRegistry(expandHome(cfg.Background.TagsDir), logger)

	coordinator := sync.NewCoordinator(st, dataClient, bus, &sync.CoordinatorConfig{
		MaxAttempts: cfg.Sync.MaxAttempts,
	}, logger)

	observer := connectivity.NewObserver(&cfg.Connectivity, dataClient, st, coordinator, registry, bus, logger)

	records := repository.NewSet(repository.Deps{
		Store:         st,
		Status:        observer,
		Syncer:        coordinator,
		EnqueueAlways: cfg.Sync.EnqueueAlways,
		Logger:        logger,
		Bus:           bus,
	})

	return &Client{
		Auth:         authService,
		Records:      records,
		Sync:         coordinator,
		Connectivity: observer,
		Registry:     registry,
		Hub:          notify.NewHub(bus, logger),
		Bus:          bus,
		Store:        st,
		config:       cfg,
		logger:       logger,
	}, nil
}

// OpenStore opens the store named by cfg. The foreground client and the
// worker each call it to get their own handle on the same database.
func OpenStore(ctx context.Context, cfg *config.Config, logger *events.Logger) (store.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}

	return store.Open(ctx, store.Options{
		Driver: cfg.Storage.Driver,
		Path:   expandHome(cfg.DBPath()),
	}, logger)
}

// UserID returns the user commands act for: the configured one, else the
// subject of the stored token.
func (c *Client) UserID() string {
	if c.config.Auth.UserID != "" {
		return c.config.Auth.UserID
	}
	return c.Auth.UserID()
}

// Serve runs the connectivity probe loop and, when notify.listen is set, the
// UI hub until ctx is done.
func (c *Client) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() { errCh <- c.Connectivity.Run(ctx) }()

	var srv *http.Server
	if c.config.Notify.Listen != "" {
		ln, err := net.Listen("tcp", c.config.Notify.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", c.config.Notify.Listen, err)
		}

		go c.Hub.Run(ctx)
		srv = &http.Server{Handler: c.Hub.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() { errCh <- srv.Serve(ln) }()

		c.logger.WithField("addr", ln.Addr().String()).Info("Notification hub listening")
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close waits for triggered sync passes and releases the store.
func (c *Client) Close() error {
	c.Sync.Wait()
	c.Sync.Close()
	c.Bus.Close()
	return c.Store.Close()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
