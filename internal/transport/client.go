// Package transport talks to the remote data API.
package transport

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/pickupsync/internal/config"
	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/services/auth"
)

// Request is one call against the remote API.
type Request struct {
	Method string
	Path   string
	Body   interface{}
	// IdempotencyKey lets a server recognise a replayed mutation.
	IdempotencyKey string
}

// DataClient is the remote API as seen by the sync core.
type DataClient interface {
	// Send performs a request and returns the decoded JSON response.
	Send(ctx context.Context, req Request) (map[string]interface{}, error)

	// Ping reports whether the API is reachable.
	Ping(ctx context.Context, path string) error
}

// New returns the data client selected by cfg.Client.
func New(cfg *config.APIConfig, tokens auth.TokenSource, logger *events.Logger) (DataClient, error) {
	switch cfg.Client {
	case "", "http":
		return NewHTTPClient(cfg, tokens, logger), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown api client %q", cfg.Client)
	}
}
