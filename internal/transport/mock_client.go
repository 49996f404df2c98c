package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

// MockClient is an in-process DataClient. Creates of records with local ids
// are answered with server ids "srv-<n>"; other requests echo their body.
type MockClient struct {
	mu       sync.Mutex
	requests []Request
	failures []failure
	nextID   int
	offline  bool

	// Gate, when set, holds every Send until a value is received or the
	// context ends.
	Gate chan struct{}
	// Sent, when set, receives each request as it arrives. Sends are
	// non-blocking.
	Sent chan Request
}

type failure struct {
	match func(Request) bool
	err   error
	times int
}

// NewMockClient creates an online mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// FailWhen makes requests matching fn fail with err. times <= 0 fails forever.
func (m *MockClient) FailWhen(fn func(Request) bool, err error, times int) {
	if times < 0 {
		times = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failure{match: fn, err: err, times: times})
}

// SetOnline toggles reachability.
func (m *MockClient) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = !online
}

// Requests returns a copy of every request received.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Reset clears recorded requests and failures.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.failures = nil
}

// Send records req and answers it.
func (m *MockClient) Send(ctx context.Context, req Request) (map[string]interface{}, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	offline := m.offline
	gate := m.Gate
	sent := m.Sent
	m.mu.Unlock()

	if sent != nil {
		select {
		case sent <- req:
		default:
		}
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("send: %w: %w", models.ErrNetworkFailure, ctx.Err())
		}
	}

	if offline {
		return nil, fmt.Errorf("send %s %s: %w", req.Method, req.Path, models.ErrNetworkFailure)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.failures {
		f := &m.failures[i]
		if f.times < 0 || !f.match(req) {
			continue
		}
		if f.times > 0 {
			f.times--
			if f.times == 0 {
				f.times = -1
			}
		}
		return nil, f.err
	}

	resp := make(map[string]interface{})
	if body, ok := req.Body.(map[string]interface{}); ok {
		for k, v := range body {
			resp[k] = v
		}
	}
	if id, ok := resp["id"].(string); ok && models.IsLocalID(id) {
		m.nextID++
		resp["id"] = fmt.Sprintf("srv-%d", m.nextID)
	}
	return resp, nil
}

// Ping fails while the mock is offline.
func (m *MockClient) Ping(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return fmt.Errorf("ping %s: %w", path, models.ErrNetworkFailure)
	}
	return nil
}
