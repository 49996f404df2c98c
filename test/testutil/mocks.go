package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/pickupsync/internal/transport"
)

// MockDataClient mocks transport.DataClient.
type MockDataClient struct {
	mock.Mock
}

// NewMockDataClient creates a mock data client.
func NewMockDataClient() *MockDataClient {
	return &MockDataClient{}
}

func (m *MockDataClient) Send(ctx context.Context, req transport.Request) (map[string]interface{}, error) {
	args := m.Called(ctx, req)

	if result := args.Get(0); result != nil {
		return result.(map[string]interface{}), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataClient) Ping(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

// MockRegistrar records background sync registrations.
type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(ctx context.Context, tag string) error {
	args := m.Called(ctx, tag)
	return args.Error(0)
}

// StaticStatus is a connectivity status that only changes when told to.
type StaticStatus struct {
	mu     sync.RWMutex
	online bool
}

// NewStaticStatus creates a status with the given state.
func NewStaticStatus(online bool) *StaticStatus {
	return &StaticStatus{online: online}
}

func (s *StaticStatus) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

func (s *StaticStatus) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// CountingTrigger counts sync triggers.
type CountingTrigger struct {
	mu sync.Mutex
	n  int
}

func (c *CountingTrigger) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *CountingTrigger) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}

// TestingT is a minimal interface for testing.T compatibility.
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	FailNow()
}
