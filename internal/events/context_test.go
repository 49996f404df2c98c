package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/pickupsync/internal/events"
)

func TestFromContext(t *testing.T) {
	logger := events.FromContext(context.Background())
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	logger := events.NewDiscardLogger()

	ctx := events.WithLogger(context.Background(), logger)

	assert.Same(t, logger, events.FromContext(ctx))
}

func TestWithPassID(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithPassID(ctx, "pass-1")
	assert.Equal(t, "pass-1", events.GetPassID(ctx))

	events.FromContext(ctx).Info("draining")
	assert.Contains(t, buf.String(), `"pass_id":"pass-1"`)
}

func TestWithUserID(t *testing.T) {
	ctx := events.WithUserID(context.Background(), "user-9")
	assert.Equal(t, "user-9", events.GetUserID(ctx))
}

func TestContextIDsEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetPassID(ctx))
	assert.Empty(t, events.GetUserID(ctx))
}
