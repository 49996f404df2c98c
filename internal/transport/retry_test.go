package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
)

func retryClient(maxRetries int, delay time.Duration) *HTTPClient {
	return &HTTPClient{
		maxRetries: maxRetries,
		retryDelay: delay,
		logger:     events.NewDiscardLogger(),
	}
}

// failing returns fn failing with err for the first n calls, and a pointer
// to the call count.
func failing(n int, err error) (func() error, *int) {
	calls := 0
	return func() error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestRetryClassification(t *testing.T) {
	network := fmt.Errorf("dial: %w", models.ErrNetworkFailure)

	cases := []struct {
		name      string
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"network failure recovers", network, 3, false},
		{"server error recovers", &models.APIError{StatusCode: http.StatusBadGateway}, 3, false},
		{"rate limit recovers", &models.APIError{StatusCode: http.StatusTooManyRequests}, 3, false},
		{"validation error is terminal", &models.APIError{StatusCode: http.StatusUnprocessableEntity}, 1, true},
		{"rejected token is terminal", &models.APIError{StatusCode: http.StatusUnauthorized}, 1, true},
		{"missing record is terminal", &models.APIError{StatusCode: http.StatusNotFound}, 1, true},
		{"local error is terminal", errors.New("marshal payload"), 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fn, calls := failing(2, tc.err)

			err := retryClient(3, time.Millisecond).retry(context.Background(), fn)

			assert.Equal(t, tc.wantCalls, *calls)
			if tc.wantErr {
				assert.Equal(t, tc.err, err, "terminal errors are returned unwrapped")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryBudget(t *testing.T) {
	fn, calls := failing(10, fmt.Errorf("dial: %w", models.ErrNetworkFailure))

	err := retryClient(2, time.Millisecond).retry(context.Background(), fn)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.ErrorIs(t, err, models.ErrNetworkFailure)
	assert.Equal(t, 3, *calls)
}

func TestRetryNoRetries(t *testing.T) {
	fn, calls := failing(1, &models.APIError{StatusCode: http.StatusServiceUnavailable})

	err := retryClient(0, time.Millisecond).retry(context.Background(), fn)

	assert.ErrorIs(t, err, models.ErrNetworkFailure)
	assert.Equal(t, 1, *calls)
}

func TestRetryBackoffDoubles(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()
	calls := 0

	err := retryClient(3, 40*time.Millisecond).retry(context.Background(), func() error {
		if calls > 0 {
			gaps = append(gaps, time.Since(last))
		}
		last = time.Now()
		calls++
		if calls < 4 {
			return fmt.Errorf("dial: %w", models.ErrNetworkFailure)
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, gaps, 3)
	assert.GreaterOrEqual(t, gaps[0], 40*time.Millisecond)
	assert.GreaterOrEqual(t, gaps[1], 80*time.Millisecond)
	assert.GreaterOrEqual(t, gaps[2], 160*time.Millisecond)
}

func TestRetryStopsOnContext(t *testing.T) {
	t.Run("deadline during backoff", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		fn, calls := failing(100, fmt.Errorf("dial: %w", models.ErrNetworkFailure))

		err := retryClient(5, 100*time.Millisecond).retry(ctx, fn)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, *calls)
	})

	t.Run("already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		fn, calls := failing(100, fmt.Errorf("dial: %w", models.ErrNetworkFailure))

		err := retryClient(3, time.Hour).retry(ctx, fn)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, *calls)
	})
}
