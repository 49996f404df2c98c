package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

func TestSyncError(t *testing.T) {
	tests := []struct {
		name string
		err  *models.SyncError
		want string
	}{
		{
			name: "with entry",
			err: &models.SyncError{
				Code:       models.ErrCodeNetwork,
				Phase:      "replay",
				EntityType: models.EntityLocation,
				EntryID:    7,
				Err:        errors.New("connection refused"),
			},
			want: "sync replay [NETWORK_ERROR]: location entry 7: connection refused",
		},
		{
			name: "without entry",
			err: &models.SyncError{
				Code:       models.ErrCodeAuth,
				Phase:      "auth",
				EntityType: models.EntityBag,
				Err:        models.ErrAuthFailure,
			},
			want: "sync auth [AUTH_ERROR]: bag: authentication failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	err := &models.SyncError{Phase: "replay", Err: models.ErrNetworkFailure}
	assert.ErrorIs(t, err, models.ErrNetworkFailure)
}

func TestAPIError(t *testing.T) {
	err := &models.APIError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid token",
		StatusCode: 401,
		RequestID:  "req-123",
	}

	assert.Equal(t, "API error 401 (UNAUTHORIZED): Invalid token", err.Error())
}

func TestAPIErrorIs(t *testing.T) {
	tests := []struct {
		status  int
		auth    bool
		network bool
		missing bool
	}{
		{401, true, false, false},
		{403, true, false, false},
		{404, false, false, true},
		{408, false, true, false},
		{422, false, false, false},
		{429, false, true, false},
		{500, false, true, false},
		{503, false, true, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := fmt.Errorf("send: %w", &models.APIError{StatusCode: tt.status})
			assert.Equal(t, tt.auth, errors.Is(err, models.ErrAuthFailure))
			assert.Equal(t, tt.network, errors.Is(err, models.ErrNetworkFailure))
			assert.Equal(t, tt.missing, errors.Is(err, models.ErrNotFound))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network sentinel", fmt.Errorf("dial: %w", models.ErrNetworkFailure), true},
		{"server error", &models.APIError{StatusCode: 502}, true},
		{"rate limited", &models.APIError{StatusCode: 429}, true},
		{"unauthorized", &models.APIError{StatusCode: 401}, false},
		{"bad request", &models.APIError{StatusCode: 400}, false},
		{"auth sentinel", models.ErrAuthFailure, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.IsRetryable(tt.err))
		})
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, models.ErrCodeAuth, models.ErrorCode(&models.APIError{StatusCode: 403}))
	assert.Equal(t, models.ErrCodeNetwork, models.ErrorCode(models.ErrNetworkFailure))
	assert.Equal(t, models.ErrCodeStorage, models.ErrorCode(models.ErrStorageUnavailable))
	assert.Equal(t, models.ErrCodeValidation, models.ErrorCode(models.ErrInvalidRecord))
	assert.Equal(t, models.ErrCodeRejected, models.ErrorCode(&models.APIError{StatusCode: 409}))
}
