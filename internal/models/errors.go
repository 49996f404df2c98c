package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried by SyncError.
const (
	ErrCodeAuth       = "AUTH_ERROR"
	ErrCodeNetwork    = "NETWORK_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
	ErrCodeRejected   = "REJECTED"
	ErrCodeValidation = "VALIDATION_ERROR"
)

// Sentinel errors
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("record not found")
	ErrNetworkFailure     = errors.New("network failure")
	ErrSyncUnavailable    = errors.New("sync unavailable")
	ErrAuthFailure        = errors.New("authentication failed")
	ErrSyncInProgress     = errors.New("sync already in progress")
	ErrInvalidRecord      = errors.New("invalid record")
	ErrDuplicateScan      = errors.New("bag already scanned")
)

// APIError represents a JSON error body returned by the remote API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Is maps status codes onto the sentinel taxonomy so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthFailure:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNetworkFailure:
		return e.StatusCode >= 500 ||
			e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode == http.StatusRequestTimeout
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// SyncError describes a failed replay of one queue entry.
type SyncError struct {
	Code       string
	Phase      string
	EntityType EntityType
	EntryID    int64
	Err        error
}

func (e *SyncError) Error() string {
	if e.EntryID != 0 {
		return fmt.Sprintf("sync %s [%s]: %s entry %d: %v", e.Phase, e.Code, e.EntityType, e.EntryID, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: %s: %v", e.Phase, e.Code, e.EntityType, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// ErrorCode classifies err for a SyncError.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return ErrCodeAuth
	case errors.Is(err, ErrStorageUnavailable):
		return ErrCodeStorage
	case errors.Is(err, ErrInvalidRecord):
		return ErrCodeValidation
	case IsRetryable(err):
		return ErrCodeNetwork
	default:
		return ErrCodeRejected
	}
}

// IsRetryable reports whether a transport error may succeed on a later attempt.
// Auth failures and other 4xx responses are terminal for the current attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailure) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return errors.Is(apiErr, ErrNetworkFailure)
	}
	return errors.Is(err, ErrNetworkFailure)
}
