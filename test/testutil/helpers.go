package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/config"
)

// LogEntry represents a captured log entry for testing
type LogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Time    string                 `json:"time"`
	Fields  map[string]interface{} `json:"-"`
}

// TestServer emulates the remote REST API for integration tests.
type TestServer struct {
	*httptest.Server
	mu       sync.RWMutex
	token    string
	nextID   int
	records  map[string]map[string]interface{} // path of the item -> body
	requests []string
	failures []failure
	offline  bool
}

type failure struct {
	prefix string
	status int
	times  int
}

// NewTestServer creates a new test HTTP server. When token is not empty
// every request must carry it as a bearer token.
func NewTestServer(token string) *TestServer {
	ts := &TestServer{
		token:   token,
		records: make(map[string]map[string]interface{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", ts.handleHealth)
	for _, base := range []string{"/locations", "/pickup-requests", "/bags", "/profiles", "/preferences"} {
		mux.HandleFunc(base, ts.handleCollection)
		mux.HandleFunc(base+"/", ts.handleItem)
	}

	ts.Server = httptest.NewServer(mux)
	return ts
}

// FailNext makes the next n requests whose "METHOD path" starts with prefix
// fail with status.
func (ts *TestServer) FailNext(prefix string, status, n int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failures = append(ts.failures, failure{prefix: prefix, status: status, times: n})
}

// SetOffline makes every request, the health check included, fail with 503.
func (ts *TestServer) SetOffline(offline bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.offline = offline
}

// Requests returns "METHOD path" for every data request received.
func (ts *TestServer) Requests() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]string(nil), ts.requests...)
}

// Record returns the stored body at an item path such as /locations/srv-1.
func (ts *TestServer) Record(path string) (map[string]interface{}, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	rec, ok := ts.records[path]
	return rec, ok
}

func (ts *TestServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ts.mu.RLock()
	offline := ts.offline
	ts.mu.RUnlock()
	if offline {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// intercept applies auth and scripted failures. It returns false when the
// response has already been written.
func (ts *TestServer) intercept(w http.ResponseWriter, r *http.Request) bool {
	key := r.Method + " " + r.URL.Path

	ts.mu.Lock()
	ts.requests = append(ts.requests, key)
	if ts.offline {
		ts.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "unavailable", "server offline")
		return false
	}
	for i := range ts.failures {
		f := &ts.failures[i]
		if f.times > 0 && strings.HasPrefix(key, f.prefix) {
			f.times--
			ts.mu.Unlock()
			writeError(w, f.status, "injected", fmt.Sprintf("injected failure for %s", key))
			return false
		}
	}
	token := ts.token
	ts.mu.Unlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return false
	}
	return true
}

func (ts *TestServer) handleCollection(w http.ResponseWriter, r *http.Request) {
	if !ts.intercept(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		return
	}

	body, err := decodeJSON(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ts.mu.Lock()
	ts.nextID++
	id := fmt.Sprintf("srv-%d", ts.nextID)
	body["id"] = id
	ts.records[r.URL.Path+"/"+id] = body
	ts.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{"data": body})
}

func (ts *TestServer) handleItem(w http.ResponseWriter, r *http.Request) {
	if !ts.intercept(w, r) {
		return
	}

	path := r.URL.Path
	if r.Method == http.MethodPost && strings.HasSuffix(path, "/default") {
		ts.setDefault(w, strings.TrimSuffix(path, "/default"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, err := decodeJSON(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		ts.mu.Lock()
		ts.records[path] = body
		ts.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": body})

	case http.MethodPatch:
		patch, err := decodeJSON(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		ts.mu.Lock()
		rec, ok := ts.records[path]
		if ok {
			for k, v := range patch {
				rec[k] = v
			}
		}
		ts.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": rec})

	case http.MethodDelete:
		ts.mu.Lock()
		delete(ts.records, path)
		ts.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (ts *TestServer) setDefault(w http.ResponseWriter, path string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	target, ok := ts.records[path]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", path)
		return
	}
	for p, rec := range ts.records {
		if strings.HasPrefix(p, "/locations/") && rec["user_id"] == target["user_id"] {
			rec["is_default"] = false
		}
	}
	target["is_default"] = true
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": target})
}

// TestContext creates a test context with reasonable timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestConfigWithDir creates a test configuration rooted at dataDir and
// pointed at baseURL.
func TestConfigWithDir(dataDir, baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 0
	cfg.API.RetryDelay = 10 * time.Millisecond
	cfg.Auth.TokenFile = filepath.Join(dataDir, "token.json")
	cfg.Auth.UserID = TestUserID
	cfg.Storage.DataDir = dataDir
	cfg.Storage.Driver = "sqlite"
	cfg.Connectivity.Interval = 50 * time.Millisecond
	cfg.Background.TagsDir = filepath.Join(dataDir, "sync-tags")
	cfg.Notify.Listen = ""
	cfg.Notify.URL = ""
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	cfg.Log.Color = false
	return cfg
}

// WaitForCondition waits for a condition to be true with timeout.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}

// LogOutput captures log output for testing.
type LogOutput struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Write implements io.Writer to capture log output.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	// Parse log entry from JSON
	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		_ = json.Unmarshal(p, &entry.Fields)
		lo.mu.Lock()
		lo.entries = append(lo.entries, entry)
		lo.mu.Unlock()
	}
	return len(p), nil
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// HasLevel checks if any log entry has the specified level.
func (lo *LogOutput) HasLevel(level string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if entry.Level == level {
			return true
		}
	}
	return false
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

func decodeJSON(r io.Reader) (map[string]interface{}, error) {
	body := make(map[string]interface{})
	if err := json.NewDecoder(r).Decode(&body); err != nil && err != io.EOF {
		return nil, err
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{"code": code, "message": message})
}

// SkipIfShort skips test if testing.Short() is true.
func SkipIfShort(t *testing.T, reason string) {
	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}
