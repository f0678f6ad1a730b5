// Package testutil provides testing utilities for the keycheck engine.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a scripted mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockLookup is a configurable mock key-availability server for testing. By
// default it answers /check/{key} and /check/batch from a fixture map;
// individual paths can be overridden with scripted handlers.
type MockLookup struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// availability is the fixture map for the default handlers. Keys not in
	// the map are reported as taken.
	availability map[string]bool

	// Tracking
	RequestCount      int
	SingleCount       int
	BatchCount        int
	LastRequestHeader http.Header
}

// NewMockLookup creates a mock server answering from the given fixture map.
func NewMockLookup(availability map[string]bool) *MockLookup {
	mock := &MockLookup{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		availability: availability,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.URL.Path == "/check/batch" {
			mock.BatchCount++
		} else if strings.HasPrefix(r.URL.Path, "/check/") {
			mock.SingleCount++
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockLookup) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLookup) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockLookup) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.SingleCount = 0
	m.BatchCount = 0
	m.LastRequestHeader = nil
}

// SetAvailability replaces the fixture map for the default handlers.
func (m *MockLookup) SetAvailability(availability map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability = availability
}

// SetHandler sets a custom handler for a specific path.
func (m *MockLookup) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple scripted response for a path.
func (m *MockLookup) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetKeyResponse configures a scripted response for one key's single-check
// endpoint.
func (m *MockLookup) SetKeyResponse(key string, resp MockResponse) {
	m.SetResponse("/check/"+key, resp)
}

// GetRequestCount returns the total number of requests made to the server.
func (m *MockLookup) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetCounts returns the single and batch request counts.
func (m *MockLookup) GetCounts() (single, batch int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SingleCount, m.BatchCount
}

// defaultHandler answers single and batch checks from the fixture map.
func (m *MockLookup) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if r.URL.Path == "/check/batch" {
		var req struct {
			Keys []string `json:"keys"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "malformed batch request"}`))
			return
		}

		m.mu.RLock()
		results := make(map[string]bool, len(req.Keys))
		for _, key := range req.Keys {
			results[key] = m.availability[key]
		}
		m.mu.RUnlock()

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(results)
		return
	}

	if key, ok := strings.CutPrefix(r.URL.Path, "/check/"); ok && key != "" {
		m.mu.RLock()
		available := m.availability[key]
		m.mu.RUnlock()

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]bool{"available": available})
		return
	}

	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error": "unknown endpoint"}`))
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  "30",
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewFlakyHandler creates a handler that fails with the given status for the
// first n requests and then serves the body with 200.
func NewFlakyHandler(failStatus int, n int, body string) func(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	var calls int
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		failing := calls <= n
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if failing {
			w.WriteHeader(failStatus)
			w.Write([]byte(`{"error": "transient failure"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}
