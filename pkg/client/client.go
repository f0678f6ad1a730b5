// Package client provides the HTTP client for the remote key lookup
// service, with error classification and bounded exponential-backoff retry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for lookup requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keycheck_requests_total",
		Help: "Total lookup requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keycheck_request_duration_seconds",
		Help:    "Lookup request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keycheck_errors_total",
		Help: "Total lookup errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the root URL of the lookup service.
	BaseURL string

	// Timeout bounds each HTTP request (headers and body).
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int

	// InitialBackoff is the base backoff for generic retryable errors.
	InitialBackoff time.Duration

	// RateLimitBackoff is the base backoff after a 429 response. Must be
	// larger than twice InitialBackoff, so it stays above the base of every
	// other retryable class (the network class backs off from
	// 2×InitialBackoff).
	RateLimitBackoff time.Duration

	// Transport overrides the HTTP transport (for testing).
	Transport http.RoundTripper
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		Timeout:          15 * time.Second,
		MaxRetries:       3,
		InitialBackoff:   1 * time.Second,
		RateLimitBackoff: 5 * time.Second,
	}
}

// Client queries the remote lookup service.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new lookup client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.RateLimitBackoff <= 2*cfg.InitialBackoff {
		return nil, fmt.Errorf("rate limit backoff (%v) must exceed twice the initial backoff (%v)",
			cfg.RateLimitBackoff, cfg.InitialBackoff)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Transport != nil {
		httpClient.Transport = cfg.Transport
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     log.With().Str("component", "lookup-client").Logger(),
	}, nil
}

// singleResponse is the body of GET /check/{key}.
type singleResponse struct {
	Available bool `json:"available"`
}

// Check queries the availability of a single key. Retryable failures are
// retried with backoff; the returned error is terminal.
func (c *Client) Check(ctx context.Context, key string, headers map[string]string) (bool, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("check").Observe(time.Since(start).Seconds())
	}()

	var available bool

	err := retryWithBackoff(ctx, c.logger, c.retryConfigFor, func() error {
		endpoint := c.config.BaseURL + "/check/" + url.PathEscape(key)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &LookupError{ErrorClass: ErrorClassProtocol, Message: "build request", Err: err}
		}
		applyHeaders(req, headers)

		body, status, err := c.execute(req, "check")
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return c.statusError(status, "check")
		}

		var parsed singleResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassProtocol)).Inc()
			return &LookupError{
				StatusCode: status,
				ErrorClass: ErrorClassProtocol,
				Message:    "parse single response",
				Err:        err,
			}
		}

		available = parsed.Available
		return nil
	})
	if err != nil {
		return false, err
	}

	return available, nil
}

// batchRequest is the body of POST /check/batch.
type batchRequest struct {
	Keys []string `json:"keys"`
}

// batchRecord is one element of the list-form batch response.
type batchRecord struct {
	Key       string `json:"key"`
	Available bool   `json:"available"`
}

// CheckBatch queries the availability of a group of keys in one call.
// The response may use either of two shapes: a list of {key, available}
// records, or an object mapping key to availability. Keys absent from the
// response are absent from the returned map; the caller decides how to
// resolve them.
func (c *Client) CheckBatch(ctx context.Context, keys []string, headers map[string]string) (map[string]bool, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(batchRequest{Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	var results map[string]bool

	err = retryWithBackoff(ctx, c.logger, c.retryConfigFor, func() error {
		endpoint := c.config.BaseURL + "/check/batch"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return &LookupError{ErrorClass: ErrorClassProtocol, Message: "build batch request", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		applyHeaders(req, headers)

		body, status, err := c.execute(req, "batch")
		if err != nil {
			return err
		}
		if status != http.StatusOK && status != http.StatusCreated {
			return c.statusError(status, "batch")
		}

		parsed, err := parseBatchBody(body)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassProtocol)).Inc()
			return err
		}

		results = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// execute runs one HTTP attempt and returns the response body and status.
// Transport failures come back as classified network errors.
func (c *Client) execute(req *http.Request, endpoint string) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, 0, &LookupError{ErrorClass: ErrorClassNetwork, Message: "transport", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, resp.StatusCode, &LookupError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	return body, resp.StatusCode, nil
}

// statusError builds the classified error for a non-success status code.
func (c *Client) statusError(status int, endpoint string) error {
	class := classifyStatus(status)
	errorsTotal.WithLabelValues(string(class)).Inc()

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", status).
		Str("error_class", string(class)).
		Msg("Lookup request error")

	return &LookupError{
		StatusCode: status,
		ErrorClass: class,
		Message:    http.StatusText(status),
	}
}

// parseBatchBody decodes a batch response in either accepted shape.
func parseBatchBody(body []byte) (map[string]bool, error) {
	var listForm struct {
		Results []batchRecord `json:"results"`
	}
	if err := json.Unmarshal(body, &listForm); err == nil && listForm.Results != nil {
		results := make(map[string]bool, len(listForm.Results))
		for _, rec := range listForm.Results {
			if rec.Key != "" {
				results[rec.Key] = rec.Available
			}
		}
		return results, nil
	}

	var mapForm map[string]bool
	if err := json.Unmarshal(body, &mapForm); err == nil && mapForm != nil {
		return mapForm, nil
	}

	return nil, &LookupError{
		ErrorClass: ErrorClassProtocol,
		Message:    "parse batch response",
		Err:        ErrBadBatchShape,
	}
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}
}
