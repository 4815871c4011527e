// Package remote is a small JSON-over-HTTP client for the remote authority
// that domain handlers call.
//
// Calls go through a circuit breaker so a dead remote fails fast during a
// sync run instead of waiting out the timeout for every queued action.
// Response mapping:
//   - 2xx: success, the decoded JSON object becomes Result.Extra
//   - 4xx: the remote rejected the mutation; Result.Success is false and
//     Result.Error carries the body's "error" field
//   - 5xx, network errors, open breaker: returned as error
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/registry"
)

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	MaxFailures   int           `koanf:"max_failures"`
	Timeout       time.Duration `koanf:"timeout"`
	HalfOpenLimit int           `koanf:"half_open_limit"`
}

// Config configures a Client.
type Config struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
	Breaker BreakerConfig `koanf:"breaker"`
}

// StatusError is returned for 5xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the remote authority.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *gobreaker.CircuitBreaker[registry.Result]
	log        zerolog.Logger
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	log := logger.Named("remote")
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[registry.Result](gobreaker.Settings{
		Name:        "remote",
		MaxRequests: toUint32(cfg.Breaker.HalfOpenLimit),
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		breaker:    cb,
		log:        log,
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Do sends body as JSON to path and maps the response to a handler Result.
func (c *Client) Do(ctx context.Context, method, path string, body any) (registry.Result, error) {
	return c.breaker.Execute(func() (registry.Result, error) {
		return c.do(ctx, method, path, body)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body any) (registry.Result, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return registry.Result{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return registry.Result{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return registry.Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return registry.Result{}, fmt.Errorf("read response: %w", err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("Remote call")

	if resp.StatusCode >= http.StatusInternalServerError {
		return registry.Result{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var extra map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		// Non-object bodies are tolerated; they simply carry no extra data.
		_ = json.Unmarshal(raw, &extra)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := extra["error"].(string)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return registry.Result{Success: false, Error: msg, Extra: extra}, nil
	}
	return registry.Result{Success: true, Extra: extra}, nil
}

// Ping checks the remote's health endpoint. It bypasses the breaker so the
// connectivity probe keeps reporting while the breaker is open.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// BreakerOpen reports whether the breaker is currently rejecting calls.
func (c *Client) BreakerOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

// IsBreakerError reports whether err came from an open or saturated breaker.
func IsBreakerError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func toUint32(v int) uint32 {
	if v <= 0 {
		return 0
	}
	if uint64(v) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
