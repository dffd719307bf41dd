// Package remote implements the cloud decision backend: an HTTP client for
// the hosted decision service, wrapped in a circuit breaker so a dead or
// rate-limited endpoint fails fast instead of burning the decision deadline
// on connection attempts.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"quantcore/internal/types"
)

// decisionsPath is the decision endpoint on the cloud service.
const decisionsPath = "/v1/decisions"

// maxResponseBytes bounds how much of a decision response we will read.
const maxResponseBytes = 1 << 20

// Config holds the remote client parameters.
type Config struct {
	// BaseURL is the cloud decision service root, e.g. "https://decide.example.com".
	BaseURL string
	// Timeout bounds a single decision round trip. Decision deadlines shorter
	// than this still win; the effective budget is the tighter of the two.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the cloud decision backend. It satisfies the failover package's
// Backend interface.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*types.DecisionResult]
	logger  *slog.Logger
}

// decisionRequest is the wire form of an outbound decision.
type decisionRequest struct {
	Key     string `json:"key"`
	Payload []byte `json:"payload"`
	TraceID string `json:"trace_id,omitempty"`
}

// decisionResponse is the wire form of the service's answer.
type decisionResponse struct {
	Key     string `json:"key"`
	Payload []byte `json:"payload"`
}

// NewClient creates a cloud decision client. The breaker opens after a run of
// consecutive failures and recovers through a single trial request; while
// open, Attempt returns remote_unavailable immediately.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 150 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*types.DecisionResult](gobreaker.Settings{
		Name:        "cloud-decisions",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		breaker: cb,
		logger:  cfg.Logger,
	}, nil
}

// Name reports which route this backend serves.
func (c *Client) Name() types.Route {
	return types.RouteRemote
}

// Attempt submits the request to the cloud decision service. Failures map to
// remote_rate_limited (429 or open breaker) or remote_unavailable (network
// errors and 5xx); both are retryable from the caller's point of view once
// the breaker cools down.
func (c *Client) Attempt(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	started := time.Now()

	result, err := c.breaker.Execute(func() (*types.DecisionResult, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		return nil, c.mapError(err)
	}

	result.Route = types.RouteRemote
	result.Latency = time.Since(started)
	return result, nil
}

func (c *Client) post(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	body, err := json.Marshal(decisionRequest{
		Key:     req.Key,
		Payload: req.Payload,
		TraceID: req.TraceID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding decision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+decisionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building decision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.TraceID != "" {
		httpReq.Header.Set("X-B3-TraceId", req.TraceID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling decision service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("decision service returned %d", resp.StatusCode)
	}

	var decoded decisionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding decision response: %w", err)
	}
	return &types.DecisionResult{
		Key:     decoded.Key,
		Payload: decoded.Payload,
	}, nil
}

// errRateLimited marks a 429 so mapError can distinguish it after the breaker
// wraps the call.
var errRateLimited = errors.New("decision service rate limited")

func (c *Client) mapError(err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(
			types.ErrCodeRemoteRateLimited,
			"circuit breaker open; cloud decision service unavailable",
			err,
		)
	case errors.Is(err, errRateLimited):
		return types.NewAppError(
			types.ErrCodeRemoteRateLimited,
			"cloud decision service rate limit exceeded",
			err,
		)
	default:
		return types.NewAppError(
			types.ErrCodeRemoteUnavailable,
			"cloud decision request failed",
			err,
		)
	}
}
