package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestAttempt_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/decisions", r.URL.Path)
		assert.Equal(t, "trace-1", r.Header.Get("X-B3-TraceId"))

		var req decisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "signal.alpha", req.Key)

		json.NewEncoder(w).Encode(decisionResponse{
			Key:     req.Key,
			Payload: []byte("buy"),
		})
	})

	result, err := client.Attempt(context.Background(), &types.DecisionRequest{
		Key:     "signal.alpha",
		Payload: []byte("tick"),
		TraceID: "trace-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "signal.alpha", result.Key)
	assert.Equal(t, []byte("buy"), result.Payload)
	assert.Equal(t, types.RouteRemote, result.Route)
	assert.Greater(t, result.Latency, time.Duration(0))
}

func TestAttempt_ServerErrorMapsToUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Attempt(context.Background(), &types.DecisionRequest{Key: "k"})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeRemoteUnavailable, appErr.Code)
}

func TestAttempt_RateLimitMapsToRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Attempt(context.Background(), &types.DecisionRequest{Key: "k"})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeRemoteRateLimited, appErr.Code)
}

func TestAttempt_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := &types.DecisionRequest{Key: "k"}
	for i := 0; i < 6; i++ {
		_, err := client.Attempt(context.Background(), req)
		require.Error(t, err)
	}
	callsBeforeOpen := calls.Load()

	// Breaker is open now; the next attempt fails without touching the server.
	_, err := client.Attempt(context.Background(), req)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeRemoteRateLimited, appErr.Code)
	assert.Equal(t, callsBeforeOpen, calls.Load())
}

func TestAttempt_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Attempt(ctx, &types.DecisionRequest{Key: "k"})
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeRemoteUnavailable, appErr.Code)
}

func TestName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {})
	assert.Equal(t, types.RouteRemote, client.Name())
}
