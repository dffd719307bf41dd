package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantcore/internal/config"
	"quantcore/internal/types"
)

// fakeScheduler implements PhaseController with settable state.
type fakeScheduler struct {
	phase     types.Phase
	since     time.Time
	degraded  bool
	resumeErr error
}

func (f *fakeScheduler) Snapshot() (types.Phase, time.Time) { return f.phase, f.since }
func (f *fakeScheduler) Degraded() bool                     { return f.degraded }
func (f *fakeScheduler) ForceMaintenance(context.Context)   { f.phase = types.PhaseMaintenance }

func (f *fakeScheduler) ResumeFromMaintenance(context.Context) (types.Phase, error) {
	if f.resumeErr != nil {
		return f.phase, f.resumeErr
	}
	f.phase = types.PhaseActive
	return f.phase, nil
}

// fakeDecider answers with a canned result or error.
type fakeDecider struct {
	state   types.FailoverState
	result  *types.DecisionResult
	err     error
	lastReq *types.DecisionRequest
}

func (f *fakeDecider) State() types.FailoverState { return f.state }

func (f *fakeDecider) Decide(_ context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeHealth returns fixed samples.
type fakeHealth struct {
	samples []types.HealthSample
}

func (f *fakeHealth) LastSamples(int) []types.HealthSample { return f.samples }

// fakeProbe implements HealthProbe.
type fakeProbe struct {
	name string
	err  error
}

func (p *fakeProbe) Name() string                { return p.name }
func (p *fakeProbe) Check(context.Context) error { return p.err }

func newTestServer(t *testing.T, scheduler *fakeScheduler, decider *fakeDecider, health *fakeHealth) *Server {
	t.Helper()
	if scheduler == nil {
		scheduler = &fakeScheduler{phase: types.PhaseActive, since: time.Now().UTC()}
	}
	if decider == nil {
		decider = &fakeDecider{state: types.FailoverNormal}
	}
	if health == nil {
		health = &fakeHealth{}
	}
	s, err := NewServer(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), scheduler, decider, health)
	require.NoError(t, err)
	s.MountRoutes()
	return s
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_ValidatesDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := &fakeScheduler{}
	dec := &fakeDecider{}

	_, err := NewServer(nil, logger, sched, dec, nil)
	require.Error(t, err)
	_, err = NewServer(&config.Config{}, nil, sched, dec, nil)
	require.Error(t, err)
	_, err = NewServer(&config.Config{}, logger, nil, dec, nil)
	require.Error(t, err)
	_, err = NewServer(&config.Config{}, logger, sched, nil, nil)
	require.Error(t, err)
}

func TestHandleHealth_NoProbes(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHandleHealth_FailingProbeReturns503(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	s.Probes = []HealthProbe{
		&fakeProbe{name: "channel"},
		&fakeProbe{name: "engine", err: errors.New("probe stalled")},
	}

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["channel"].Status)
	assert.Equal(t, "unhealthy", resp.Components["engine"].Status)
	assert.Contains(t, resp.Components["engine"].Message, "probe stalled")
}

func TestHandleStatus_Snapshot(t *testing.T) {
	since := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	sched := &fakeScheduler{phase: types.PhaseActive, since: since, degraded: true}
	dec := &fakeDecider{state: types.FailoverCloud}
	health := &fakeHealth{samples: []types.HealthSample{
		{Component: "engine", Healthy: true},
	}}
	s := newTestServer(t, sched, dec, health)

	rec := doRequest(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap types.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, types.PhaseActive, snap.CurrentPhase)
	assert.True(t, snap.PhaseSince.Equal(since))
	assert.True(t, snap.SchedulerDegraded)
	assert.Equal(t, types.FailoverCloud, snap.FailoverState)
	require.Len(t, snap.LastHealthSamples, 1)
	assert.Equal(t, "engine", snap.LastHealthSamples[0].Component)
}

func TestHandleForceMaintenance(t *testing.T) {
	sched := &fakeScheduler{phase: types.PhaseActive}
	s := newTestServer(t, sched, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/ops/maintenance", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp phaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.PhaseMaintenance, resp.CurrentPhase)
}

func TestHandleResume_Success(t *testing.T) {
	sched := &fakeScheduler{phase: types.PhaseMaintenance}
	s := newTestServer(t, sched, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/ops/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp phaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.PhaseActive, resp.CurrentPhase)
}

func TestHandleResume_ConflictWhenNotInMaintenance(t *testing.T) {
	sched := &fakeScheduler{
		phase:     types.PhaseActive,
		resumeErr: types.NewAppError(types.ErrCodeConflictState, "scheduler is not in maintenance", nil),
	}
	s := newTestServer(t, sched, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/ops/resume", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeConflictState), resp.Error.Code)
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestHandleDecide_Success(t *testing.T) {
	dec := &fakeDecider{
		state: types.FailoverNormal,
		result: &types.DecisionResult{
			Key:     "signal.alpha",
			Payload: []byte("buy"),
			Route:   types.RouteLocal,
			Latency: 3 * time.Millisecond,
		},
	}
	s := newTestServer(t, nil, dec, nil)

	body := `{"key":"signal.alpha","payload":"dGljaw==","deadline_ms":50}`
	rec := doRequest(t, s, http.MethodPost, "/v1/decisions", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp decideResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "signal.alpha", resp.Key)
	assert.Equal(t, types.RouteLocal, resp.Route)
	assert.InDelta(t, 3.0, resp.LatencyMS, 0.01)

	require.NotNil(t, dec.lastReq)
	assert.Equal(t, []byte("tick"), dec.lastReq.Payload)
	assert.False(t, dec.lastReq.Deadline.IsZero())
	assert.NotEmpty(t, dec.lastReq.TraceID)
}

func TestHandleDecide_TimeoutOutcome(t *testing.T) {
	dec := &fakeDecider{
		err: types.NewAppError(types.ErrCodeDecisionTimeout, "decision deadline exceeded", context.DeadlineExceeded),
	}
	s := newTestServer(t, nil, dec, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/decisions", `{"key":"k"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeDecisionTimeout), resp.Error.Code)
}

func TestHandleDecide_RejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/decisions", `{"key":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/decisions", `{"key":"k","bogus":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDMiddleware_EchoAndGenerate(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/status", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, "trace-42", rec2.Header().Get("X-Request-ID"))
}

func TestRecoverer_PanicBecomes500(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	s.Router().Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	})

	rec := doRequest(t, s, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
}
