// Package failover answers latency-bounded decision requests. It prefers the
// local backend under a tight soft budget and switches all traffic to the
// cloud backend after a configured run of consecutive local failures or an
// unhealthy watchdog sample. Reversion to local is driven by watchdog health
// samples, never by probing the local backend inline with live traffic.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quantcore/internal/metrics"
	"quantcore/internal/types"
)

// Backend is a decision answerer: the local engine or the cloud client.
// Attempt must respect ctx and return promptly once it is done.
type Backend interface {
	Name() types.Route
	Attempt(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc struct {
	Route types.Route
	Fn    func(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error)
}

func (b BackendFunc) Name() types.Route { return b.Route }

func (b BackendFunc) Attempt(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	return b.Fn(ctx, req)
}

// Config holds the failover service parameters.
type Config struct {
	Local  Backend
	Remote Backend
	// FailureThreshold is the number of consecutive local failures that
	// switches the service to cloud failover.
	FailureThreshold int
	// RecoverySamples is the number of consecutive healthy watchdog samples
	// required to revert from cloud failover to normal routing.
	RecoverySamples int
	// LocalBudget bounds a single local attempt.
	LocalBudget time.Duration
	// EagerRemote, when set, routes a request straight to the cloud if the
	// local backend is already trending bad and the request deadline leaves
	// no room for a local attempt plus a fallback.
	EagerRemote bool
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// Service is the failover decision service. A Service owns its FailoverState
// exclusively; other components only read it through State or snapshots.
type Service struct {
	cfg Config

	mu            sync.Mutex
	state         types.FailoverState
	failures      int
	healthyStreak int

	flight singleflight.Group
}

// NewService creates a Service in the Normal state.
func NewService(cfg Config) (*Service, error) {
	if cfg.Local == nil || cfg.Remote == nil {
		return nil, fmt.Errorf("failover: both local and remote backends are required")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoverySamples <= 0 {
		cfg.RecoverySamples = 5
	}
	if cfg.LocalBudget <= 0 {
		cfg.LocalBudget = 20 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:   cfg,
		state: types.FailoverNormal,
	}, nil
}

// State reports the current routing state.
func (s *Service) State() types.FailoverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run consumes watchdog health samples until ctx is cancelled. An unhealthy
// sample forces cloud failover immediately; a run of RecoverySamples healthy
// samples reverts to normal routing, and any unhealthy sample in between
// resets that run to zero.
func (s *Service) Run(ctx context.Context, samples <-chan types.HealthSample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			s.observeSample(ctx, sample)
		}
	}
}

func (s *Service) observeSample(ctx context.Context, sample types.HealthSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !sample.Healthy {
		s.healthyStreak = 0
		if s.state != types.FailoverCloud {
			s.transitionLocked(ctx, types.FailoverCloud, "unhealthy watchdog sample")
		}
		return
	}

	if s.state != types.FailoverCloud {
		return
	}
	s.healthyStreak++
	if s.healthyStreak >= s.cfg.RecoverySamples {
		s.failures = 0
		s.healthyStreak = 0
		s.transitionLocked(ctx, types.FailoverNormal, "local backend recovered")
	}
}

// transitionLocked records a state change. Callers hold s.mu.
func (s *Service) transitionLocked(ctx context.Context, to types.FailoverState, reason string) {
	from := s.state
	s.state = to
	s.cfg.Metrics.FailoverEntered(to)
	s.cfg.Logger.InfoContext(ctx, "failover state changed",
		"from", from,
		"to", to,
		"reason", reason,
	)
}

// Decide answers one decision request. Requests for the same key are
// single-flight: a concurrent duplicate waits for the in-flight result
// instead of issuing a second backend call. A request that misses its
// deadline gets an explicit decision_timeout outcome; its in-flight work is
// abandoned and any late result is discarded.
func (s *Service) Decide(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	if req == nil || req.Key == "" {
		return nil, types.NewAppError(types.ErrCodeInvalidRequest, "decision request requires a key", nil)
	}

	deadline := req.Deadline
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	started := time.Now()

	// The flight itself runs on a context detached from this caller so a
	// coalesced waiter is not cancelled when the first caller gives up. The
	// request deadline still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		flightCtx, cancel = context.WithDeadline(flightCtx, deadline)
		defer cancel()
	}

	ch := s.flight.DoChan(req.Key, func() (any, error) {
		return s.route(flightCtx, req)
	})

	select {
	case <-ctx.Done():
		s.cfg.Metrics.DecisionObserved(types.RouteNone, "timeout", time.Since(started).Seconds())
		return nil, types.NewAppError(types.ErrCodeDecisionTimeout, "decision deadline exceeded", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := res.Val.(*types.DecisionResult)
		if res.Shared {
			// Coalesced waiters get a copy so latency stamping stays per-call.
			copied := *result
			result = &copied
		}
		result.Latency = time.Since(started)
		s.cfg.Metrics.DecisionObserved(result.Route, "ok", result.Latency.Seconds())
		return result, nil
	}
}

// route picks a backend for one in-flight decision and applies the failure
// accounting that drives state transitions.
func (s *Service) route(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	s.mu.Lock()
	state := s.state
	failures := s.failures
	s.mu.Unlock()

	if state == types.FailoverCloud {
		return s.attemptRemote(ctx, req)
	}

	if s.cfg.EagerRemote && failures > 0 && !roomForLocalAttempt(ctx, s.cfg.LocalBudget) {
		// Trending bad and no room for a local attempt plus a fallback:
		// skip straight to the cloud without charging a local failure.
		return s.attemptRemote(ctx, req)
	}

	result, err := s.attemptLocal(ctx, req)
	if err == nil {
		s.onLocalSuccess(ctx)
		return result, nil
	}

	s.onLocalFailure(ctx, err)

	// The caller still deserves an answer within its deadline.
	return s.attemptRemote(ctx, req)
}

// roomForLocalAttempt reports whether ctx leaves room for a local attempt
// under budget plus a remote fallback afterwards.
func roomForLocalAttempt(ctx context.Context, budget time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) >= 2*budget
}

func (s *Service) attemptLocal(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	localCtx, cancel := context.WithTimeout(ctx, s.cfg.LocalBudget)
	defer cancel()

	result, err := s.cfg.Local.Attempt(localCtx, req)
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	result.Route = types.RouteLocal
	return result, nil
}

func (s *Service) attemptRemote(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error) {
	result, err := s.cfg.Remote.Attempt(ctx, req)
	if err != nil {
		s.cfg.Metrics.DecisionObserved(types.RouteRemote, "error", 0)
		return nil, types.NewAppError(
			types.ErrCodeNoBackendAvailable,
			"no backend answered the decision request",
			err,
		)
	}
	result.Route = types.RouteRemote
	return result, nil
}

func (s *Service) onLocalSuccess(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	if s.state == types.FailoverDegraded {
		s.transitionLocked(ctx, types.FailoverNormal, "local backend answered")
	}
}

func (s *Service) onLocalFailure(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.FailoverCloud {
		return
	}
	s.failures++
	s.cfg.Logger.WarnContext(ctx, "local decision attempt failed",
		"consecutive_failures", s.failures,
		"threshold", s.cfg.FailureThreshold,
		"error", err,
	)
	switch {
	case s.failures >= s.cfg.FailureThreshold:
		s.transitionLocked(ctx, types.FailoverCloud, "consecutive local failures reached threshold")
	case s.state == types.FailoverNormal:
		s.transitionLocked(ctx, types.FailoverDegraded, "local backend failing")
	}
}
