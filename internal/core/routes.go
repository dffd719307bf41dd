package core

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"quantcore/internal/types"
)

// healthCheckTimeout bounds the combined run of all health probes.
const healthCheckTimeout = 2 * time.Second

// defaultDecisionBudget applies when a decision request names no deadline.
const defaultDecisionBudget = 200 * time.Millisecond

// statusSampleCount is how many recent health samples the snapshot carries.
const statusSampleCount = 10

// MountRoutes registers the middleware chain and all endpoints.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.RequestLogger)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/status", s.HandleStatus)
	s.router.Post("/ops/maintenance", s.HandleForceMaintenance)
	s.router.Post("/ops/resume", s.HandleResume)
	s.router.Post("/v1/decisions", s.HandleDecide)

	if s.Metrics != nil {
		s.router.Handle("/metrics", s.Metrics.Handler())
	}
}

// componentStatus is the health state of one probed subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs all registered probes concurrently under a short
// deadline. Any failing probe turns the response into a 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.Probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	results := make([]error, len(s.Probes))
	g, probeCtx := errgroup.WithContext(ctx)
	for i, probe := range s.Probes {
		i, probe := i, probe
		g.Go(func() error {
			results[i] = probe.Check(probeCtx)
			// Individual failures are reported per component, not as a
			// group error, so sibling probes still run to completion.
			return nil
		})
	}
	_ = g.Wait()

	resp := healthResponse{
		Status:     "healthy",
		Components: make(map[string]componentStatus, len(s.Probes)),
	}
	status := http.StatusOK
	for i, probe := range s.Probes {
		if err := results[i]; err != nil {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			resp.Components[probe.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
			continue
		}
		resp.Components[probe.Name()] = componentStatus{Status: "healthy"}
	}
	JSON(w, r, status, resp)
}

// HandleStatus returns the read-only snapshot polled by external monitoring.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	phase, since := s.Scheduler.Snapshot()
	snapshot := types.StatusSnapshot{
		CurrentPhase:      phase,
		PhaseSince:        since,
		SchedulerDegraded: s.Scheduler.Degraded(),
		FailoverState:     s.Decider.State(),
	}
	if s.Health != nil {
		snapshot.LastHealthSamples = s.Health.LastSamples(statusSampleCount)
	}
	JSON(w, r, http.StatusOK, snapshot)
}

type phaseResponse struct {
	CurrentPhase types.Phase `json:"current_phase"`
}

// HandleForceMaintenance is the operator override into the maintenance
// phase, valid from any phase.
func (s *Server) HandleForceMaintenance(w http.ResponseWriter, r *http.Request) {
	s.Scheduler.ForceMaintenance(r.Context())
	phase, _ := s.Scheduler.Snapshot()
	JSON(w, r, http.StatusOK, phaseResponse{CurrentPhase: phase})
}

// HandleResume leaves maintenance for the natural phase of the current
// calendar and clock. It fails when the scheduler is not in maintenance.
func (s *Server) HandleResume(w http.ResponseWriter, r *http.Request) {
	next, err := s.Scheduler.ResumeFromMaintenance(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, phaseResponse{CurrentPhase: next})
}

type decideRequest struct {
	Key        string `json:"key"`
	Payload    []byte `json:"payload"`
	DeadlineMS int64  `json:"deadline_ms,omitempty"`
}

type decideResponse struct {
	Key       string      `json:"key"`
	Payload   []byte      `json:"payload"`
	Route     types.Route `json:"route_used"`
	LatencyMS float64     `json:"latency_ms"`
}

// HandleDecide answers one decision request over HTTP. The caller's
// deadline_ms becomes the request deadline; callers always receive an
// explicit outcome before it, never an unbounded wait.
func (s *Server) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var body decideRequest
	if err := DecodeJSON(w, r, &body); err != nil {
		Error(w, r, err)
		return
	}

	budget := defaultDecisionBudget
	if body.DeadlineMS > 0 {
		budget = time.Duration(body.DeadlineMS) * time.Millisecond
	}

	result, err := s.Decider.Decide(r.Context(), &types.DecisionRequest{
		Key:      body.Key,
		Payload:  body.Payload,
		Deadline: time.Now().Add(budget),
		TraceID:  types.GetRequestID(r.Context()),
	})
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, decideResponse{
		Key:       result.Key,
		Payload:   result.Payload,
		Route:     result.Route,
		LatencyMS: float64(result.Latency) / float64(time.Millisecond),
	})
}
