// Package core provides the HTTP chassis for the quantcore daemon: operator
// controls, the status snapshot polled by external monitoring, the decision
// endpoint, and health probes. Cross-cutting concerns (panic recovery,
// request IDs, request logging) are enforced before requests reach handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"quantcore/internal/config"
	"quantcore/internal/metrics"
	"quantcore/internal/types"
)

// PhaseController is the scheduler surface the HTTP layer needs: the phase
// snapshot and the two operator overrides.
type PhaseController interface {
	Snapshot() (types.Phase, time.Time)
	Degraded() bool
	ForceMaintenance(ctx context.Context)
	ResumeFromMaintenance(ctx context.Context) (types.Phase, error)
}

// Decider answers decision requests and exposes its routing state.
type Decider interface {
	Decide(ctx context.Context, req *types.DecisionRequest) (*types.DecisionResult, error)
	State() types.FailoverState
}

// HealthReporter exposes recent backend health samples.
type HealthReporter interface {
	LastSamples(n int) []types.HealthSample
}

// HealthProbe is a subsystem check run by the health endpoint.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Server encapsulates the HTTP layer's dependencies so tests can inject
// fakes for each subsystem.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Scheduler PhaseController
	Decider   Decider
	Health    HealthReporter
	Metrics   *metrics.Collector
	Probes    []HealthProbe

	router *chi.Mux
}

// NewServer validates dependencies and prepares the router. The caller
// mounts routes after construction.
func NewServer(cfg *config.Config, logger *slog.Logger, scheduler PhaseController, decider Decider, health HealthReporter) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler must not be nil")
	}
	if decider == nil {
		return nil, fmt.Errorf("decider must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Scheduler: scheduler,
		Decider:   decider,
		Health:    health,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
