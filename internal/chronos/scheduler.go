// Package chronos implements the calendar-aware time-division scheduler. It
// partitions the trading day into five mutually exclusive phases
// (maintenance, preparation, active, review, evolution), owns the
// process-wide current phase, and dispatches registered tasks on phase entry.
package chronos

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"quantcore/internal/config"
	"quantcore/internal/metrics"
	"quantcore/internal/types"
)

// Clock abstracts wall time for the control loop. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TradingCalendar answers whether a date is a trading day.
type TradingCalendar interface {
	IsTradingDay(t time.Time) bool
}

// PhaseHook observes phase transitions. Hooks run synchronously on the
// control loop; anything slow must hand off to its own goroutine.
type PhaseHook func(ctx context.Context, from, to types.Phase)

// Config holds the scheduler parameters.
type Config struct {
	Boundaries   config.ScheduleBoundaries
	Location     *time.Location
	Calendar     TradingCalendar
	TickInterval time.Duration
	Workers      int
	Clock        Clock
	Logger       *slog.Logger
	Metrics      *metrics.Collector
}

// Scheduler drives phase transitions from one control loop and dispatches
// phase tasks on a bounded worker pool. The control loop and the operator
// overrides serialize on transitionMu, so exactly one writer moves the
// current phase at a time.
type Scheduler struct {
	cfg        Config
	tracker    *PhaseTracker
	registry   *Registry
	dispatcher *Dispatcher
	degraded   atomic.Bool

	// transitionMu serializes tick, ForceMaintenance and
	// ResumeFromMaintenance. Callers re-read the current phase under the
	// lock so a concurrent override cannot be clobbered by a stale tick.
	transitionMu sync.Mutex

	hookMu sync.Mutex
	hooks  []PhaseHook

	// dispatchWG tracks in-flight phase dispatch goroutines for shutdown.
	dispatchWG sync.WaitGroup
}

// NewScheduler creates a scheduler. The initial phase follows the calendar
// and clock: the natural phase for the current time on a trading day,
// maintenance otherwise.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Calendar == nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "scheduler requires a trading calendar", nil)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		cfg:        cfg,
		registry:   NewRegistry(),
		dispatcher: NewDispatcher(cfg.Workers, cfg.Logger, cfg.Metrics),
	}

	now := cfg.Clock.Now().In(cfg.Location)
	initial := types.PhaseMaintenance
	if cfg.Calendar.IsTradingDay(now) {
		initial = s.naturalPhase(now)
	}
	s.tracker = NewPhaseTracker(initial, now)
	cfg.Metrics.PhaseEntered(initial)
	return s, nil
}

// Registry exposes task registration.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Current returns the phase in effect right now.
func (s *Scheduler) Current() types.Phase { return s.tracker.Current() }

// Snapshot returns the current phase and its entry time.
func (s *Scheduler) Snapshot() (types.Phase, time.Time) { return s.tracker.Snapshot() }

// Degraded reports whether entering the active phase left the system in the
// observable degraded-but-running state.
func (s *Scheduler) Degraded() bool { return s.degraded.Load() }

// RecentExecutions exposes the dispatcher's task outcome history.
func (s *Scheduler) RecentExecutions(n int) []types.TaskExecution {
	return s.dispatcher.RecentExecutions(n)
}

// OnPhaseChange registers a transition observer.
func (s *Scheduler) OnPhaseChange(hook PhaseHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Run drives the control loop until ctx is cancelled. Each tick it checks
// whether a time-triggered transition is due; the check never blocks on task
// execution.
func (s *Scheduler) Run(ctx context.Context) error {
	// Dispatch the initial phase's tasks so work registered before Run still
	// fires for the phase the process started in.
	s.dispatchPhase(ctx, s.tracker.Current())

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.dispatchWG.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick applies at most one due transition. Maintenance is never left by the
// clock; only ResumeFromMaintenance exits it.
func (s *Scheduler) tick(ctx context.Context) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	current := s.tracker.Current()
	if current == types.PhaseMaintenance {
		return
	}

	now := s.cfg.Clock.Now().In(s.cfg.Location)
	natural := s.naturalPhase(now)
	if natural == current {
		return
	}
	s.transition(ctx, current, natural, "schedule boundary")
}

// naturalPhase maps a wall-clock instant to the phase the schedule calls
// for. Non-trading days have no preparation/active/review window; the
// system idles in evolution all day.
func (s *Scheduler) naturalPhase(now time.Time) types.Phase {
	if !s.cfg.Calendar.IsTradingDay(now) {
		return types.PhaseEvolution
	}
	tod := types.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	b := s.cfg.Boundaries
	switch {
	case tod.Before(b.Preparation):
		return types.PhaseEvolution
	case tod.Before(b.Active):
		return types.PhasePreparation
	case tod.Before(b.Review):
		return types.PhaseActive
	case tod.Before(b.Evolution):
		return types.PhaseReview
	default:
		return types.PhaseEvolution
	}
}

// ForceMaintenance moves to maintenance from any phase. This is the only
// manual override into maintenance and the only transition not driven by
// the clock.
func (s *Scheduler) ForceMaintenance(ctx context.Context) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	current := s.tracker.Current()
	if current == types.PhaseMaintenance {
		return
	}
	s.transition(ctx, current, types.PhaseMaintenance, "operator request")
}

// ResumeFromMaintenance re-evaluates the calendar and clock and enters the
// natural phase for the current time. It fails with conflict_state when the
// scheduler is not in maintenance.
func (s *Scheduler) ResumeFromMaintenance(ctx context.Context) (types.Phase, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	current := s.tracker.Current()
	if current != types.PhaseMaintenance {
		return current, types.NewAppError(types.ErrCodeConflictState, "scheduler is not in maintenance", nil).
			WithDetails(map[string]any{"current_phase": string(current)})
	}

	now := s.cfg.Clock.Now().In(s.cfg.Location)
	next := s.naturalPhase(now)
	s.transition(ctx, current, next, "operator resume")
	return next, nil
}

// transition swaps the current phase and kicks off the new phase's tasks.
// Callers hold transitionMu; hooks therefore run with transitions paused and
// must return quickly.
func (s *Scheduler) transition(ctx context.Context, from, to types.Phase, reason string) {
	now := s.cfg.Clock.Now().In(s.cfg.Location)
	s.tracker.set(to, now)
	s.degraded.Store(false)
	s.cfg.Metrics.PhaseEntered(to)
	s.cfg.Logger.InfoContext(ctx, "phase transition",
		"from", from,
		"to", to,
		"reason", reason,
	)

	s.hookMu.Lock()
	hooks := make([]PhaseHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.hookMu.Unlock()
	for _, hook := range hooks {
		hook(ctx, from, to)
	}

	s.dispatchPhase(ctx, to)
}

// dispatchPhase runs the phase's due tasks off the control loop. Entering
// active with any task failure sets the degraded flag instead of crashing,
// since active governs live decision-making.
func (s *Scheduler) dispatchPhase(ctx context.Context, phase types.Phase) {
	tasks := s.registry.due(phase)
	if len(tasks) == 0 {
		return
	}

	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		failures := s.dispatcher.RunPhase(ctx, phase, tasks)
		if failures > 0 && phase == types.PhaseActive {
			s.degraded.Store(true)
			s.cfg.Logger.ErrorContext(ctx, "active phase entered degraded",
				"failed_tasks", failures,
				"total_tasks", len(tasks),
			)
		}
	}()
}
