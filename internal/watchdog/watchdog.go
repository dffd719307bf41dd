// Package watchdog implements periodic health probing of the local compute
// backend. On a failed probe it runs a bounded recovery action, publishing
// degraded health samples for the duration; after a bounded number of failed
// recovery attempts it marks the backend permanently unhealthy until an
// operator resets it.
//
// Samples fan out to subscribers over buffered channels and are kept in a
// bounded ring for the status snapshot. The watchdog never blocks on a slow
// subscriber; a full subscriber channel drops the sample.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quantcore/internal/metrics"
	"quantcore/internal/types"
)

// LocalBackend is the probed/recovered capability of the local compute
// backend. Probe and Recover must respect the context deadline.
type LocalBackend interface {
	// Probe checks responsiveness; a non-nil error marks the backend
	// unhealthy for this cycle.
	Probe(ctx context.Context) error
	// Recover runs the backend's recovery action. The context carries the
	// configured recovery budget as its deadline.
	Recover(ctx context.Context) error
}

// sampleHistory is how many recent samples the snapshot retains.
const sampleHistory = 32

// Config holds the watchdog parameters.
type Config struct {
	Component           string
	Backend             LocalBackend
	ProbeInterval       time.Duration
	RecoveryBudget      time.Duration
	MaxRecoveryAttempts int
	Logger              *slog.Logger
	Metrics             *metrics.Collector
}

// Watchdog probes one local backend on a fixed interval.
type Watchdog struct {
	cfg Config

	mu          sync.Mutex
	subscribers []chan types.HealthSample
	recent      []types.HealthSample
	givenUp     bool
}

// New creates a Watchdog. The zero values of interval and budget are replaced
// with the operational defaults (30s probe, 60s recovery budget, 3 attempts).
func New(cfg Config) (*Watchdog, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("watchdog: backend is required")
	}
	if cfg.Component == "" {
		cfg.Component = "local-backend"
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.RecoveryBudget <= 0 {
		cfg.RecoveryBudget = 60 * time.Second
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watchdog{cfg: cfg}, nil
}

// Subscribe registers a sample listener. The returned channel is buffered;
// samples that would block are dropped for that subscriber.
func (w *Watchdog) Subscribe(buffer int) <-chan types.HealthSample {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan types.HealthSample, buffer)
	w.mu.Lock()
	w.subscribers = append(w.subscribers, ch)
	w.mu.Unlock()
	return ch
}

// LastSamples returns up to n of the most recent samples, oldest first.
func (w *Watchdog) LastSamples(n int) []types.HealthSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || n > len(w.recent) {
		n = len(w.recent)
	}
	out := make([]types.HealthSample, n)
	copy(out, w.recent[len(w.recent)-n:])
	return out
}

// Reset clears the permanently-unhealthy latch so probing resumes. This is
// the operator intervention hook.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	w.givenUp = false
	w.mu.Unlock()
	w.cfg.Logger.Info("watchdog reset by operator", "component", w.cfg.Component)
}

// Run drives the probe loop until ctx is cancelled. Each interval it probes
// the backend; on failure it attempts recovery under the configured budget,
// up to MaxRecoveryAttempts times, then gives up and publishes Unhealthy
// every cycle until Reset is called.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

// cycle performs one probe (and, when needed, the recovery sequence).
func (w *Watchdog) cycle(ctx context.Context) {
	w.mu.Lock()
	givenUp := w.givenUp
	w.mu.Unlock()
	if givenUp {
		w.publish(ctx, false, "backend unhealthy, awaiting operator reset")
		return
	}

	if err := w.probe(ctx); err == nil {
		w.cfg.Metrics.WatchdogProbe("healthy")
		w.publish(ctx, true, "")
		return
	} else {
		w.cfg.Metrics.WatchdogProbe("unhealthy")
		w.cfg.Logger.WarnContext(ctx, "backend probe failed",
			"component", w.cfg.Component,
			"error", err,
		)
	}

	for attempt := 1; attempt <= w.cfg.MaxRecoveryAttempts; attempt++ {
		w.publish(ctx, false, fmt.Sprintf("recovery in progress (attempt %d/%d)", attempt, w.cfg.MaxRecoveryAttempts))

		if err := w.recover(ctx); err != nil {
			w.cfg.Logger.WarnContext(ctx, "backend recovery attempt failed",
				"component", w.cfg.Component,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		// Recovery ran to completion; re-probe before declaring health.
		if err := w.probe(ctx); err == nil {
			w.cfg.Metrics.WatchdogProbe("recovered")
			w.cfg.Logger.InfoContext(ctx, "backend recovered",
				"component", w.cfg.Component,
				"attempt", attempt,
			)
			w.publish(ctx, true, "recovered")
			return
		}
	}

	w.mu.Lock()
	w.givenUp = true
	w.mu.Unlock()
	w.cfg.Metrics.WatchdogProbe("gave_up")
	w.cfg.Logger.ErrorContext(ctx, "backend recovery exhausted, marking permanently unhealthy",
		"component", w.cfg.Component,
		"attempts", w.cfg.MaxRecoveryAttempts,
	)
	w.publish(ctx, false, "recovery attempts exhausted")
}

func (w *Watchdog) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeInterval)
	defer cancel()
	return w.cfg.Backend.Probe(probeCtx)
}

func (w *Watchdog) recover(ctx context.Context) error {
	recoverCtx, cancel := context.WithTimeout(ctx, w.cfg.RecoveryBudget)
	defer cancel()
	return w.cfg.Backend.Recover(recoverCtx)
}

// publish records the sample and fans it out without blocking.
func (w *Watchdog) publish(ctx context.Context, healthy bool, detail string) {
	sample := types.HealthSample{
		Component: w.cfg.Component,
		Timestamp: time.Now().UTC(),
		Healthy:   healthy,
		Detail:    detail,
	}

	w.mu.Lock()
	w.recent = append(w.recent, sample)
	if len(w.recent) > sampleHistory {
		w.recent = w.recent[len(w.recent)-sampleHistory:]
	}
	subs := make([]chan types.HealthSample, len(w.subscribers))
	copy(subs, w.subscribers)
	w.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- sample:
		default:
			w.cfg.Logger.DebugContext(ctx, "dropping health sample for slow subscriber",
				"component", w.cfg.Component,
			)
		}
	}
}
