// Package metrics collects and exposes Prometheus metrics for the quantcore
// core: channel traffic, task dispatch outcomes, phase and failover
// transitions, and decision latency.
//
// Infrastructure-level errors (torn frames, task timeouts, backend hiccups)
// are absorbed by their components and surface here as counters rather than
// propagated errors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantcore/internal/types"
)

// Collector owns all quantcore metric series. Create one per process with
// NewCollector and pass it to each component; a nil *Collector is valid and
// records nothing, which keeps tests free of registry setup.
type Collector struct {
	registry *prometheus.Registry

	framesPublished prometheus.Counter
	framesRead      prometheus.Counter
	framesTorn      prometheus.Counter

	tasksDispatched *prometheus.CounterVec
	taskTimeouts    *prometheus.CounterVec
	taskFailures    *prometheus.CounterVec

	phaseTransitions    *prometheus.CounterVec
	failoverTransitions *prometheus.CounterVec
	currentPhase        *prometheus.GaugeVec

	decisionLatency  *prometheus.HistogramVec
	decisionOutcomes *prometheus.CounterVec

	watchdogProbes *prometheus.CounterVec
}

// NewCollector creates a Collector backed by its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: types.MetricFramesPublished,
			Help: "Total number of frames published to the signal channel",
		}),
		framesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: types.MetricFramesRead,
			Help: "Total number of frames read from the signal channel",
		}),
		framesTorn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: types.MetricFramesTorn,
			Help: "Total number of torn frames discarded by the consumer",
		}),
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: types.MetricTasksDispatched,
			Help: "Total number of tasks dispatched on phase entry",
		}, []string{types.LabelPhase}),
		taskTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: types.MetricTaskTimeouts,
			Help: "Total number of tasks cancelled at their timeout",
		}, []string{types.LabelPhase}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: types.MetricTaskFailures,
			Help: "Total number of failed task executions",
		}, []string{types.LabelPhase}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: types.MetricPhaseTransitions,
			Help: "Total number of phase transitions, labelled by entered phase",
		}, []string{types.LabelPhase}),
		failoverTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: types.MetricFailoverTransitions,
			Help: "Total number of failover state transitions, labelled by entered state",
		}, []string{types.LabelState}),
		currentPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: types.MetricCurrentPhase,
			Help: "1 for the current phase, 0 for all others",
		}, []string{types.LabelPhase}),
		decisionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: types.MetricDecisionLatency,
			Help: "Decision request latency in seconds",
			// Decision budgets live well under 200ms; bias the buckets low.
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
		}, []string{types.LabelRoute}),
		decisionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: types.MetricDecisionOutcomes,
			Help: "Total decision outcomes by route and result",
		}, []string{types.LabelRoute, types.LabelOutcome}),
		watchdogProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: types.MetricWatchdogProbes,
			Help: "Total watchdog probe results",
		}, []string{types.LabelResult}),
	}

	c.registry.MustRegister(
		c.framesPublished, c.framesRead, c.framesTorn,
		c.tasksDispatched, c.taskTimeouts, c.taskFailures,
		c.phaseTransitions, c.failoverTransitions, c.currentPhase,
		c.decisionLatency, c.decisionOutcomes,
		c.watchdogProbes,
	)
	return c
}

// Handler returns the HTTP handler exposing the registry in Prometheus text
// format, for mounting at /metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FramePublished() {
	if c != nil {
		c.framesPublished.Inc()
	}
}

func (c *Collector) FrameRead() {
	if c != nil {
		c.framesRead.Inc()
	}
}

func (c *Collector) FrameTorn() {
	if c != nil {
		c.framesTorn.Inc()
	}
}

func (c *Collector) TaskDispatched(phase types.Phase) {
	if c != nil {
		c.tasksDispatched.WithLabelValues(string(phase)).Inc()
	}
}

func (c *Collector) TaskTimedOut(phase types.Phase) {
	if c != nil {
		c.taskTimeouts.WithLabelValues(string(phase)).Inc()
	}
}

func (c *Collector) TaskFailed(phase types.Phase) {
	if c != nil {
		c.taskFailures.WithLabelValues(string(phase)).Inc()
	}
}

// PhaseEntered records a phase transition and repoints the current-phase gauge.
func (c *Collector) PhaseEntered(phase types.Phase) {
	if c == nil {
		return
	}
	c.phaseTransitions.WithLabelValues(string(phase)).Inc()
	for _, p := range []types.Phase{
		types.PhaseMaintenance, types.PhasePreparation, types.PhaseActive,
		types.PhaseReview, types.PhaseEvolution,
	} {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		c.currentPhase.WithLabelValues(string(p)).Set(v)
	}
}

func (c *Collector) FailoverEntered(state types.FailoverState) {
	if c != nil {
		c.failoverTransitions.WithLabelValues(string(state)).Inc()
	}
}

func (c *Collector) DecisionObserved(route types.Route, outcome string, latencySeconds float64) {
	if c == nil {
		return
	}
	c.decisionOutcomes.WithLabelValues(string(route), outcome).Inc()
	c.decisionLatency.WithLabelValues(string(route)).Observe(latencySeconds)
}

func (c *Collector) WatchdogProbe(result string) {
	if c != nil {
		c.watchdogProbes.WithLabelValues(result).Inc()
	}
}
