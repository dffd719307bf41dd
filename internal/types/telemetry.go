package types

// Prometheus metric names. All components MUST use these constants.
const (
	MetricFramesPublished     = "quantcore_frames_published_total"
	MetricFramesRead          = "quantcore_frames_read_total"
	MetricFramesTorn          = "quantcore_frames_torn_total"
	MetricTasksDispatched     = "quantcore_tasks_dispatched_total"
	MetricTaskTimeouts        = "quantcore_task_timeouts_total"
	MetricTaskFailures        = "quantcore_task_failures_total"
	MetricPhaseTransitions    = "quantcore_phase_transitions_total"
	MetricFailoverTransitions = "quantcore_failover_transitions_total"
	MetricDecisionLatency     = "quantcore_decision_latency_seconds"
	MetricDecisionOutcomes    = "quantcore_decision_outcomes_total"
	MetricWatchdogProbes      = "quantcore_watchdog_probes_total"
	MetricCurrentPhase        = "quantcore_current_phase"

	// Label keys
	LabelPhase   = "phase"
	LabelRoute   = "route"
	LabelOutcome = "outcome"
	LabelState   = "state"
	LabelResult  = "result"
)
