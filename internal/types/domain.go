package types

import "time"

// DecisionRequest is a single latency-bounded decision query. Key is the
// routing/symbol identity used for single-flight coalescing; requests for the
// same key that overlap in time share one backend invocation.
type DecisionRequest struct {
	Key      string    `json:"key"`
	Payload  []byte    `json:"payload"`
	Deadline time.Time `json:"deadline"`
	TraceID  string    `json:"trace_id,omitempty"`
}

// DecisionResult is the answer to a DecisionRequest. Route reports which
// backend produced the result; Latency is measured from the moment the
// decision service accepted the request.
type DecisionResult struct {
	Key     string        `json:"key"`
	Payload []byte        `json:"payload"`
	Route   Route         `json:"route_used"`
	Latency time.Duration `json:"latency"`
}

// HealthSample is a single health observation of a monitored component.
// Produced by the backend watchdog, consumed by the decision service and
// the status snapshot.
type HealthSample struct {
	Component string    `json:"component"`
	Timestamp time.Time `json:"timestamp"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
}

// StatusSnapshot is the read-only view of the core exported to external
// monitoring. It is polled, never pushed.
type StatusSnapshot struct {
	CurrentPhase      Phase          `json:"current_phase"`
	PhaseSince        time.Time      `json:"phase_since"`
	SchedulerDegraded bool           `json:"scheduler_degraded"`
	FailoverState     FailoverState  `json:"failover_state"`
	LastHealthSamples []HealthSample `json:"last_health_samples"`
}

// TaskExecution records the observable outcome of one dispatched task run.
// Every spawned unit of work produces exactly one of these, including runs
// cancelled at their timeout.
type TaskExecution struct {
	TaskID   string        `json:"task_id"`
	Phase    Phase         `json:"phase"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
	Err      string        `json:"error,omitempty"`
}
