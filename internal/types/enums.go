package types

// Phase is one of the five mutually-exclusive operating phases of the
// scheduler. Exactly one phase is current at any instant. The scheduler is
// the only writer of the current phase; every other component observes it
// read-only through a PhaseTracker handle.
type Phase string

const (
	PhaseMaintenance Phase = "maintenance"
	PhasePreparation Phase = "preparation"
	PhaseActive      Phase = "active"
	PhaseReview      Phase = "review"
	PhaseEvolution   Phase = "evolution"
)

// Valid reports whether p is one of the five defined phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseMaintenance, PhasePreparation, PhaseActive, PhaseReview, PhaseEvolution:
		return true
	}
	return false
}

// FailoverState describes the routing mode of the decision service.
// It is owned and mutated only by the decision service itself; external
// components observe it read-only for metrics and the status snapshot.
type FailoverState string

const (
	// FailoverNormal routes decision requests to the local backend.
	FailoverNormal FailoverState = "normal"
	// FailoverDegraded means the local backend is still preferred but has a
	// non-zero consecutive-failure count. In this state a request with a
	// tight deadline may be routed to the remote backend directly when the
	// eager-remote option is enabled.
	FailoverDegraded FailoverState = "degraded"
	// FailoverCloud routes all decision requests to the remote backend,
	// bypassing the local attempt entirely.
	FailoverCloud FailoverState = "cloud_failover"
)

// Route identifies which backend answered a decision request.
type Route string

const (
	RouteLocal  Route = "local"
	RouteRemote Route = "remote"

	// RouteNone labels outcomes where no backend produced an answer, such as
	// the decision deadline expiring before any attempt completed.
	RouteNone Route = "none"
)
