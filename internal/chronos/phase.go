package chronos

import (
	"sync/atomic"
	"time"

	"quantcore/internal/types"
)

// phaseCell is the immutable value held by the tracker. A transition swaps
// the whole cell so readers always see a phase and its entry time together.
type phaseCell struct {
	phase types.Phase
	since time.Time
}

// PhaseTracker holds the process-wide current phase. The scheduler is the
// only writer; any goroutine may read without taking a lock.
type PhaseTracker struct {
	cell atomic.Pointer[phaseCell]
}

// NewPhaseTracker creates a tracker starting in the given phase.
func NewPhaseTracker(initial types.Phase, at time.Time) *PhaseTracker {
	t := &PhaseTracker{}
	t.cell.Store(&phaseCell{phase: initial, since: at})
	return t
}

// Current returns the phase in effect right now.
func (t *PhaseTracker) Current() types.Phase {
	return t.cell.Load().phase
}

// Snapshot returns the current phase and when it was entered.
func (t *PhaseTracker) Snapshot() (types.Phase, time.Time) {
	c := t.cell.Load()
	return c.phase, c.since
}

// set is called only with the scheduler's transition lock held.
func (t *PhaseTracker) set(phase types.Phase, at time.Time) {
	t.cell.Store(&phaseCell{phase: phase, since: at})
}
