package chronos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantcore/internal/types"
)

// TaskFunc is the work a registered task performs. It must honor ctx; a task
// that overruns its timeout is cancelled through it.
type TaskFunc func(ctx context.Context) error

// Task is a registered unit of work bound to one phase.
type Task struct {
	ID        string
	Phase     types.Phase
	Priority  int
	Recurring bool
	Timeout   time.Duration
	Fn        TaskFunc

	// order is the registration sequence number, used to break priority ties.
	order uint64
}

// Registry holds registered tasks. Registration and deregistration may
// happen from any goroutine at any phase.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	next  uint64
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register adds a task and returns its id. A zero timeout means the task
// runs unbounded (still cancelled when the scheduler shuts down).
func (r *Registry) Register(fn TaskFunc, phase types.Phase, priority int, recurring bool, timeout time.Duration) (string, error) {
	if fn == nil {
		return "", types.NewAppError(types.ErrCodeInvalidRequest, "task function is required", nil)
	}
	if !phase.Valid() {
		return "", types.NewAppError(types.ErrCodePhaseInvalid, "unknown target phase", nil).
			WithDetails(map[string]any{"phase": string(phase)})
	}

	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.tasks[id] = &Task{
		ID:        id,
		Phase:     phase,
		Priority:  priority,
		Recurring: recurring,
		Timeout:   timeout,
		Fn:        fn,
		order:     r.next,
	}
	return id, nil
}

// Deregister removes a task. It reports whether the id was known.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	delete(r.tasks, id)
	return ok
}

// Len reports how many tasks are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// due returns the tasks targeting phase, ordered by descending priority with
// registration order breaking ties. Non-recurring tasks are removed from the
// registry as they are handed out; they run once.
func (r *Registry) due(phase types.Phase) []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Task
	for _, t := range r.tasks {
		if t.Phase == phase {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].order < out[j].order
	})
	for _, t := range out {
		if !t.Recurring {
			delete(r.tasks, t.ID)
		}
	}
	return out
}
