package chronos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quantcore/internal/metrics"
	"quantcore/internal/types"
)

// executionHistory is how many task outcomes the dispatcher retains.
const executionHistory = 64

// Dispatcher runs phase tasks on a bounded worker pool so slow tasks cannot
// stall the scheduler's control loop.
type Dispatcher struct {
	workers int
	logger  *slog.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	recent []types.TaskExecution
}

// NewDispatcher creates a dispatcher with the given pool size.
func NewDispatcher(workers int, logger *slog.Logger, collector *metrics.Collector) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		workers: workers,
		logger:  logger,
		metrics: collector,
	}
}

// RunPhase executes the tasks in order on the worker pool and blocks until
// every task has finished or timed out. It returns the number of failures
// (errors and timeouts). Callers that must not block run it in a goroutine.
func (d *Dispatcher) RunPhase(ctx context.Context, phase types.Phase, tasks []*Task) int {
	if len(tasks) == 0 {
		return 0
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0

	for _, task := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return failures
		}

		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer func() { <-sem }()
			if !d.runTask(ctx, phase, t) {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}(task)
	}

	wg.Wait()
	return failures
}

// runTask executes one task under its timeout and records the outcome. A
// task that overruns is cancelled through its context; the dispatcher stops
// waiting at the deadline even if the task function ignores cancellation.
func (d *Dispatcher) runTask(ctx context.Context, phase types.Phase, task *Task) bool {
	taskCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	d.metrics.TaskDispatched(phase)
	started := time.Now()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- task.Fn(taskCtx)
	}()

	var err error
	timedOut := false
	select {
	case err = <-done:
		// A task that returns its context's deadline error was cancelled at
		// its timeout, same as one the dispatcher stopped waiting for.
		if errors.Is(err, context.DeadlineExceeded) && task.Timeout > 0 && ctx.Err() == nil {
			timedOut = true
		}
	case <-taskCtx.Done():
		timedOut = task.Timeout > 0 && ctx.Err() == nil
		err = types.NewAppError(types.ErrCodeTaskTimeout, "task exceeded its timeout", taskCtx.Err()).
			WithDetails(map[string]any{"task_id": task.ID, "timeout": task.Timeout.String()})
	}

	duration := time.Since(started)
	exec := types.TaskExecution{
		TaskID:   task.ID,
		Phase:    phase,
		Started:  started.UTC(),
		Duration: duration,
		TimedOut: timedOut,
	}
	if err != nil {
		exec.Err = err.Error()
	}
	d.record(exec)

	switch {
	case timedOut:
		d.metrics.TaskTimedOut(phase)
		d.logger.WarnContext(ctx, "task cancelled at timeout",
			"task_id", task.ID,
			"phase", phase,
			"timeout", task.Timeout,
		)
		return false
	case err != nil:
		d.metrics.TaskFailed(phase)
		d.logger.WarnContext(ctx, "task failed",
			"task_id", task.ID,
			"phase", phase,
			"duration", duration,
			"error", err,
		)
		return false
	default:
		d.logger.DebugContext(ctx, "task completed",
			"task_id", task.ID,
			"phase", phase,
			"duration", duration,
		)
		return true
	}
}

func (d *Dispatcher) record(exec types.TaskExecution) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, exec)
	if len(d.recent) > executionHistory {
		d.recent = d.recent[len(d.recent)-executionHistory:]
	}
}

// RecentExecutions returns up to n of the latest task outcomes, oldest first.
func (d *Dispatcher) RecentExecutions(n int) []types.TaskExecution {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.recent) {
		n = len(d.recent)
	}
	out := make([]types.TaskExecution, n)
	copy(out, d.recent[len(d.recent)-n:])
	return out
}
