package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowctl/internal/common"
	"github.com/ternarybob/flowctl/internal/workflow/progressui"
	"github.com/ternarybob/flowctl/internal/workflow/step"
)

// pollInterval is the sleep after every full pass over the graph that
// leaves jobs unfinished, per spec.md §5's "≈10 ms" driver cadence.
const pollInterval = 10 * time.Millisecond

// ExecutorOptions mirrors spec.md §4.6's Options exactly.
type ExecutorOptions struct {
	MaxParallelJobs                 int
	KeepGoing                       bool
	TolerateTransientUpdateFailures bool
}

// Executor drives every job in a Graph to a terminal state under a
// concurrency budget, per the transition table in spec.md §4.6.
type Executor struct {
	opts   ExecutorOptions
	sink   progressui.Sink
	logger arbor.ILogger

	mu      sync.Mutex
	running int
}

// NewExecutor builds an Executor. sink receives per-job progress events; a
// nil sink is replaced with a no-op aggregate of zero sinks.
func NewExecutor(opts ExecutorOptions, sink progressui.Sink) *Executor {
	if sink == nil {
		sink = progressui.NewAggregate()
	}
	return &Executor{opts: opts, sink: sink}
}

// SetLogger attaches a logger for step-scoped diagnostics (currently:
// cancellation notices from Cancel). Optional — an Executor with no logger
// set simply stays silent about them.
func (e *Executor) SetLogger(logger arbor.ILogger) {
	e.logger = logger
}

// Execute runs the graph to completion: every job reaches a terminal
// state, or the executor returns early because KeepGoing is false and a
// job failed. The returned error is non-nil whenever any job ended
// Failed, matching spec.md §6's exit-code contract.
//
// ctx governs external cancellation per spec.md §5: once ctx is done,
// Execute stops admitting new Pending jobs and terminates every Running
// job via Cancel, finishes that pass (so children of terminated jobs fail
// with ParentsFailed), and returns ctx.Err(). Jobs that were never
// admitted are left Pending.
func (e *Executor) Execute(ctx context.Context, g *Graph) error {
	cancelled := false

	for {
		if !cancelled {
			select {
			case <-ctx.Done():
				cancelled = true
				e.Cancel(g)
			default:
			}
		}

		stopEarly := false

		for i := 0; i < g.Len(); i++ {
			j := g.Job(i)
			if err := e.advance(ctx, g, i, j); err != nil {
				return err
			}
			if !e.opts.KeepGoing && j.Kind() == step.Failed {
				stopEarly = true
			}
		}

		if g.AllTerminal() {
			break
		}
		if cancelled {
			// Cancel left no job Running and no Pending job is admitted any
			// more, so further passes cannot change anything.
			break
		}
		if stopEarly {
			break
		}

		time.Sleep(pollInterval)
	}

	if cancelled {
		return ctx.Err()
	}
	if g.AnyFailed() {
		return fmt.Errorf("one or more jobs failed")
	}
	return nil
}

// Cancel terminates every Running job in g, implementing spec.md §5's
// external-cancellation contract ("the executor supports external
// cancellation by terminating each Running job... leaving them in
// Terminated"). It is safe to call concurrently with Execute — job
// termination is serialized per job by Job's own mutex — and is what
// Execute calls internally once its ctx is done; callers driving their
// own cancellation signal (e.g. a second SIGINT) may also call it
// directly.
func (e *Executor) Cancel(g *Graph) {
	for i := 0; i < g.Len(); i++ {
		j := g.Job(i)
		if j.Kind() != step.Running {
			continue
		}
		name := j.Info().Name
		err := j.Terminate()
		if e.logger == nil {
			continue
		}
		if err != nil {
			common.LogStepError(e.logger, name, err, "step termination requested but kill failed")
		} else {
			common.LogStepWarning(e.logger, name, "step terminated due to cancellation")
		}
	}
}

// advance applies exactly one transition rule to j, per the table in
// spec.md §4.6.
func (e *Executor) advance(ctx context.Context, g *Graph, idx int, j *step.Job) error {
	switch j.Kind() {
	case step.Pending:
		return e.advancePending(ctx, g, idx, j)
	case step.Running:
		return e.advanceRunning(j)
	default:
		return nil
	}
}

func (e *Executor) advancePending(ctx context.Context, g *Graph, idx int, j *step.Job) error {
	parents := g.Parents(idx)

	var failedParents []step.Info
	allSuccessful := true
	for _, p := range parents {
		switch p.Kind() {
		case step.Failed, step.Terminated:
			failedParents = append(failedParents, p.Info())
			allSuccessful = false
		case step.Successful:
		default:
			allSuccessful = false
		}
	}

	if len(failedParents) > 0 {
		return j.FailParentsFailed(failedParents)
	}
	if !allSuccessful {
		return nil
	}

	if ctx.Err() != nil {
		// Cancellation requested: never admit a new job once we've started
		// terminating Running ones, or Cancel's sweep could miss it.
		return nil
	}

	if !e.admit() {
		return nil
	}

	if err := j.Execute(); err != nil {
		e.release()
		return err
	}
	if j.Kind() != step.Running {
		// Skipped straight to Successful, or failed a precondition check:
		// no child process was spawned, so the concurrency slot is unused.
		e.release()
		return nil
	}

	info := j.Info()
	name := info.Name
	err := j.WithProgress(func(info step.Info, max *uint) step.Indicator {
		return progressui.NewIndicator(e.sink, name, max)
	}, e.opts.TolerateTransientUpdateFailures)
	if err != nil {
		return err
	}

	return nil
}

func (e *Executor) advanceRunning(j *step.Job) error {
	done, err := j.Done(e.opts.TolerateTransientUpdateFailures)
	if err != nil {
		return err
	}

	if !done {
		return j.TickProgress(e.opts.TolerateTransientUpdateFailures)
	}

	name := j.Info().Name
	if err := j.Finish(); err != nil {
		e.release()
		return err
	}
	e.release()
	e.sink.JobFinished(name, j.Kind() == step.Successful)
	return nil
}

// admit attempts to reserve a concurrency slot, returning false if the
// budget is exhausted. Reservation and the running count update are
// performed under the same lock, satisfying spec.md §4.6's "admission and
// count-update must be atomic relative to other admission attempts" (the
// driver is single-threaded, but this keeps the invariant explicit and
// correct if callers ever parallelize admission).
func (e *Executor) admit() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running >= e.opts.MaxParallelJobs {
		return false
	}
	e.running++
	return true
}

func (e *Executor) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running--
}
