// Package graph builds the job DAG from a parsed specification and drives
// it to completion. This file is the "Job graph" component of spec.md §2:
// construction and read-only navigation. The scheduling loop itself lives
// in executor.go.
package graph

import (
	"context"
	"fmt"

	"github.com/ternarybob/flowctl/internal/nixenv"
	"github.com/ternarybob/flowctl/internal/workflow/specification"
	"github.com/ternarybob/flowctl/internal/workflow/step"
	"github.com/ternarybob/flowctl/internal/workflow/step/execution"
)

// Graph is a DAG of Jobs addressed by stable index. It exclusively owns
// every Job for its lifetime; the executor borrows one at a time for a
// transition.
type Graph struct {
	jobs    []*step.Job
	parents [][]int // parents[i] = indices of jobs i depends on
}

// BuildOptions supplies everything construction needs beyond the
// specification itself: the environment layer's run-command factory, and
// the ambient process environment executor adapters build commands
// against.
type BuildOptions struct {
	Environment nixenv.Environment
	AmbientEnv  []string
}

// Build walks every target's parent-step recursively, creating one Job per
// distinct step name (spec.md §4.5, §9's "graph construction with shared
// parents") and an edge from each parent to its child. Steps are visited
// depth-first so a step's parents always receive a lower index than the
// step itself, which lets the executor iterate in plain index order and
// still respect "parent before child".
func Build(ctx context.Context, doc specification.Document, opts BuildOptions) (*Graph, error) {
	g := &Graph{}
	seen := make(map[string]int)

	for groupName, targets := range doc {
		for i, target := range targets {
			if _, err := g.addStep(ctx, &target.ParentStep, seen, opts); err != nil {
				return nil, fmt.Errorf("target %s[%d] (%s): %w", groupName, i, target.Path, err)
			}
		}
	}

	return g, nil
}

// addStep returns the index of the Job for s, creating it (and recursing
// into its parent steps first) if this is the first time s's name has been
// seen. A step referenced from multiple downstream slots is thus scheduled
// exactly once.
func (g *Graph) addStep(ctx context.Context, s *specification.Step, seen map[string]int, opts BuildOptions) (int, error) {
	if idx, ok := seen[s.Name]; ok {
		return idx, nil
	}

	var parentIdxs []int
	for _, slot := range s.Inputs {
		for _, in := range slot {
			parentIdx, err := g.addStep(ctx, &in.ParentStep, seen, opts)
			if err != nil {
				return 0, err
			}
			parentIdxs = append(parentIdxs, parentIdx)
		}
	}

	run, err := opts.Environment.RunCommand(ctx, nixenv.ParseFlakeOutput(s.RunBinary), nixenv.DefaultRunCommandOptions().Unbuffered())
	if err != nil {
		return 0, fmt.Errorf("step %q: resolving run-command: %w", s.Name, err)
	}

	cmd := execution.Build(ctx, s.Executor, run, opts.AmbientEnv)
	job := step.New(cmd, step.NewInfo(s))

	idx := len(g.jobs)
	g.jobs = append(g.jobs, job)
	g.parents = append(g.parents, parentIdxs)
	seen[s.Name] = idx

	return idx, nil
}

// Len returns the number of jobs in the graph.
func (g *Graph) Len() int { return len(g.jobs) }

// Job returns the job at index i. Panics on an out-of-range index, since
// valid indices are always 0..Len()-1 by construction.
func (g *Graph) Job(i int) *step.Job { return g.jobs[i] }

// Parents returns the jobs index i depends on. The returned slice must not
// be mutated by the caller.
func (g *Graph) Parents(i int) []*step.Job {
	out := make([]*step.Job, len(g.parents[i]))
	for j, p := range g.parents[i] {
		out[j] = g.jobs[p]
	}
	return out
}

// AllTerminal reports whether every job in the graph has reached a
// terminal state.
func (g *Graph) AllTerminal() bool {
	for _, j := range g.jobs {
		if !j.Kind().IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether at least one job ended Failed.
func (g *Graph) AnyFailed() bool {
	for _, j := range g.jobs {
		if j.Kind() == step.Failed {
			return true
		}
	}
	return false
}
