// Package progressui is the progress UI bridge: it aggregates per-job and
// overall progress into observer events a front-end can render, without the
// job state machine (internal/workflow/step) needing to know anything about
// consoles or websockets. spec.md §2 names this component but specifies no
// operations for it; this is this expansion's concrete definition, grounded
// on the teacher's internal/handlers/sse_logs_handler.go and
// internal/handlers/websocket_writer.go broadcast patterns.
package progressui

import "github.com/ternarybob/flowctl/internal/workflow/step"

// Sink receives the three lifecycle events a running job produces.
type Sink interface {
	JobStarted(name string, max *uint)
	JobTicked(name string, position uint)
	JobFinished(name string, ok bool)
}

// Aggregate fans every event out to N sinks, so e.g. a console sink and a
// websocket sink can observe the same ticks without the executor knowing
// how many front ends are attached.
type Aggregate struct {
	sinks []Sink
}

func NewAggregate(sinks ...Sink) *Aggregate {
	return &Aggregate{sinks: sinks}
}

func (a *Aggregate) JobStarted(name string, max *uint) {
	for _, s := range a.sinks {
		s.JobStarted(name, max)
	}
}

func (a *Aggregate) JobTicked(name string, position uint) {
	for _, s := range a.sinks {
		s.JobTicked(name, position)
	}
}

func (a *Aggregate) JobFinished(name string, ok bool) {
	for _, s := range a.sinks {
		s.JobFinished(name, ok)
	}
}

// indicatorAdapter makes a Sink usable as a step.Indicator for a single
// job: SetPosition/Tick forward ticks, Finish is a no-op because success/
// failure isn't known until the job actually transitions out of Running —
// the graph executor calls Sink.JobFinished directly once it does.
type indicatorAdapter struct {
	sink Sink
	name string
	tick uint
}

// NewIndicator builds the step.Indicator for a job, emitting JobStarted
// immediately.
func NewIndicator(sink Sink, name string, max *uint) step.Indicator {
	sink.JobStarted(name, max)
	return &indicatorAdapter{sink: sink, name: name}
}

func (i *indicatorAdapter) SetPosition(position uint) {
	i.sink.JobTicked(i.name, position)
}

func (i *indicatorAdapter) Tick() {
	i.tick++
	i.sink.JobTicked(i.name, i.tick)
}

func (i *indicatorAdapter) Finish() {}
