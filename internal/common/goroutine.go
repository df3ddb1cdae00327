// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// activeSteps tracks which job steps currently have a background
// goroutine in flight — namely job.go's non-blocking child-process wait —
// so a crash report can name exactly which steps were mid-flight instead
// of just reporting a goroutine count.
var (
	activeStepsMu sync.Mutex
	activeSteps   = map[string]int{}
)

// RegisterActiveStep marks name (a step's identity) as having a
// background goroutine in flight. The returned func releases the
// registration and must be called exactly once, when that goroutine
// exits; it is safe to call from a deferred recover block.
func RegisterActiveStep(name string) func() {
	activeStepsMu.Lock()
	activeSteps[name]++
	activeStepsMu.Unlock()

	var released int32
	return func() {
		if !atomic.CompareAndSwapInt32(&released, 0, 1) {
			return
		}
		activeStepsMu.Lock()
		defer activeStepsMu.Unlock()
		activeSteps[name]--
		if activeSteps[name] <= 0 {
			delete(activeSteps, name)
		}
	}
}

// ActiveSteps returns the name of every step with an in-flight background
// goroutine, sorted for deterministic crash-report output.
func ActiveSteps() []string {
	activeStepsMu.Lock()
	defer activeStepsMu.Unlock()

	names := make([]string, 0, len(activeSteps))
	for name := range activeSteps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// recentPanics retains the last few non-fatal goroutine panics SafeGo/
// SafeGoWithContext recovered, so a later crash report can show what a
// step's background work was doing right before things went wrong, even
// though a recovered goroutine panic alone isn't fatal enough to write its
// own crash file.
const maxRecentPanics = 20

var (
	recentPanicsMu sync.Mutex
	recentPanics   []string
)

// RecentGoroutinePanics returns every non-fatal goroutine panic recovered
// since the process started, oldest first, capped at maxRecentPanics.
func RecentGoroutinePanics() []string {
	recentPanicsMu.Lock()
	defer recentPanicsMu.Unlock()

	out := make([]string, len(recentPanics))
	copy(out, recentPanics)
	return out
}

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the service.
// Use this for async operations like event publishing where failure should not be fatal.
//
// Example:
//
//	common.SafeGo(logger, "publishEvent", func() {
//	    eventService.Publish(ctx, event)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				// Get stack trace
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				stackTrace := string(buf[:n])

				// Log the panic
				if logger != nil {
					logger.Error().
						Str("goroutine", name).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", stackTrace).
						Msg("Recovered from panic in goroutine - continuing service operation")
				} else {
					// Fallback to stderr if no logger
					fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
				}

				// Optionally write to crash log file for post-mortem analysis
				// But don't exit - this is a non-fatal goroutine crash
				writeCrashLog(name, r, stackTrace)
			}
		}()

		fn()
	}()
}

// SafeGoWithContext runs a function in a goroutine with panic recovery and context support.
// The goroutine will exit if the context is cancelled.
//
// Example:
//
//	common.SafeGoWithContext(ctx, logger, "backgroundTask", func() {
//	    // long-running task
//	})
func SafeGoWithContext(ctx context.Context, logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				// Get stack trace
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				stackTrace := string(buf[:n])

				// Log the panic
				if logger != nil {
					logger.Error().
						Str("goroutine", name).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", stackTrace).
						Msg("Recovered from panic in goroutine - continuing service operation")
				}

				// Write to crash log for analysis
				writeCrashLog(name, r, stackTrace)
			}
		}()

		// Check context before running
		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Debug().Str("goroutine", name).Msg("Goroutine cancelled before start")
			}
			return
		default:
		}

		fn()
	}()
}

// writeCrashLog records a non-fatal goroutine panic into the in-memory
// recentPanics ring so WriteCrashFile can surface it later; this does not
// itself create a crash file, since a recovered goroutine panic isn't
// fatal to the process.
func writeCrashLog(goroutineName string, panicVal interface{}, _ string) {
	entry := fmt.Sprintf("%s: %v", goroutineName, panicVal)

	recentPanicsMu.Lock()
	defer recentPanicsMu.Unlock()
	recentPanics = append(recentPanics, entry)
	if len(recentPanics) > maxRecentPanics {
		recentPanics = recentPanics[len(recentPanics)-maxRecentPanics:]
	}
}
