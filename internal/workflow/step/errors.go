package step

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a caller invokes an operation
// against a Job in a state that does not support it (e.g. Finish on a
// Pending job). spec.md §9 calls for "invalid operations rejected at
// runtime with an assertion" in languages without sum types; this codebase
// returns an error instead of panicking, since it is library-shaped code
// other Go programs import and should be able to recover from a caller
// bug rather than taking the whole process down.
var ErrInvalidTransition = errors.New("invalid job state transition")

// JobExecutionError wraps any error taxonomy member with the step name it
// happened to, matching spec.md §7's "all carry step identity where
// applicable".
type JobExecutionError struct {
	StepName string
	Cause    error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("failed to execute %q: %v", e.StepName, e.Cause)
}

func (e *JobExecutionError) Unwrap() error { return e.Cause }

func attachStepName(stepName string, cause error) *JobExecutionError {
	return &JobExecutionError{StepName: stepName, Cause: cause}
}

// Preconditions (spec.md §7)

type InputExistenceCheckError struct {
	Path  string
	Cause error
}

func (e *InputExistenceCheckError) Error() string {
	return fmt.Sprintf("failed to check existence of input %q: %v", e.Path, e.Cause)
}
func (e *InputExistenceCheckError) Unwrap() error { return e.Cause }

type InputExistenceError struct {
	Missing []string
}

func (e *InputExistenceError) Error() string {
	return fmt.Sprintf("missing input(s): %v", e.Missing)
}

type OutputExistenceCheckError struct {
	Path  string
	Cause error
}

func (e *OutputExistenceCheckError) Error() string {
	return fmt.Sprintf("failed to check existence of output %q: %v", e.Path, e.Cause)
}
func (e *OutputExistenceCheckError) Unwrap() error { return e.Cause }

// Setup (spec.md §7)

type LogFileParentDirectoryCreationError struct {
	Path  string
	Cause error
}

func (e *LogFileParentDirectoryCreationError) Error() string {
	return fmt.Sprintf("failed to create parent directory for log %q: %v", e.Path, e.Cause)
}
func (e *LogFileParentDirectoryCreationError) Unwrap() error { return e.Cause }

type LogFileCreationError struct {
	Path  string
	Cause error
}

func (e *LogFileCreationError) Error() string {
	return fmt.Sprintf("failed to create log file %q: %v", e.Path, e.Cause)
}
func (e *LogFileCreationError) Unwrap() error { return e.Cause }

type LogFileDuplicationError struct {
	Path  string
	Cause error
}

func (e *LogFileDuplicationError) Error() string {
	return fmt.Sprintf("failed to duplicate log file handle for %q: %v", e.Path, e.Cause)
}
func (e *LogFileDuplicationError) Unwrap() error { return e.Cause }

type ProgressScanSetupError struct {
	Cause error
}

func (e *ProgressScanSetupError) Error() string {
	return fmt.Sprintf("failed to set up progress scanning: %v", e.Cause)
}
func (e *ProgressScanSetupError) Unwrap() error { return e.Cause }

// Execution (spec.md §7)

type SpawnError struct {
	Command string
	Cause   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Cause)
}
func (e *SpawnError) Unwrap() error { return e.Cause }

type WaitError struct {
	Command string
	Cause   error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("failed to poll %q: %v", e.Command, e.Cause)
}
func (e *WaitError) Unwrap() error { return e.Cause }

type KillError struct {
	Command string
	Cause   error
}

func (e *KillError) Error() string {
	return fmt.Sprintf("failed to kill %q: %v", e.Command, e.Cause)
}
func (e *KillError) Unwrap() error { return e.Cause }

type SignalTerminationError struct {
	Command string
}

func (e *SignalTerminationError) Error() string {
	return fmt.Sprintf("%q terminated by a signal", e.Command)
}

type NonZeroExitCodeError struct {
	Command string
	Code    int
}

func (e *NonZeroExitCodeError) Error() string {
	return fmt.Sprintf("%q exited with non-zero code %d", e.Command, e.Code)
}

// Progress (spec.md §7)

type ProgressLogReadError struct {
	Path  string
	Cause error
}

func (e *ProgressLogReadError) Error() string {
	return fmt.Sprintf("failed to read progress log %q: %v", e.Path, e.Cause)
}
func (e *ProgressLogReadError) Unwrap() error { return e.Cause }

type ProgressScanReadError struct {
	Path  string
	Cause error
}

func (e *ProgressScanReadError) Error() string {
	return fmt.Sprintf("failed to scan progress from %q: %v", e.Path, e.Cause)
}
func (e *ProgressScanReadError) Unwrap() error { return e.Cause }

// Propagation (spec.md §7)

type ParentsFailedError struct {
	Parents []Info
}

func (e *ParentsFailedError) Error() string {
	names := make([]string, len(e.Parents))
	for i, p := range e.Parents {
		names[i] = p.Name
	}
	return fmt.Sprintf("parent step(s) did not succeed: %v", names)
}
