package step

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ternarybob/flowctl/internal/common"
	"github.com/ternarybob/flowctl/internal/workflow/progress"
)

// Kind discriminates the five-variant Job lifecycle of spec.md §3. Go has
// no sum types, so Job is a tagged struct: Kind plus per-kind payload
// fields, with operations invalid for the current Kind rejected via
// ErrInvalidTransition rather than allowed to corrupt state silently.
type Kind int

const (
	Pending Kind = iota
	Running
	Successful
	Failed
	Terminated
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Successful:
		return "successful"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether k is one of the three terminal states a job
// never leaves (spec.md §3 invariant 1).
func (k Kind) IsTerminal() bool {
	return k == Successful || k == Failed || k == Terminated
}

// Job is the runtime materialization of a Step: an identity (Info), the
// already executor-adapted command to run, and whichever lifecycle state
// it currently occupies. Once Kind is Successful, Failed or Terminated it
// never changes again.
type Job struct {
	mu sync.Mutex

	kind Kind
	info Info
	cmd  *exec.Cmd // kept across states for diagnostics, per spec.md §3

	// Running-state fields.
	waitDone chan waitResult
	logFiles []*os.File
	scanner  *progress.Scanner
	indicator Indicator

	// Terminal-state fields.
	err      error
	warnings []string
	reported int // count of warnings already surfaced via PopNewWarnings
}

type waitResult struct {
	err error
}

// New constructs a job in the Pending state. cmd is the already
// executor-adapted command (see internal/workflow/step/execution); it is
// not spawned until Execute is called.
func New(cmd *exec.Cmd, info Info) *Job {
	return &Job{kind: Pending, cmd: cmd, info: info}
}

func (j *Job) Kind() Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.kind
}

func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.info.Clone()
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Warnings returns every warning accumulated on this job so far.
func (j *Job) Warnings() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.warnings))
	copy(out, j.warnings)
	return out
}

// PopNewWarnings returns only the warnings added since the last call,
// implementing the "surfaced once per job" discipline of spec.md §7: a
// caller that calls this after every tick never prints the same warning
// twice.
func (j *Job) PopNewWarnings() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	fresh := j.warnings[j.reported:]
	out := make([]string, len(fresh))
	copy(out, fresh)
	j.reported = len(j.warnings)
	return out
}

func (j *Job) recordWarning(err error) {
	j.warnings = append(j.warnings, err.Error())
}

// Execute runs Pending → {Running | Successful (skip) | Failed}. It
// returns a non-nil error only when called against a Job that is not
// Pending; every domain-level failure (missing input, spawn failure, ...)
// is captured into the Job's own Failed state instead of being returned,
// per spec.md §7's propagation policy.
func (j *Job) Execute() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.kind != Pending {
		return fmt.Errorf("%w: Execute called on %s job %q", ErrInvalidTransition, j.kind, j.info.Name)
	}

	if missing, err := nonExisting(j.info.Inputs); err != nil {
		j.fail(attachStepName(j.info.Name, &InputExistenceCheckError{Path: err.path, Cause: err.cause}))
		return nil
	} else if len(missing) > 0 {
		j.fail(attachStepName(j.info.Name, &InputExistenceError{Missing: missing}))
		return nil
	}

	remaining, err := nonExisting(j.info.Outputs)
	if err != nil {
		j.fail(attachStepName(j.info.Name, &OutputExistenceCheckError{Path: err.path, Cause: err.cause}))
		return nil
	}
	if len(remaining) == 0 {
		// All outputs already exist: the step's work is a pure function of
		// its inputs, so if the filesystem already reflects it there is
		// nothing to re-run.
		j.kind = Successful
		return nil
	}

	logDir := filepath.Dir(j.info.Log)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		j.fail(attachStepName(j.info.Name, &LogFileParentDirectoryCreationError{Path: j.info.Log, Cause: err}))
		return nil
	}

	stdoutFile, err := os.OpenFile(j.info.Log, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		j.fail(attachStepName(j.info.Name, &LogFileCreationError{Path: j.info.Log, Cause: err}))
		return nil
	}
	stderrFile, err := os.OpenFile(j.info.Log, os.O_WRONLY, 0o644)
	if err != nil {
		stdoutFile.Close()
		j.fail(attachStepName(j.info.Name, &LogFileDuplicationError{Path: j.info.Log, Cause: err}))
		return nil
	}

	j.cmd.Stdout = stdoutFile
	j.cmd.Stderr = stderrFile
	j.logFiles = []*os.File{stdoutFile, stderrFile}

	if err := j.cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		j.fail(attachStepName(j.info.Name, &SpawnError{Command: j.cmd.String(), Cause: err}))
		return nil
	}

	j.waitDone = make(chan waitResult, 1)
	cmd := j.cmd
	done := j.waitDone
	name := j.info.Name
	go func() {
		release := common.RegisterActiveStep(name)

		var result waitResult
		func() {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					result = waitResult{err: fmt.Errorf("panic waiting on step %q: %v\n%s", name, r, buf[:n])}
				}
			}()
			result = waitResult{err: cmd.Wait()}
		}()

		// Deregister before handing the result to a caller blocked in Done/
		// Finish, so ActiveSteps never lags a job the caller already
		// observes as terminal.
		release()
		done <- result
	}()

	j.kind = Running
	return nil
}

type existenceError struct {
	path  string
	cause error
}

// nonExisting returns the subset of paths that do not currently exist. The
// first filesystem I/O error (as opposed to "does not exist") aborts the
// scan and is returned directly.
func nonExisting(paths []string) ([]string, *existenceError) {
	var missing []string
	for _, path := range paths {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			continue
		case os.IsNotExist(err):
			missing = append(missing, path)
		default:
			return nil, &existenceError{path: path, cause: err}
		}
	}
	return missing, nil
}

func (j *Job) fail(err error) {
	j.kind = Failed
	j.err = err
}

// WithProgress attaches a progress scanner (if the step declared one) and a
// visual indicator to a Running job. buildIndicator receives the scanner's
// configured maximum (nil for an indeterminate spinner) and constructs the
// concrete UI object (internal/workflow/progressui implements these).
//
// Scanner setup failure follows the warn/fatal discipline every other
// progress operation does: if tolerateFailure, the failure is recorded as a
// warning and the job proceeds with a spinner; otherwise it is returned as
// a fatal error.
func (j *Job) WithProgress(buildIndicator func(info Info, max *uint) Indicator, tolerateFailure bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.kind != Running {
		return fmt.Errorf("%w: WithProgress called on %s job %q", ErrInvalidTransition, j.kind, j.info.Name)
	}

	var max *uint
	if j.info.Progress != nil {
		scanner, err := progress.NewScanner(j.info.Progress)
		if err != nil {
			wrapped := attachStepName(j.info.Name, &ProgressScanSetupError{Cause: err})
			if !tolerateFailure {
				return wrapped
			}
			j.recordWarning(wrapped)
		} else {
			j.scanner = scanner
			m := scanner.IndicatorMax()
			max = &m
		}
	}

	j.indicator = buildIndicator(j.info.Clone(), max)
	return nil
}

// Done performs a non-blocking poll of the child process, reporting
// whether it has exited. Go's os/exec has no direct try_wait equivalent;
// this is implemented with a buffered channel fed by a background
// goroutine's blocking Wait, which is the idiomatic non-blocking-poll
// pattern for child processes in Go.
func (j *Job) Done(tolerateFailure bool) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.kind != Running {
		return false, fmt.Errorf("%w: Done called on %s job %q", ErrInvalidTransition, j.kind, j.info.Name)
	}

	select {
	case result := <-j.waitDone:
		// Put the result back so Finish can consume it without racing a
		// second receive.
		j.waitDone <- result
		return true, nil
	default:
		return false, nil
	}
}

// TickProgress updates the job's visual indicator: reading and scanning the
// full log file if a progress pattern was declared, or nudging the spinner
// otherwise. Failures are demoted to warnings when tolerateFailure is set;
// otherwise they are returned as fatal errors.
func (j *Job) TickProgress(tolerateFailure bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.kind != Running {
		return fmt.Errorf("%w: TickProgress called on %s job %q", ErrInvalidTransition, j.kind, j.info.Name)
	}

	if j.indicator == nil {
		j.indicator = NoopIndicator{}
	}

	if j.scanner == nil {
		j.indicator.Tick()
		return nil
	}

	contents, err := os.ReadFile(j.info.Log)
	if err != nil {
		wrapped := attachStepName(j.info.Name, &ProgressLogReadError{Path: j.info.Log, Cause: err})
		if tolerateFailure {
			j.recordWarning(wrapped)
			return nil
		}
		return wrapped
	}

	position, err := j.scanner.Read(string(contents))
	if err != nil {
		wrapped := attachStepName(j.info.Name, &ProgressScanReadError{Path: j.info.Log, Cause: err})
		if tolerateFailure {
			j.recordWarning(wrapped)
			return nil
		}
		return wrapped
	}

	j.indicator.SetPosition(position)
	return nil
}

// Finish performs a blocking wait on the child — bounded, since the
// executor only calls it after Done has returned true — and transitions to
// Successful or Failed depending on the exit status. The progress
// indicator is always finalized, and any warnings accumulated while
// Running are retained on a Failed outcome.
func (j *Job) Finish() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.kind != Running {
		return fmt.Errorf("%w: Finish called on %s job %q", ErrInvalidTransition, j.kind, j.info.Name)
	}

	result := <-j.waitDone
	j.closeLogFiles()
	if j.indicator != nil {
		j.indicator.Finish()
	}

	switch exitErr := result.err.(type) {
	case nil:
		j.kind = Successful
	case *exec.ExitError:
		if exitErr.ExitCode() == -1 {
			j.fail(attachStepName(j.info.Name, &SignalTerminationError{Command: j.cmd.String()}))
		} else {
			j.fail(attachStepName(j.info.Name, &NonZeroExitCodeError{Command: j.cmd.String(), Code: exitErr.ExitCode()}))
		}
	default:
		j.fail(attachStepName(j.info.Name, &WaitError{Command: j.cmd.String(), Cause: result.err}))
	}

	return nil
}

// Terminate kills the child process for cancellation and transitions to
// Terminated unconditionally (best-effort termination per spec.md §5): a
// kill failure is returned to the caller, but the job still leaves
// Running so the executor's accounting stays consistent.
func (j *Job) Terminate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.kind != Running {
		return fmt.Errorf("%w: Terminate called on %s job %q", ErrInvalidTransition, j.kind, j.info.Name)
	}

	var killErr error
	if j.cmd.Process != nil {
		if err := j.cmd.Process.Kill(); err != nil {
			killErr = attachStepName(j.info.Name, &KillError{Command: j.cmd.String(), Cause: err})
		}
	}

	<-j.waitDone
	j.closeLogFiles()
	if j.indicator != nil {
		j.indicator.Finish()
	}
	j.kind = Terminated

	return killErr
}

func (j *Job) closeLogFiles() {
	for _, f := range j.logFiles {
		f.Close()
	}
}

// FailParentsFailed transitions a Pending job directly to Failed because
// one or more of its parents did not succeed, implementing spec.md §4.6's
// "any parent Failed or Terminated → ParentsFailed" rule. It is the graph
// executor's responsibility to only call this when that condition holds.
func (j *Job) FailParentsFailed(parents []Info) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.kind != Pending {
		return fmt.Errorf("%w: FailParentsFailed called on %s job %q", ErrInvalidTransition, j.kind, j.info.Name)
	}

	j.fail(attachStepName(j.info.Name, &ParentsFailedError{Parents: parents}))
	return nil
}
