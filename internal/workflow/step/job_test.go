package step

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/flowctl/internal/common"
	"github.com/ternarybob/flowctl/internal/workflow/specification"
)

func newTestInfo(t *testing.T, name string, inputs, outputs []string) Info {
	t.Helper()
	return Info{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
		Log:     filepath.Join(t.TempDir(), "job.log"),
	}
}

func waitForDone(t *testing.T, j *Job, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		done, err := j.Done(false)
		require.NoError(t, err)
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish within timeout")
}

func TestJob_Execute_MissingInputFails(t *testing.T) {
	info := newTestInfo(t, "a", []string{filepath.Join(t.TempDir(), "nonexistent")}, nil)
	info.Outputs = []string{filepath.Join(t.TempDir(), "out")}

	j := New(exec.Command("/bin/true"), info)
	require.NoError(t, j.Execute())

	assert.Equal(t, Failed, j.Kind())
	var missing *InputExistenceError
	require.ErrorAs(t, j.Err(), &missing)
}

func TestJob_Execute_SkipsWhenAllOutputsExist(t *testing.T) {
	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "out.bin")
	require.NoError(t, os.WriteFile(outPath, []byte("already built"), 0o644))

	info := newTestInfo(t, "a", nil, []string{outPath})

	j := New(exec.Command("/bin/false"), info) // would fail if spawned
	require.NoError(t, j.Execute())

	assert.Equal(t, Successful, j.Kind())
}

func TestJob_Execute_SpawnsAndFinishesSuccessfully(t *testing.T) {
	info := newTestInfo(t, "a", nil, []string{filepath.Join(t.TempDir(), "never-created")})

	j := New(exec.Command("/bin/true"), info)
	require.NoError(t, j.Execute())
	require.Equal(t, Running, j.Kind())

	waitForDone(t, j, 2*time.Second)
	require.NoError(t, j.Finish())
	assert.Equal(t, Successful, j.Kind())

	_, err := os.Stat(info.Log)
	assert.NoError(t, err, "log file should have been created")
}

func TestJob_Execute_NonZeroExitCodeFails(t *testing.T) {
	info := newTestInfo(t, "a", nil, []string{filepath.Join(t.TempDir(), "never-created")})

	j := New(exec.Command("/bin/false"), info)
	require.NoError(t, j.Execute())
	require.Equal(t, Running, j.Kind())

	waitForDone(t, j, 2*time.Second)
	require.NoError(t, j.Finish())
	assert.Equal(t, Failed, j.Kind())

	var exitErr *NonZeroExitCodeError
	require.ErrorAs(t, j.Err(), &exitErr)
	assert.Equal(t, 1, exitErr.Code)
}

func TestJob_Terminate_KillsRunningChild(t *testing.T) {
	info := newTestInfo(t, "a", nil, []string{filepath.Join(t.TempDir(), "never-created")})

	j := New(exec.CommandContext(context.Background(), "/bin/sleep", "30"), info)
	require.NoError(t, j.Execute())
	require.Equal(t, Running, j.Kind())

	require.NoError(t, j.Terminate())
	assert.Equal(t, Terminated, j.Kind())
}

func TestJob_Execute_RegistersAndReleasesActiveStep(t *testing.T) {
	info := newTestInfo(t, "register-me", nil, []string{filepath.Join(t.TempDir(), "never-created")})

	j := New(exec.Command("/bin/sleep", "0.1"), info)
	require.NoError(t, j.Execute())
	require.Equal(t, Running, j.Kind())

	assert.Contains(t, common.ActiveSteps(), "register-me")

	waitForDone(t, j, 2*time.Second)
	require.NoError(t, j.Finish())

	assert.NotContains(t, common.ActiveSteps(), "register-me")
}

func TestJob_InvalidTransitions_ReturnErrInvalidTransition(t *testing.T) {
	info := newTestInfo(t, "a", nil, []string{filepath.Join(t.TempDir(), "never-created")})
	j := New(exec.Command("/bin/true"), info)

	err := j.Finish()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = j.Terminate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = j.TickProgress(false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestJob_FailParentsFailed(t *testing.T) {
	info := newTestInfo(t, "child", nil, []string{filepath.Join(t.TempDir(), "out")})
	j := New(exec.Command("/bin/true"), info)

	parent := Info{Name: "parent"}
	require.NoError(t, j.FailParentsFailed([]Info{parent}))

	assert.Equal(t, Failed, j.Kind())
	var parentsFailed *ParentsFailedError
	require.ErrorAs(t, j.Err(), &parentsFailed)
	require.Len(t, parentsFailed.Parents, 1)
	assert.Equal(t, "parent", parentsFailed.Parents[0].Name)
}

type recordingIndicator struct {
	positions []uint
	finished  bool
}

func (r *recordingIndicator) SetPosition(position uint) { r.positions = append(r.positions, position) }
func (r *recordingIndicator) Tick()                      {}
func (r *recordingIndicator) Finish()                    { r.finished = true }

func TestJob_TickProgress_ReportsMaxFromLog(t *testing.T) {
	info := newTestInfo(t, "a", nil, []string{filepath.Join(t.TempDir(), "never-created")})
	info.Progress = &specification.ProgressSpec{IndicatorMax: 100, IndicatorRegex: `processed (\d+) items`}

	j := New(exec.Command("/bin/sh", "-c", "echo 'processed 10 items'; echo 'processed 40 items'; echo 'processed 25 items'"), info)
	require.NoError(t, j.Execute())
	require.Equal(t, Running, j.Kind())

	rec := &recordingIndicator{}
	require.NoError(t, j.WithProgress(func(Info, *uint) Indicator { return rec }, false))

	waitForDone(t, j, 2*time.Second)
	require.NoError(t, j.TickProgress(false))
	require.NoError(t, j.Finish())

	assert.Equal(t, Successful, j.Kind())
	require.NotEmpty(t, rec.positions)
	assert.EqualValues(t, 40, rec.positions[len(rec.positions)-1])
	assert.True(t, rec.finished)
}

func TestJob_WithProgress_InvalidCaptureGroupWarnsWhenTolerated(t *testing.T) {
	info := newTestInfo(t, "a", nil, []string{filepath.Join(t.TempDir(), "never-created")})
	info.Progress = &specification.ProgressSpec{IndicatorRegex: `no capture group here`}

	j := New(exec.Command("/bin/true"), info)
	require.NoError(t, j.Execute())

	err := j.WithProgress(func(Info, *uint) Indicator { return NoopIndicator{} }, true)
	require.NoError(t, err)
	assert.NotEmpty(t, j.Warnings())

	waitForDone(t, j, 2*time.Second)
	require.NoError(t, j.Finish())
}

func TestJob_WithProgress_InvalidCaptureGroupFatalWhenNotTolerated(t *testing.T) {
	info := newTestInfo(t, "a", nil, []string{filepath.Join(t.TempDir(), "never-created")})
	info.Progress = &specification.ProgressSpec{IndicatorRegex: `no capture group here`}

	j := New(exec.Command("/bin/true"), info)
	require.NoError(t, j.Execute())

	err := j.WithProgress(func(Info, *uint) Indicator { return NoopIndicator{} }, false)
	require.Error(t, err)

	require.NoError(t, j.Terminate())
}

func TestInfo_Clone_IsIndependent(t *testing.T) {
	original := Info{Name: "a", Inputs: []string{"in"}, Outputs: []string{"out"}}
	clone := original.Clone()
	clone.Inputs[0] = "mutated"

	assert.Equal(t, "in", original.Inputs[0])
	assert.Equal(t, "mutated", clone.Inputs[0])
}
