package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/flowctl/internal/nixenv"
	"github.com/ternarybob/flowctl/internal/workflow/progressui"
	"github.com/ternarybob/flowctl/internal/workflow/specification"
	"github.com/ternarybob/flowctl/internal/workflow/step"
)

// fakeEnvironment treats a step's run binary as a shell command string,
// standing in for the real nixenv.Environment so these tests never shell
// out to an actual nix/nix-portable installation.
type fakeEnvironment struct{}

func (fakeEnvironment) RunCommand(_ context.Context, output nixenv.FlakeOutput, _ nixenv.RunCommandOptions) (nixenv.RunCommand, error) {
	text := output.Source.Path
	if text == "" {
		text = output.Source.Name
	}
	return fakeRunCommand{shellCmd: text}, nil
}

type fakeRunCommand struct {
	shellCmd string
}

func (f fakeRunCommand) Spawnable() (nixenv.CommandSpec, bool) {
	return nixenv.CommandSpec{Program: "/bin/sh", Args: []string{"-c", f.shellCmd}}, true
}
func (f fakeRunCommand) ShellCommand() string { return f.shellCmd }

func buildOpts() BuildOptions {
	return BuildOptions{Environment: fakeEnvironment{}, AmbientEnv: os.Environ()}
}

func outputMap(path string) map[string]specification.OutputList {
	return map[string]specification.OutputList{"main": {{Path: path}}}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// touchStep builds a step whose run command creates its own declared
// output file, so a downstream step's input-existence check observes a
// real file rather than relying on a stub command to have side effects it
// was never told to have.
func touchStep(t *testing.T, name string, inputs map[string]specification.InputList) (specification.Step, string) {
	t.Helper()
	outPath := filepath.Join(t.TempDir(), name+".out")
	s := specification.Step{
		Name:      name,
		Inputs:    inputs,
		Outputs:   outputMap(outPath),
		RunBinary: "touch " + shellQuote(outPath),
		Log:       filepath.Join(t.TempDir(), name+".log"),
	}
	return s, outPath
}

func stepWithRun(t *testing.T, name, run string, inputs map[string]specification.InputList) specification.Step {
	t.Helper()
	return specification.Step{
		Name:      name,
		Inputs:    inputs,
		Outputs:   outputMap(filepath.Join(t.TempDir(), name+".out")),
		RunBinary: run,
		Log:       filepath.Join(t.TempDir(), name+".log"),
	}
}

func runExecutor(t *testing.T, g *Graph, opts ExecutorOptions) error {
	t.Helper()
	exec := NewExecutor(opts, progressui.NewAggregate())

	done := make(chan error, 1)
	go func() { done <- exec.Execute(context.Background(), g) }()

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("executor did not finish within timeout")
		return nil
	}
}

func TestBuild_LinearChain_AllSucceed(t *testing.T) {
	ctx := context.Background()

	stepA, outA := touchStep(t, "a", nil)
	stepB, outB := touchStep(t, "b", map[string]specification.InputList{
		"dep": {{Path: outA, ParentStep: stepA}},
	})
	stepC, outC := touchStep(t, "c", map[string]specification.InputList{
		"dep": {{Path: outB, ParentStep: stepB}},
	})

	doc := specification.Document{
		"root": {{Path: outC, ParentStep: stepC}},
	}

	g, err := Build(ctx, doc, buildOpts())
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	require.NoError(t, runExecutor(t, g, ExecutorOptions{MaxParallelJobs: 2}))

	for i := 0; i < g.Len(); i++ {
		assert.Equal(t, step.Successful, g.Job(i).Kind())
	}
}

func TestBuild_DeduplicatesSharedParentByName(t *testing.T) {
	ctx := context.Background()

	shared, outShared := touchStep(t, "shared", nil)
	left, _ := touchStep(t, "left", map[string]specification.InputList{
		"dep": {{Path: outShared, ParentStep: shared}},
	})
	right, _ := touchStep(t, "right", map[string]specification.InputList{
		"dep": {{Path: outShared, ParentStep: shared}},
	})

	doc := specification.Document{
		"root": {
			{Path: "left.out", ParentStep: left},
			{Path: "right.out", ParentStep: right},
		},
	}

	g, err := Build(ctx, doc, buildOpts())
	require.NoError(t, err)

	// shared + left + right, not shared counted twice.
	assert.Equal(t, 3, g.Len())
}

func TestExecute_SkipsStepWithExistingOutputs(t *testing.T) {
	ctx := context.Background()

	outPath := filepath.Join(t.TempDir(), "a.out")
	require.NoError(t, os.WriteFile(outPath, []byte("done"), 0o644))

	a := specification.Step{
		Name:      "a",
		Outputs:   outputMap(outPath),
		RunBinary: "false", // would fail if spawned
		Log:       filepath.Join(t.TempDir(), "a.log"),
	}

	doc := specification.Document{"root": {{Path: outPath, ParentStep: a}}}
	g, err := Build(ctx, doc, buildOpts())
	require.NoError(t, err)

	require.NoError(t, runExecutor(t, g, ExecutorOptions{MaxParallelJobs: 1}))
	assert.Equal(t, step.Successful, g.Job(0).Kind())
}

func TestExecute_MissingInputPropagatesParentsFailed(t *testing.T) {
	ctx := context.Background()

	missingInput := filepath.Join(t.TempDir(), "nonexistent")
	a := specification.Step{
		Name: "a",
		Inputs: map[string]specification.InputList{
			"data": {{Path: missingInput}},
		},
		Outputs:   outputMap(filepath.Join(t.TempDir(), "a.out")),
		RunBinary: "true",
		Log:       filepath.Join(t.TempDir(), "a.log"),
	}
	b := stepWithRun(t, "b", "true", map[string]specification.InputList{
		"dep": {{Path: "a.out", ParentStep: a}},
	})

	doc := specification.Document{"root": {{Path: "b.out", ParentStep: b}}}
	g, err := Build(ctx, doc, buildOpts())
	require.NoError(t, err)

	err = runExecutor(t, g, ExecutorOptions{MaxParallelJobs: 2, KeepGoing: true})
	require.Error(t, err)

	var foundA, foundB bool
	for i := 0; i < g.Len(); i++ {
		j := g.Job(i)
		switch j.Info().Name {
		case "a":
			foundA = true
			assert.Equal(t, step.Failed, j.Kind())
		case "b":
			foundB = true
			assert.Equal(t, step.Failed, j.Kind())
			var parentsFailed *step.ParentsFailedError
			require.ErrorAs(t, j.Err(), &parentsFailed)
		}
	}
	assert.True(t, foundA && foundB)
}

func TestExecute_NonZeroExitPropagatesWithKeepGoing(t *testing.T) {
	ctx := context.Background()

	failing := stepWithRun(t, "failing", "false", nil)
	sibling := stepWithRun(t, "sibling", "true", nil)

	doc := specification.Document{
		"root": {
			{Path: "failing.out", ParentStep: failing},
			{Path: "sibling.out", ParentStep: sibling},
		},
	}
	g, err := Build(ctx, doc, buildOpts())
	require.NoError(t, err)

	err = runExecutor(t, g, ExecutorOptions{MaxParallelJobs: 2, KeepGoing: true})
	require.Error(t, err)

	for i := 0; i < g.Len(); i++ {
		j := g.Job(i)
		switch j.Info().Name {
		case "failing":
			assert.Equal(t, step.Failed, j.Kind())
			var exitErr *step.NonZeroExitCodeError
			require.ErrorAs(t, j.Err(), &exitErr)
			assert.Equal(t, 1, exitErr.Code)
		case "sibling":
			assert.Equal(t, step.Successful, j.Kind())
		}
	}
}

// concurrencyTrackingSink records the peak number of simultaneously
// Running jobs observed via JobStarted/JobFinished pairs.
type concurrencyTrackingSink struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (s *concurrencyTrackingSink) JobStarted(string, *uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	if s.current > s.peak {
		s.peak = s.current
	}
}
func (s *concurrencyTrackingSink) JobTicked(string, uint) {}
func (s *concurrencyTrackingSink) JobFinished(string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current--
}

func TestExecute_RespectsConcurrencyCap(t *testing.T) {
	ctx := context.Background()

	var targets specification.TargetList
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("job%d", i)
		s := stepWithRun(t, name, "sleep 0.2", nil)
		targets = append(targets, specification.Target{Path: name + ".out", ParentStep: s})
	}
	doc := specification.Document{"root": targets}

	g, err := Build(ctx, doc, buildOpts())
	require.NoError(t, err)

	sink := &concurrencyTrackingSink{}
	exec := NewExecutor(ExecutorOptions{MaxParallelJobs: 3}, sink)

	done := make(chan error, 1)
	go func() { done <- exec.Execute(ctx, g) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("executor did not finish within timeout")
	}

	for i := 0; i < g.Len(); i++ {
		assert.Equal(t, step.Successful, g.Job(i).Kind())
	}
	assert.LessOrEqual(t, sink.peak, 3)
}

func TestExecute_CancelViaContextTerminatesRunningJobs(t *testing.T) {
	s := stepWithRun(t, "sleeper", "sleep 5", nil)
	doc := specification.Document{"root": {{Path: "sleeper.out", ParentStep: s}}}

	g, err := Build(context.Background(), doc, buildOpts())
	require.NoError(t, err)

	exec := NewExecutor(ExecutorOptions{MaxParallelJobs: 1}, progressui.NewAggregate())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- exec.Execute(ctx, g) }()

	// Let the job actually spawn before requesting cancellation.
	require.Eventually(t, func() bool { return g.Job(0).Kind() == step.Running }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish within timeout after cancellation")
	}

	assert.Equal(t, step.Terminated, g.Job(0).Kind())
}

func TestExecutor_CancelIsNoopWhenNothingRunning(t *testing.T) {
	s := stepWithRun(t, "quick", "true", nil)
	doc := specification.Document{"root": {{Path: "quick.out", ParentStep: s}}}

	g, err := Build(context.Background(), doc, buildOpts())
	require.NoError(t, err)

	exec := NewExecutor(ExecutorOptions{MaxParallelJobs: 1}, progressui.NewAggregate())
	exec.Cancel(g) // no Running jobs yet; must not panic or block
	assert.Equal(t, step.Pending, g.Job(0).Kind())
}
