// Package execution wraps a logical run-command (produced by the external
// environment layer, internal/nixenv) into a spawnable OS command, per the
// step's declared executor: local ("Default") or cluster batch ("Slurm").
// This is the "Executor adapters" component of spec.md §2/§4.3.
package execution

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ternarybob/flowctl/internal/nixenv"
	"github.com/ternarybob/flowctl/internal/workflow/specification"
)

// Build converts executor + run-command into a spawnable *exec.Cmd, ready
// for its Stdout/Stderr to be attached and Start to be called.
func Build(ctx context.Context, ex specification.Executor, run nixenv.RunCommand, ambientEnv []string) *exec.Cmd {
	switch ex.Kind {
	case specification.ExecutorCluster:
		return buildCluster(ctx, ex.Cluster, run, ambientEnv)
	default:
		return buildDefault(ctx, run, ambientEnv)
	}
}

// buildDefault clones the run-command's direct spawnable form when one is
// offered; otherwise it falls back to a shell invoking the rendered shell
// string. Cloning goes through CommandSpec.Clone so env additions and
// removals are preserved rather than collapsed.
func buildDefault(ctx context.Context, run nixenv.RunCommand, ambientEnv []string) *exec.Cmd {
	if spec, ok := run.Spawnable(); ok {
		return spec.Clone().Build(ctx, ambientEnv)
	}
	return shellFallback(run).Build(ctx, ambientEnv)
}

// buildCluster wraps the target in a batch-submission launcher (`srun`),
// forwarding its full environment, and prepends the account/QOS/
// constraint/runtime/partitions/cpu/gpu arguments spec.md §4.3 specifies,
// in that order, terminating with the target program and its own args. The
// launcher inherits environment variables explicitly via CommandSpec, not
// by re-rendering a shell string.
func buildCluster(ctx context.Context, opts *specification.ClusterOptions, run nixenv.RunCommand, ambientEnv []string) *exec.Cmd {
	target, ok := run.Spawnable()
	if !ok {
		target = shellFallback(run)
	}

	args := []string{"--account", opts.Account}
	if opts.QualityOfService != "" {
		args = append(args, "--qos", opts.QualityOfService)
	}
	if opts.Constraint != "" {
		args = append(args, "--constraint", opts.Constraint)
	}
	args = append(args, "--time", opts.Runtime.SlurmRuntime())
	if len(opts.Partitions) > 0 {
		args = append(args, "--partition", strings.Join(opts.Partitions, ","))
	}
	args = append(args,
		"--cpus-per-task", strconv.Itoa(int(opts.CPUCount)),
		"--gpus", strconv.Itoa(int(opts.GPUCount)),
		target.Program,
	)
	args = append(args, target.Args...)

	launcher := nixenv.CommandSpec{
		Program:   "srun",
		Args:      args,
		Dir:       target.Dir,
		EnvAdd:    target.EnvAdd,
		EnvRemove: target.EnvRemove,
	}
	return launcher.Build(ctx, ambientEnv)
}

func shellFallback(run nixenv.RunCommand) nixenv.CommandSpec {
	return nixenv.CommandSpec{Program: "bash", Args: []string{"-c", run.ShellCommand()}}
}
