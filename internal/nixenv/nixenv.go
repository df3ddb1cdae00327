// Package nixenv is the external environment-detection layer: it decides
// between a native and a portable (sandboxed) evaluator and turns a flake
// output reference into a runnable command object. Per spec.md §1 this is a
// fixed external collaborator, not part of the job-lifecycle engine core —
// the engine only depends on the RunCommand interface this package
// produces.
package nixenv

import (
	"context"
	"fmt"
	"os/exec"
)

// FlakeSource identifies where a flake lives: a local path (the common
// case for a workflow's own flake.nix) or a resolved registry name.
type FlakeSource struct {
	Path string
	Name string
}

func (s FlakeSource) String() string {
	if s.Path != "" {
		return "./" + s.Path
	}
	return s.Name
}

// FlakeOutput is an opaque reference the environment layer resolves to a
// runnable command: a flake source plus the output attribute name (e.g. the
// step name) within it.
type FlakeOutput struct {
	Source FlakeSource
	Name   string
}

func (o FlakeOutput) String() string {
	if o.Name == "" {
		return o.Source.String()
	}
	return fmt.Sprintf("%s#%s", o.Source, o.Name)
}

// RunCommandOptions mirrors the original evaluator's own run-command
// options: whether the Nix store mount is read-only, and whether the
// invoked program's stdout/stderr should be line-buffered. The job
// lifecycle always requests unbuffered execution (spec.md §4.5) so log
// tailing observes output promptly.
type RunCommandOptions struct {
	Readonly bool
	Buffered bool
}

// DefaultRunCommandOptions matches the original evaluator's defaults:
// read-only, buffered. The job graph keeps read-only and switches to
// unbuffered.
func DefaultRunCommandOptions() RunCommandOptions {
	return RunCommandOptions{Readonly: true, Buffered: true}
}

func (o RunCommandOptions) Unbuffered() RunCommandOptions {
	o.Buffered = false
	return o
}

func (o RunCommandOptions) ReadWrite() RunCommandOptions {
	o.Readonly = false
	return o
}

// CommandSpec is a spawnable command description: program, args, working
// directory, and environment overrides expressed as additions and
// removals rather than a flattened slice, so that cloning (the default
// executor adapter) and forwarding (the cluster executor adapter) can both
// preserve the add/remove distinction spec.md §4.3 requires.
type CommandSpec struct {
	Program   string
	Args      []string
	Dir       string
	EnvAdd    map[string]string
	EnvRemove []string
}

// Clone returns a deep copy, so mutating the copy's Args/EnvAdd/EnvRemove
// never affects the original — used by the default executor adapter, which
// must not mutate the RunCommand it was handed.
func (s CommandSpec) Clone() CommandSpec {
	clone := CommandSpec{Program: s.Program, Dir: s.Dir}
	clone.Args = append(clone.Args, s.Args...)
	clone.EnvRemove = append(clone.EnvRemove, s.EnvRemove...)
	if s.EnvAdd != nil {
		clone.EnvAdd = make(map[string]string, len(s.EnvAdd))
		for k, v := range s.EnvAdd {
			clone.EnvAdd[k] = v
		}
	}
	return clone
}

// Build materializes an *exec.Cmd: the ambient environment with EnvRemove
// keys stripped and EnvAdd entries applied on top.
func (s CommandSpec) Build(ctx context.Context, ambientEnv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.Program, s.Args...)
	cmd.Dir = s.Dir
	cmd.Env = applyEnvOverrides(ambientEnv, s.EnvAdd, s.EnvRemove)
	return cmd
}

func applyEnvOverrides(base []string, add map[string]string, remove []string) []string {
	removed := make(map[string]bool, len(remove))
	for _, k := range remove {
		removed[k] = true
	}

	env := make([]string, 0, len(base)+len(add))
	for _, kv := range base {
		key, _, ok := splitEnv(kv)
		if ok && removed[key] {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range add {
		env = append(env, k+"="+v)
	}
	return env
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

// RunCommand is the object an Environment hands back for a given
// FlakeOutput: either a directly spawnable CommandSpec, or — when the
// evaluator has no single spawnable form, e.g. a portable environment that
// must unpack a cache first and repack it afterward — a shell command
// string that performs the equivalent sequence.
type RunCommand interface {
	// Spawnable returns a direct spawnable command and true, or
	// (CommandSpec{}, false) if this run-command can only be expressed as a
	// shell string.
	Spawnable() (CommandSpec, bool)
	// ShellCommand renders the equivalent invocation as a single
	// shell-safe string, for executors that must fall back to a shell.
	ShellCommand() string
}

// Environment turns a FlakeOutput into a RunCommand. The two shipped
// implementations (NativeEnvironment, PortableEnvironment) both just build
// commands; neither does any sandboxing itself.
type Environment interface {
	RunCommand(ctx context.Context, output FlakeOutput, options RunCommandOptions) (RunCommand, error)
}

// SelectOptions controls which Environment implementation Select picks.
type SelectOptions struct {
	// ForceNixPortableUsage short-circuits native detection even when a
	// native `nix` binary is available on PATH. Retained verbatim per
	// spec.md §9's open question: the CLI exposes this flag and the
	// environment layer must honor it.
	ForceNixPortableUsage bool
	CacheLocal            string
	CacheDistributed      string
}

// ErrNixUnavailable is returned by Select when neither a native `nix` nor a
// `nix-portable` binary answers `--version` successfully.
type ErrNixUnavailable struct {
	NativeCheckErr   error
	PortableCheckErr error
}

func (e *ErrNixUnavailable) Error() string {
	return fmt.Sprintf("nix could neither be executed natively (%v) nor via nix-portable (%v)",
		e.NativeCheckErr, e.PortableCheckErr)
}

// Select probes for a usable Nix installation and returns the corresponding
// Environment. It shells out to `nix --version` (or, if forced or that
// fails, `nix-portable nix --version`) purely as an availability probe.
func Select(ctx context.Context, opts SelectOptions) (Environment, error) {
	nativeErr := probeNative(ctx)
	if !opts.ForceNixPortableUsage && nativeErr == nil {
		return &NativeEnvironment{}, nil
	}

	portableErr := probePortable(ctx, opts.CacheLocal)
	if portableErr == nil {
		return &PortableEnvironment{
			CacheLocal:       opts.CacheLocal,
			CacheDistributed: opts.CacheDistributed,
		}, nil
	}

	return nil, &ErrNixUnavailable{NativeCheckErr: nativeErr, PortableCheckErr: portableErr}
}

func probeNative(ctx context.Context) error {
	return exec.CommandContext(ctx, "nix", "--version").Run()
}

func probePortable(ctx context.Context, cacheLocal string) error {
	cmd := exec.CommandContext(ctx, "nix-portable", "nix", "--version")
	cmd.Env = append(cmd.Environ(), "NP_RUNTIME=bwrap", "NP_LOCATION="+cacheLocal)
	return cmd.Run()
}
