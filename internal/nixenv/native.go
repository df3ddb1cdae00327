package nixenv

import "context"

// NativeEnvironment shells out to a `nix` binary already on PATH. It is the
// preferred environment whenever one is available (spec.md §9's open
// question on `force_nix_portable_usage` only matters when this is true).
type NativeEnvironment struct{}

func (e *NativeEnvironment) RunCommand(_ context.Context, output FlakeOutput, _ RunCommandOptions) (RunCommand, error) {
	return &nativeRunCommand{
		spec: CommandSpec{
			Program: "nix",
			Args:    []string{"run", "--show-trace", output.String()},
		},
	}, nil
}

type nativeRunCommand struct {
	spec CommandSpec
}

func (c *nativeRunCommand) Spawnable() (CommandSpec, bool) { return c.spec, true }
func (c *nativeRunCommand) ShellCommand() string           { return shellCommand(c.spec) }
