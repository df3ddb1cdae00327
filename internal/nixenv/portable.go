package nixenv

import (
	"context"
	"fmt"
)

// PortableEnvironment shells out to a `nix-portable` binary, unpacking a
// distributed (e.g. network-shared) store cache into a local path before
// running and, unless the caller asked for a read-only invocation,
// repacking the local cache afterward so other nodes can reuse it. Because
// that is a sequence of commands rather than one spawnable program, its
// RunCommand only offers a shell rendering.
type PortableEnvironment struct {
	CacheLocal       string
	CacheDistributed string
}

func (e *PortableEnvironment) RunCommand(_ context.Context, output FlakeOutput, options RunCommandOptions) (RunCommand, error) {
	run := CommandSpec{
		Program: "nix-portable",
		Args:    []string{"nix", "run", "--show-trace", output.String()},
		EnvAdd: map[string]string{
			"NP_RUNTIME":  "bwrap",
			"NP_LOCATION": e.CacheLocal,
		},
	}

	unpack := CommandSpec{
		Program: "tar",
		Args: []string{
			"--directory", e.CacheLocal,
			"--use-compress-program=zstd",
			"--extract", "--file", e.CacheDistributed,
		},
	}

	cmd := &portableRunCommand{unpack: unpack, run: run}
	if !options.Readonly {
		cmd.distribute = &CommandSpec{
			Program: "tar",
			Args: []string{
				"--directory", e.CacheLocal,
				"--use-compress-program=zstd",
				"--create", "--file", e.CacheDistributed, e.CacheLocal,
			},
		}
	}
	return cmd, nil
}

type portableRunCommand struct {
	unpack     CommandSpec
	run        CommandSpec
	distribute *CommandSpec
}

// Spawnable always returns false: unpack, run and (optionally) the
// repack step cannot be expressed as a single *exec.Cmd.
func (c *portableRunCommand) Spawnable() (CommandSpec, bool) { return CommandSpec{}, false }

func (c *portableRunCommand) ShellCommand() string {
	if c.distribute != nil {
		return fmt.Sprintf("%s && %s && %s", shellCommand(c.unpack), shellCommand(c.run), shellCommand(*c.distribute))
	}
	return fmt.Sprintf("%s && %s", shellCommand(c.unpack), shellCommand(c.run))
}
