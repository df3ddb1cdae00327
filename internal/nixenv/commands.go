package nixenv

import (
	"fmt"
	"strings"
)

// shellCommand renders spec as a single shell-safe invocation, prefixing an
// `env` call so environment overrides (including removals, via `-u`)
// survive being flattened to a string — used by run-commands that have no
// single spawnable form (the portable environment's cache unpack/repack
// sequence).
func shellCommand(spec CommandSpec) string {
	quote := func(s string) string {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}

	var settings []string
	for name, value := range spec.EnvAdd {
		settings = append(settings, quote(name+"="+value))
	}
	for _, name := range spec.EnvRemove {
		settings = append(settings, "-u "+quote(name))
	}

	parts := make([]string, 0, len(spec.Args)+1)
	parts = append(parts, quote(spec.Program))
	for _, arg := range spec.Args {
		parts = append(parts, quote(arg))
	}

	return fmt.Sprintf("env %s %s", strings.Join(settings, " "), strings.Join(parts, " "))
}
