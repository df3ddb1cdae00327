package nixenv

import "strings"

// ParseFlakeOutput parses a step's declared run-binary string into a
// FlakeOutput reference. The wire format mirrors flake-ref syntax:
// "<source>#<name>", or bare "<source>" when the source itself is directly
// runnable. A source starting with "./" or "/" is treated as a path;
// anything else is a registry name.
func ParseFlakeOutput(runBinary string) FlakeOutput {
	source, name, _ := strings.Cut(runBinary, "#")
	return FlakeOutput{Source: parseFlakeSource(source), Name: name}
}

func parseFlakeSource(s string) FlakeSource {
	if strings.HasPrefix(s, "./") || strings.HasPrefix(s, "/") {
		return FlakeSource{Path: strings.TrimPrefix(s, "./")}
	}
	return FlakeSource{Name: s}
}
