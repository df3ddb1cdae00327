package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/flowctl/internal/workflow/specification"
)

// Version information
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// SpecSchemaVersion identifies the wire shape of the Document/Step JSON an
// evaluator must produce (internal/workflow/specification). It is bumped
// whenever a field is added or renamed in a way an older evaluator could not
// satisfy, independent of Version's release cadence.
const SpecSchemaVersion = "1"

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns version, build info, and the specification schema
// version this build expects from an evaluator — the detail a crash report
// or bug reporter actually needs to tell "new flowctl, old evaluator" apart
// from a real step failure.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s, schema: %s)", Version, BuildTime, GitCommit, SpecSchemaVersion)
}

// SupportedExecutorKinds returns the Executor.Kind values this build knows
// how to adapt into a spawnable command (internal/workflow/step/execution),
// for --version output and crash reports to record alongside the schema
// version.
func SupportedExecutorKinds() []string {
	return []string{string(specification.ExecutorDefault), string(specification.ExecutorCluster)}
}

// LoadVersionFromFile reads version from .version file if it exists
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}

	exeDir := filepath.Dir(exePath)
	versionFile := filepath.Join(exeDir, ".version")

	data, err := os.ReadFile(versionFile)
	if err != nil {
		return Version
	}

	version := strings.TrimSpace(string(data))
	if version != "" {
		Version = version
	}

	return Version
}
