// Package step implements the job lifecycle state machine: the per-job
// typed states (Pending, Running, Successful, Failed, Terminated) and the
// transitions between them, including I/O setup and child-process
// management. This is the "Job state machine" component of spec.md §2.
package step

import (
	"sort"

	"github.com/ternarybob/flowctl/internal/workflow/specification"
)

// Info is the runtime projection of a Step (StepInfo in spec.md §3): just
// enough identity and diagnostics to carry through a job's lifecycle
// without holding onto the full parsed Step tree. Cloned freely.
type Info struct {
	Name     string
	Inputs   []string
	Outputs  []string
	Log      string
	Progress *specification.ProgressSpec
}

// Clone returns a deep copy so a caller holding onto an Info (e.g. for a
// ParentsFailed diagnostic) is never aliased to a job's live state.
func (i Info) Clone() Info {
	clone := Info{Name: i.Name, Log: i.Log, Progress: i.Progress}
	clone.Inputs = append(clone.Inputs, i.Inputs...)
	clone.Outputs = append(clone.Outputs, i.Outputs...)
	return clone
}

// NewInfo flattens a Step's slot-keyed inputs and outputs into the ordered
// path lists Info carries, per spec.md §3's "flattened input/output paths".
func NewInfo(s *specification.Step) Info {
	info := Info{Name: s.Name, Log: s.Log, Progress: s.Progress}
	for _, slot := range sortedKeys(s.Inputs) {
		for _, in := range s.Inputs[slot] {
			info.Inputs = append(info.Inputs, in.Path)
		}
	}
	for _, slot := range sortedKeys(s.Outputs) {
		for _, out := range s.Outputs[slot] {
			info.Outputs = append(info.Outputs, out.Path)
		}
	}
	return info
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Slot iteration order only affects the order paths are flattened into
	// Info, which is diagnostic-only; a stable order makes diagnostics and
	// tests deterministic without needing the original document order.
	sort.Strings(keys)
	return keys
}
