// Package specification decodes the JSON workflow specification produced by
// an external evaluator process into the typed graph of steps, inputs,
// outputs and executors the engine drives.
//
// The wire format embeds parent steps by value: a Step's Inputs carry the
// full upstream Step, not a reference by name, so the same step may appear
// more than once in the decoded tree. Deduplication by step name happens at
// job-graph ingest time (internal/workflow/graph), not here.
package specification

import "encoding/json"

// Document is the root JSON value: a mapping of target-group name to either
// a single target or a list of targets.
type Document map[string]TargetList

// Target names a path the workflow should realize and the step that
// produces it.
type Target struct {
	Path       string `json:"path"`
	ParentStep Step   `json:"parentStep"`
}

// Step describes a single unit of work: its declared inputs and outputs, the
// executor it runs under, where its log goes, how its progress is tracked,
// and the binary that does the work.
type Step struct {
	Name      string                `json:"name" validate:"required"`
	Inputs    map[string]InputList  `json:"inputs,omitempty"`
	Outputs   map[string]OutputList `json:"outputs" validate:"required"`
	Executor  Executor              `json:"executor"`
	Log       string                `json:"log" validate:"required"`
	Progress  *ProgressSpec         `json:"progress,omitempty"`
	RunBinary string                `json:"run" validate:"required"`
}

// UnmarshalJSON decodes a Step normally, then defaults Executor to
// ExecutorDefault when the "executor" key was absent entirely — Go only
// invokes Executor's own UnmarshalJSON when the key is present, so a
// missing key would otherwise leave Executor.Kind as the empty string
// rather than the "Default" spec.md §6 describes as the implicit choice.
func (s *Step) UnmarshalJSON(data []byte) error {
	type stepAlias Step
	aux := (*stepAlias)(s)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if s.Executor.Kind == "" {
		s.Executor.Kind = ExecutorDefault
	}
	return nil
}

// ProgressSpec configures the progress scanner for a step: a regular
// expression with exactly one capture group, matched line by line against
// the step's log file, plus the indicator's maximum value for UI scaling.
type ProgressSpec struct {
	IndicatorMax   uint   `json:"indicatorMax"`
	IndicatorRegex string `json:"indicatorRegex" validate:"required"`
}

// Input is a declared dependency: the path the step expects to read, and
// the step that is responsible for producing it (the parent in the job
// graph).
type Input struct {
	Path       string `json:"path"`
	ParentStep Step   `json:"parentStep"`
}

// Output is a file path a step is expected to produce. If the file already
// exists before the step runs, the step is skipped.
type Output struct {
	Path string `json:"path"`
}

// InputList, OutputList and TargetList all support the same "one-or-many"
// JSON shape: the field may be a single object or a JSON array of them.
// encoding/json has no attribute-driven equivalent of serde_with's
// OneOrMany, so each gets a hand-written UnmarshalJSON.
type InputList []Input
type OutputList []Output
type TargetList []Target

func (l *InputList) UnmarshalJSON(data []byte) error {
	items, err := unmarshalOneOrMany[Input](data)
	if err != nil {
		return err
	}
	*l = items
	return nil
}

func (l *OutputList) UnmarshalJSON(data []byte) error {
	items, err := unmarshalOneOrMany[Output](data)
	if err != nil {
		return err
	}
	*l = items
	return nil
}

func (l *TargetList) UnmarshalJSON(data []byte) error {
	items, err := unmarshalOneOrMany[Target](data)
	if err != nil {
		return err
	}
	*l = items
	return nil
}

// unmarshalOneOrMany decodes data as a JSON array of T, falling back to a
// single T when the array form fails to parse.
func unmarshalOneOrMany[T any](data []byte) ([]T, error) {
	var many []T
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}

	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

// ExecutorKind discriminates the Executor tagged union. Go has no sum
// types, so the wire shape `{"Default": {}} | {"Slurm": {...}}` is decoded
// into a Kind discriminant plus an optional payload, per the "tagged
// struct" approach spec.md §9 recommends for implementations without sum
// types.
type ExecutorKind string

const (
	ExecutorDefault ExecutorKind = "Default"
	ExecutorCluster ExecutorKind = "Slurm"
)

// Executor selects how a step's command is launched: directly on the local
// machine, or wrapped for submission to a cluster batch scheduler.
type Executor struct {
	Kind    ExecutorKind
	Cluster *ClusterOptions
}

// ClusterOptions carries the resource request forwarded to the cluster
// batch launcher: account, optional QOS/constraint, wall-clock runtime
// budget, optional partitions, and CPU/GPU counts. Field names mirror
// spec.md §6's <slurm-opts> wire shape exactly.
type ClusterOptions struct {
	Account          string   `json:"account" validate:"required"`
	QualityOfService string   `json:"quality_of_service,omitempty"`
	Constraint       string   `json:"constraint,omitempty"`
	Runtime          Duration `json:"runtime" validate:"required,gt=0"`
	Partitions       []string `json:"partitions,omitempty"`
	CPUCount         uint16   `json:"cpu_count"`
	GPUCount         uint16   `json:"gpu_count"`
}

// executorWire mirrors the raw `{"Default": {}} | {"Slurm": {...}}` shape
// for decoding; at most one of its fields is present in any given document.
type executorWire struct {
	Default *struct{}       `json:"Default"`
	Slurm   *ClusterOptions `json:"Slurm"`
}

func (e *Executor) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = Executor{Kind: ExecutorDefault}
		return nil
	}

	var wire executorWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch {
	case wire.Slurm != nil:
		*e = Executor{Kind: ExecutorCluster, Cluster: wire.Slurm}
	default:
		*e = Executor{Kind: ExecutorDefault}
	}
	return nil
}

func (e Executor) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ExecutorCluster:
		return json.Marshal(executorWire{Slurm: e.Cluster})
	default:
		return json.Marshal(executorWire{Default: &struct{}{}})
	}
}
