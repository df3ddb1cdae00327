package specification

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so specifications can express a runtime
// budget either as a Go duration string ("2h30m") or as a plain number of
// seconds, whichever the evaluator finds more convenient to emit.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds: %w", err)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// SlurmRuntime formats the duration as HH:MM:SS, matching sbatch/srun's
// --time flag. Hours are zero-padded to at least two digits but are never
// capped, so multi-day budgets render correctly (e.g. "120:00:00").
func (d Duration) SlurmRuntime() string {
	total := int64(d.Duration().Seconds())
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
