package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique correlation ID for one `flowctl run`
// invocation, attached to the logger via WithCorrelationId so every log
// line from that run can be grepped out of a shared log file.
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}
