package nixenv

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/ternarybob/flowctl/internal/workflow/specification"
)

// Eval invokes the evaluator binary (per spec.md §1, an opaque command
// whose stdout is the specification JSON) and decodes its output. The
// evaluator itself — a hermetic package/environment manager invoked through
// this driver — is treated as a fixed external interface; this function
// only captures its stdout and hands it to specification.Parse.
func Eval(ctx context.Context, evaluatorPath string, args []string) (specification.Document, error) {
	cmd := exec.CommandContext(ctx, evaluatorPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("evaluator %q failed: %w\n%s", evaluatorPath, err, stderr.String())
	}

	doc, err := specification.Parse(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("evaluator %q produced an invalid specification: %w", evaluatorPath, err)
	}
	return doc, nil
}
