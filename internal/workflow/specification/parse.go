package specification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ParseError wraps a decode failure with the byte offset translated into a
// 1-based line and column, and the path of the pretty-printed inspection
// file that was written alongside the failure so the offending JSON can be
// opened directly at that location.
type ParseError struct {
	Line, Column int
	InspectPath  string
	Cause        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("specification error at line %d, column %d (see %s): %v",
		e.Line, e.Column, e.InspectPath, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Parse decodes a specification document in two phases: first as generic
// JSON, pretty-printed to a temp file for inspection if anything later
// fails; then into the typed Document. Syntax and type-decode errors are
// both reported with a line/column derived from the offset encoding/json
// reports, and always point at the inspection file rather than the
// original (possibly minified) input.
func Parse(data []byte) (Document, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		inspectPath := writeInspectionFile(data)
		return nil, enrichError(data, inspectPath, err)
	}

	pretty, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		// generic was built by json.Unmarshal, this cannot realistically fail
		pretty = data
	}
	inspectPath := writeInspectionFile(pretty)

	decoder := json.NewDecoder(bytes.NewReader(pretty))
	decoder.UseNumber()

	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, enrichError(pretty, inspectPath, err)
	}

	if err := validateDocument(doc); err != nil {
		return nil, enrichError(pretty, inspectPath, err)
	}

	return doc, nil
}

// writeInspectionFile persists data to a temp file so a caller can open it
// to inspect the exact bytes the decoder saw. If the file cannot be
// created or written, it returns an empty string instead of a path, and
// callers still report the decode error. Per spec.md §6, this file is
// never auto-deleted.
func writeInspectionFile(data []byte) string {
	f, err := os.CreateTemp("", "flowctl-spec-*.json")
	if err != nil {
		return ""
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return ""
	}
	return f.Name()
}

func enrichError(data []byte, inspectPath string, err error) error {
	var offset int64
	switch e := err.(type) {
	case *json.SyntaxError:
		offset = e.Offset
	case *json.UnmarshalTypeError:
		offset = e.Offset
	default:
		return &ParseError{InspectPath: inspectPath, Cause: err}
	}

	line, col := lineColumnAt(data, offset)
	return &ParseError{Line: line, Column: col, InspectPath: inspectPath, Cause: err}
}

// lineColumnAt converts a byte offset into a 1-based line/column pair by
// scanning for newlines, since encoding/json only reports byte offsets
// (unlike serde_json, which the original evaluator's own producer reports
// against).
func lineColumnAt(data []byte, offset int64) (line, column int) {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}

	line = 1
	lastNewline := -1
	for i := int64(0); i < offset; i++ {
		if data[i] == '\n' {
			line++
			lastNewline = int(i)
		}
	}
	column = int(offset) - lastNewline
	return line, column
}

// validateDocument runs structural validation (non-empty names, log and
// run paths, present outputs, positive cluster runtimes) over every step
// reachable from every target,
// recursing through embedded parent steps. A step may be visited more than
// once (it may be embedded by value under several targets); that is
// expected and harmless here, since validation has no side effects.
func validateDocument(doc Document) error {
	for group, targets := range doc {
		for i, target := range targets {
			if err := validateStep(&target.ParentStep); err != nil {
				return fmt.Errorf("target %q[%d]: %w", group, i, err)
			}
		}
	}
	return nil
}

func validateStep(step *Step) error {
	if err := validate.Struct(step); err != nil {
		return fmt.Errorf("step %q: %w", step.Name, err)
	}
	if step.Executor.Kind == ExecutorCluster {
		if err := validate.Struct(step.Executor.Cluster); err != nil {
			return fmt.Errorf("step %q executor: %w", step.Name, err)
		}
	}
	for slot, inputs := range step.Inputs {
		for i, input := range inputs {
			if err := validateStep(&input.ParentStep); err != nil {
				return fmt.Errorf("step %q input %q[%d]: %w", step.Name, slot, i, err)
			}
		}
	}
	return nil
}
