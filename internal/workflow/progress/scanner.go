// Package progress implements the log-tailing progress scanner: a compiled
// regular expression with exactly one capture group that extracts the
// current progress value from a step's log file.
package progress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ternarybob/flowctl/internal/workflow/specification"
)

// Scanner reads progress out of a log's contents by matching a fixed regex
// line by line and taking the maximum successfully parsed capture. Stateless
// across invocations; safe to share between goroutines.
type Scanner struct {
	pattern string
	max     uint
	regex   *regexp.Regexp
}

// SetupError reports a scanner that could not be constructed: its regex
// failed to compile, or compiled with a capture-group count other than one.
type SetupError struct {
	Pattern string
	Count   int
	Cause   error
}

func (e *SetupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid progress pattern %q: %v", e.Pattern, e.Cause)
	}
	return fmt.Sprintf("invalid capture group count in %q: expected 1, got %d", e.Pattern, e.Count)
}

func (e *SetupError) Unwrap() error { return e.Cause }

// IsInvalidCaptureGroupCount reports whether err is a SetupError raised
// because the pattern did not have exactly one capture group (as opposed to
// failing to compile at all).
func IsInvalidCaptureGroupCount(err error) bool {
	se, ok := err.(*SetupError)
	return ok && se.Cause == nil
}

// ScanError reports a failure while reading progress out of a log, either
// because a matched capture was not a non-negative integer.
type ScanError struct {
	Pattern      string
	Line         string
	CaptureMatch string
	Cause        error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("expected an integer, got %q by applying %q to %q: %v",
		e.CaptureMatch, e.Pattern, e.Line, e.Cause)
}

func (e *ScanError) Unwrap() error { return e.Cause }

// NewScanner compiles info's regex and validates it has exactly one capture
// group. info.IndicatorMax is carried through unchanged for the caller's UI
// scaling; it has no bearing on scanning itself.
func NewScanner(info *specification.ProgressSpec) (*Scanner, error) {
	regex, err := regexp.Compile(info.IndicatorRegex)
	if err != nil {
		return nil, &SetupError{Pattern: info.IndicatorRegex, Cause: err}
	}
	if regex.NumSubexp() != 1 {
		return nil, &SetupError{Pattern: info.IndicatorRegex, Count: regex.NumSubexp()}
	}

	return &Scanner{
		pattern: info.IndicatorRegex,
		max:     info.IndicatorMax,
		regex:   regex,
	}, nil
}

// IndicatorMax returns the configured maximum, for callers building a
// bounded progress indicator.
func (s *Scanner) IndicatorMax() uint { return s.max }

// Read scans logContents line by line and returns the maximum integer
// captured across every matching line. Lines that do not match are
// ignored. If no line matches, the reported progress is 0 — tools may
// rewrite prior counters, so max handles both monotonic counters and retry
// noise without regressing on partial log buffers.
func (s *Scanner) Read(logContents string) (uint, error) {
	var maxSeen uint
	var sawMatch bool

	for _, line := range strings.Split(logContents, "\n") {
		match := s.regex.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		captured := match[1]

		value, err := strconv.ParseUint(captured, 10, 64)
		if err != nil {
			return 0, &ScanError{Pattern: s.pattern, Line: line, CaptureMatch: captured, Cause: err}
		}

		if !sawMatch || uint(value) > maxSeen {
			maxSeen = uint(value)
		}
		sawMatch = true
	}

	return maxSeen, nil
}
