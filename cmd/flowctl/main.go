// -----------------------------------------------------------------------
// flowctl: the job-lifecycle engine's command-line front-end.
// -----------------------------------------------------------------------

package main

import (
	"fmt"
	"os"

	"github.com/ternarybob/flowctl/internal/common"
)

func main() {
	common.InstallCrashHandler("")
	os.Exit(dispatch())
}

// dispatch runs the requested subcommand under a deferred crash handler, so
// a panic anywhere below (a malformed specification tripping an unchecked
// assumption, a nil progress sink, ...) is captured to a crash report
// instead of dumping a bare Go stack trace on the user. os.Exit bypasses
// deferred functions, so the recovery is deferred here, not in main
// itself; after writing the report it exits the process with status 1.
func dispatch() (code int) {
	defer common.RecoverWithCrashFile()

	if len(os.Args) < 2 {
		usage()
		return 2
	}

	switch os.Args[1] {
	case "run":
		code = runCommand(os.Args[2:])
	case "validate":
		code = validateCommand(os.Args[2:])
	case "version", "-v", "--version":
		code = versionCommand(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		code = 0
	default:
		fmt.Fprintf(os.Stderr, "flowctl: unknown command %q\n", os.Args[1])
		usage()
		code = 2
	}

	return code
}

func usage() {
	fmt.Fprintln(os.Stderr, `flowctl: drive a job-lifecycle workflow to completion

Usage:
  flowctl run [flags] <evaluator> [evaluator-args...]
  flowctl validate [flags] <evaluator> [evaluator-args...]
  flowctl version

Run "flowctl run -h" or "flowctl validate -h" for flag details.`)
}
