package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/ternarybob/flowctl/internal/common"
)

func versionCommand(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	fmt.Printf("flowctl version %s\n", common.GetFullVersion())
	fmt.Printf("executors: %s\n", strings.Join(common.SupportedExecutorKinds(), ", "))
	return 0
}
