package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/flowctl/internal/common"
	"github.com/ternarybob/flowctl/internal/nixenv"
	"github.com/ternarybob/flowctl/internal/workflow/graph"
)

// validateCommand evaluates the specification and builds the job graph
// without executing a single job: it exercises everything up to (but not
// including) graph.Executor.Execute, so a malformed specification or an
// unresolvable run-command is caught before any child process is spawned.
func validateCommand(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var configFiles configPaths
	fs.Var(&configFiles, "config", "configuration file path (repeatable, later files override earlier ones)")
	fs.Var(&configFiles, "c", "shorthand for -config")
	forcePortable := fs.Bool("force-nix-portable", false, "use nix-portable even when a native nix is available")
	cacheLocal := fs.String("cache-local", "", "local cache directory for the portable environment")
	cacheDistributed := fs.String("cache-distributed", "", "distributed cache location for the portable environment")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "flowctl validate: missing evaluator path")
		return 2
	}
	evaluatorPath, evaluatorArgs := rest[0], rest[1:]

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowctl validate: %v\n", err)
		return 2
	}

	logger := common.SetupLogger(config)
	logger = logger.WithCorrelationId(common.NewRunID())
	common.InitLogger(logger)

	ctx := context.Background()

	doc, err := nixenv.Eval(ctx, evaluatorPath, evaluatorArgs)
	if err != nil {
		logger.Error().Err(err).Msg("failed to evaluate specification")
		return 1
	}

	env, err := nixenv.Select(ctx, nixenv.SelectOptions{
		ForceNixPortableUsage: *forcePortable,
		CacheLocal:            *cacheLocal,
		CacheDistributed:      *cacheDistributed,
	})
	if err != nil {
		logger.Error().Err(err).Msg("no usable nix environment")
		return 1
	}

	g, err := graph.Build(ctx, doc, graph.BuildOptions{Environment: env, AmbientEnv: os.Environ()})
	if err != nil {
		logger.Error().Err(err).Msg("specification does not build a valid job graph")
		return 1
	}

	logger.Info().Int("jobs", g.Len()).Msg("specification is valid")
	return 0
}
