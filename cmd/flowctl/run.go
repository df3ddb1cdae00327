package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowctl/internal/common"
	"github.com/ternarybob/flowctl/internal/nixenv"
	"github.com/ternarybob/flowctl/internal/workflow/graph"
	"github.com/ternarybob/flowctl/internal/workflow/progressui"
	"github.com/ternarybob/flowctl/internal/workflow/step"
)

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var configFiles configPaths
	fs.Var(&configFiles, "config", "configuration file path (repeatable, later files override earlier ones)")
	fs.Var(&configFiles, "c", "shorthand for -config")
	forcePortable := fs.Bool("force-nix-portable", false, "use nix-portable even when a native nix is available")
	cacheLocal := fs.String("cache-local", "", "local cache directory for the portable environment")
	cacheDistributed := fs.String("cache-distributed", "", "distributed cache location for the portable environment")
	watch := fs.String("watch", "", "cron schedule to re-run the workflow on (minimum 5-minute interval)")
	inspect := fs.String("inspect", "", "step name to highlight in diagnostics on failure")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "flowctl run: missing evaluator path")
		return 2
	}
	evaluatorPath, evaluatorArgs := rest[0], rest[1:]

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowctl run: %v\n", err)
		return 2
	}

	logger := common.SetupLogger(config)
	logger = logger.WithCorrelationId(common.NewRunID())
	common.InitLogger(logger)

	opts := runOptions{
		forcePortable:    *forcePortable,
		cacheLocal:       *cacheLocal,
		cacheDistributed: *cacheDistributed,
		inspect:          *inspect,
		evaluatorPath:    evaluatorPath,
		evaluatorArgs:    evaluatorArgs,
	}

	if *watch == "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return executeOnce(ctx, config, logger, opts)
	}

	if err := common.ValidateWatchSchedule(*watch); err != nil {
		fmt.Fprintf(os.Stderr, "flowctl run: %v\n", err)
		return 2
	}
	return executeWatched(config, logger, opts, *watch)
}

type runOptions struct {
	forcePortable    bool
	cacheLocal       string
	cacheDistributed string
	inspect          string
	evaluatorPath    string
	evaluatorArgs    []string
}

// executeOnce runs the workflow exactly once and returns the process exit
// code per spec.md §6: 0 on all-Successful, non-zero on any Failed.
func executeOnce(ctx context.Context, config *common.Config, logger arbor.ILogger, opts runOptions) int {
	env, err := nixenv.Select(ctx, nixenv.SelectOptions{
		ForceNixPortableUsage: opts.forcePortable,
		CacheLocal:            opts.cacheLocal,
		CacheDistributed:      opts.cacheDistributed,
	})
	if err != nil {
		logger.Error().Err(err).Msg("no usable nix environment")
		return 1
	}

	doc, err := nixenv.Eval(ctx, opts.evaluatorPath, opts.evaluatorArgs)
	if err != nil {
		logger.Error().Err(err).Msg("failed to evaluate specification")
		return 1
	}

	g, err := graph.Build(ctx, doc, graph.BuildOptions{Environment: env, AmbientEnv: os.Environ()})
	if err != nil {
		logger.Error().Err(err).Msg("failed to build job graph")
		return 1
	}

	sink, closeSink := buildSink(config, logger)
	defer closeSink()

	executor := graph.NewExecutor(graph.ExecutorOptions{
		MaxParallelJobs:                 config.MaxParallelJobs,
		KeepGoing:                       config.KeepGoing,
		TolerateTransientUpdateFailures: config.ToleranceTransientUpdateFailure,
	}, sink)
	executor.SetLogger(logger)

	runErr := executor.Execute(ctx, g)
	reportFailures(g, logger, opts.inspect)

	if errors.Is(runErr, context.Canceled) {
		logger.Warn().Msg("run cancelled; running jobs were terminated")
		return 1
	}
	if runErr != nil {
		return 1
	}
	return 0
}

// executeWatched re-invokes executeOnce on the given cron schedule until
// interrupted. Each firing is independent: a failed run does not prevent
// the next scheduled one.
func executeWatched(config *common.Config, logger arbor.ILogger, opts runOptions, schedule string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		common.SafeGo(logger, "flowctl-watch-run", func() {
			executeOnce(ctx, config, logger, opts)
		})
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to schedule watch run")
		return 2
	}

	c.Start()
	<-ctx.Done()
	c.Stop()
	return 0
}

// buildSink constructs the progressui.Sink the executor reports to,
// per flow.toml's progress_ui.mode, and returns a cleanup func to call on
// exit.
func buildSink(config *common.Config, logger arbor.ILogger) (progressui.Sink, func()) {
	switch config.ProgressUI.Mode {
	case "websocket":
		wsSink := progressui.NewWebSocketSink(logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/progress", wsSink.HandleWebSocket)
		server := &http.Server{Addr: config.ProgressUI.ListenAddr, Handler: mux}
		common.SafeGo(logger, "flowctl-progress-websocket", func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("progress websocket server stopped")
			}
		})
		return wsSink, func() { server.Close() }
	case "none":
		return progressui.NewAggregate(), func() {}
	default:
		return progressui.NewConsoleSink(logger), func() {}
	}
}

// reportFailures prints a spec.md §6-shaped diagnostic for every Failed job:
// step name, root-cause error, log path, and a hint to re-invoke with
// --inspect <name>.
func reportFailures(g *graph.Graph, logger arbor.ILogger, inspect string) {
	for i := 0; i < g.Len(); i++ {
		j := g.Job(i)
		if j.Kind() != step.Failed {
			continue
		}

		info := j.Info()
		event := logger.Error().
			Str("step", info.Name).
			Str("log", info.Log).
			Err(j.Err())

		if inspect == info.Name {
			event.Msg("job failed (inspected)")
		} else {
			event.Msg(fmt.Sprintf("job failed; re-invoke with --inspect %s for details", info.Name))
		}

		for _, warning := range j.Warnings() {
			logger.Warn().Str("step", info.Name).Msg(warning)
		}
	}
}
