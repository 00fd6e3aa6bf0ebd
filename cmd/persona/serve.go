package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nice-bills/chain-segment/internal/api"
)

var serveFlags struct {
	addr         string
	useMemory    bool
	jobBackend   string
	cacheBackend string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis API server",
	Long: `Run the HTTP API: submit jobs, poll or watch them, and score raw
feature maps. Jobs left over from a previous run are recovered at start:
interrupted running jobs fail as Canceled and pending jobs are rescheduled.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().BoolVar(&serveFlags.useMemory, "use-memory", false, "Use the in-memory provider instead of Dune")
	serveCmd.Flags().StringVar(&serveFlags.jobBackend, "job-backend", "", "Job store: memory or postgres (overrides JOB_BACKEND)")
	serveCmd.Flags().StringVar(&serveFlags.cacheBackend, "cache-backend", "", "Activity cache: memory, postgres or redis (overrides CACHE_BACKEND)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveFlags.addr != "" {
		cfg.HTTPAddr = serveFlags.addr
	}
	if serveFlags.useMemory {
		cfg.UseMemoryProvider = true
	}
	if serveFlags.jobBackend != "" {
		cfg.JobBackend = serveFlags.jobBackend
	}
	if serveFlags.cacheBackend != "" {
		cfg.CacheBackend = serveFlags.cacheBackend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.Recover(ctx); err != nil {
		return err
	}

	srv := api.New(api.Options{
		Jobs:      a.orch,
		Predictor: a.predictor,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	err = srv.ListenAndServe(ctx, cfg.HTTPAddr, cfg.ShutdownTimeout)
	logger.Info().Msg("shutting down")
	return err
}

// commandContext returns cmd's context, or Background when run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
