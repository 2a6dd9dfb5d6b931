package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arenasync/server"
	"arenasync/store"
)

type ServeOptions struct {
	*RootOptions
	Addr      string
	VerdictDB string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative arena server",
		Long: `Run the HTTP + WebSocket server.

Endpoints:
  /ws?room=<id>      game connection (HELLO/WELCOME handshake)
  /admin/config      GET/POST room settings
  /admin/metrics     room counters as JSON
  /admin/verdicts    recent hit verdicts (requires a verdict store)
  /metrics           Prometheus exposition
  /healthz           liveness

Examples:
  arenasync serve --addr :8080
  arenasync serve -c configs/arenasync.yaml --verdict-db verdicts.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.VerdictDB, "verdict-db", "", "SQLite path for hit verdicts (overrides config)")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return wrapExit(ExitCommandError, "invalid configuration", err)
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.VerdictDB != "" {
		cfg.Store.Path = opts.VerdictDB
	}
	log, closeLog, err := opts.logger(cfg)
	if err != nil {
		return wrapExit(ExitCommandError, "invalid configuration", err)
	}
	defer closeLog()

	var verdicts *store.VerdictStore
	if cfg.Store.Path != "" {
		verdicts, err = store.Open(cfg.Store.Path, cfg.Store.QueueSize, log)
		if err != nil {
			return wrapExit(ExitCommandError, "open verdict store", err)
		}
		defer func() {
			if err := verdicts.Close(); err != nil {
				log.Warn("close verdict store", zap.Error(err))
			}
		}()
	}

	return server.New(cfg, log, verdicts).Run(ctx)
}
