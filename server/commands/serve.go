package commands

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"gitlab.com/shar-workflow/bpmnrt/server/config"
	"gitlab.com/shar-workflow/bpmnrt/server/server"
	"gitlab.com/shar-workflow/bpmnrt/server/server/option"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"gitlab.com/shar-workflow/bpmnrt/server/tools/tracer"
	zensvr "gitlab.com/shar-workflow/bpmnrt/zen/server"
	"log/slog"
	"os/signal"
	"syscall"
)

var errNoNatsURL = errors.New("no NATS URL configured, set BPMNRT_NATS_URL")

func (c *cli) serveCmd() *cobra.Command {
	var withNats bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the engine server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			if withNats {
				return serveWithNats(ctx, c.cfg)
			}
			svr := server.New(option.FromSettings(c.cfg), option.WithShowSplash())
			if err := svr.Listen(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withNats, "with-nats", false, "also run a NATS server in process and publish events to it")
	return cmd
}

func serveWithNats(ctx context.Context, cfg *config.Settings) error {
	svrs, err := zensvr.GetServers(ctx, zensvr.WithServerOptions(option.FromSettings(cfg), option.WithShowSplash()))
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("nats listening", slog.String("url", svrs.Nats.ClientURL()))
	<-ctx.Done()
	if err := svrs.Shutdown(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (c *cli) traceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace",
		Short: "Prints the runtime events published to NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.NatsURL == "" {
				return fmt.Errorf("trace: %w", errNoNatsURL)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			tr, err := tracer.Trace(ctx, c.cfg.NatsURL, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("trace: %w", err)
			}
			<-ctx.Done()
			return tr.Close()
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates or upgrades the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := storage.Open(ctx, c.cfg.DBDriver, c.cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			c.out.OutputDone("migrated", c.cfg.DBDriver)
			return nil
		},
	}
}
