package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/app"
	"github.com/mklimuk/frontdesk/pkg/logging"
)

func addServe(topLevel *cobra.Command, ro *rootOptions) {
	addr := ""
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled jobs and chat bots.",
		Example: `
frontdesk serve
frontdesk serve --addr :9000 --config ./frontdesk.yaml
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "frontdesk")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("shutdown incomplete", zap.Error(err))
				}
			}()
			logger.Info("frontdesk started", zap.String("backend", cfg.Store.Backend))
			return a.Serve(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr.")
	topLevel.AddCommand(cmd)
}
