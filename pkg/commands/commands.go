// Package commands is the frontdesk command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mklimuk/frontdesk/pkg/app"
	"github.com/mklimuk/frontdesk/pkg/config"
	"github.com/mklimuk/frontdesk/pkg/logging"
)

type rootOptions struct {
	ConfigFile string
	LogLevel   string
}

func New() *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "frontdesk",
		Short:         "Front desk tools: pass-on notes, shift board, courier counts, send-up lists and incidents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&ro.ConfigFile, "config", "", "Config file (default: frontdesk.yaml in $FRONTDESK_CONFIG_PATH, . or ~/.frontdesk).")
	cmd.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "Override the log level: debug, info, warn or error.")

	AddCommands(cmd, ro)
	return cmd
}

func AddCommands(topLevel *cobra.Command, ro *rootOptions) {
	addServe(topLevel, ro)
	addNotes(topLevel, ro)
	addShift(topLevel, ro)
	addCourier(topLevel, ro)
	addSendUp(topLevel, ro)
	addIncidents(topLevel, ro)
	addContacts(topLevel, ro)
	addJobs(topLevel, ro)
	addVersion(topLevel)
}

func (ro *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(ro.ConfigFile)
	if err != nil {
		return nil, err
	}
	if ro.LogLevel != "" {
		cfg.Log.Level = ro.LogLevel
	}
	return cfg, nil
}

// withApp opens the tools for a one-shot command. The scheduler and the
// chat bots stay off; pending writes are flushed before returning.
func (ro *rootOptions) withApp(ctx context.Context, fn func(a *app.App) error) error {
	return ro.open(ctx, false, fn)
}

// open is withApp with the jobs registered, but never started, when jobs is
// set.
func (ro *rootOptions) open(ctx context.Context, jobs bool, fn func(a *app.App) error) error {
	cfg, err := ro.load()
	if err != nil {
		return err
	}
	cfg.Jobs.Enabled = jobs
	cfg.Telegram.Token = ""
	cfg.Discord.Token = ""
	level := "warn"
	if ro.LogLevel != "" {
		level = ro.LogLevel
	}
	logger, err := logging.New(level, "console", "frontdesk")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Flush(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to save changes: %w", err)
	}
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
