// Package cmd defines and implements the CLI commands for the batchprogress
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-progress/internal/app"
	"github.com/JakeFAU/batch-progress/internal/backup"
	"github.com/JakeFAU/batch-progress/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. Tests inject a fake.
type App interface {
	Close(ctx context.Context)
	Logger() *zap.Logger
	RunBackup(ctx context.Context, sourceDir, label string) (backup.Summary, error)
	Serve(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "batchprogress",
		Short: "Runs batches of tasks with a live, rate-friendly progress message.",
		Long: `batchprogress runs a batch of file uploads with bounded concurrency and keeps
a single chat message up to date with the run's progress. Updates are coalesced
so large batches stay well inside webhook rate limits, and a final summary is
always delivered, falling back to a new message or a Pub/Sub notice when the
original message is gone.`,
		SilenceUsage: true,

		// Build the application once flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env BATCHPROGRESS_* overrides)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
