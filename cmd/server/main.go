package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-auth-core/internal/config"
	"github.com/sandeepkv93/session-auth-core/internal/di"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "server",
		Short:         "Session authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional KEY=VALUE file loaded before the environment is read")
	root.AddCommand(newServeCommand(), newCleanupCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := di.InitializeApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge refresh token records past expiry plus retention once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			a, cleanup, err := di.InitializeApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer cleanup()
			defer func() { _ = a.Observability.Shutdown(context.Background()) }()

			if a.Janitor == nil {
				a.Logger.Info("refresh store expires records on its own; nothing to purge", "store", cfg.RefreshStore)
				return nil
			}
			n, err := a.Janitor.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %d refresh token records\n", n)
			return nil
		},
	}
}
