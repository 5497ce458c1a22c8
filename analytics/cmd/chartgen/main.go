package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/altocentral/backend/analytics/pkg/app"
	"github.com/altocentral/backend/analytics/pkg/config"
	"github.com/altocentral/backend/analytics/pkg/logger"
)

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

type rootFlags struct {
	verbose bool
	site    string
	envFile string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "chartgen",
		Short: "Generate HVAC charts from natural-language requests.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().StringVarP(&flags.site, "site", "s", "", "site id to chart")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "path to a .env file (default: ./.env when present)")

	rootCmd.AddCommand(
		newGenerateCmd(flags),
		newMatchCmd(flags),
		newTemplatesCmd(flags),
	)
	return rootCmd
}

// withApp builds the service, runs fn and tears the service down again.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	var envFiles []string
	if flags.envFile != "" {
		envFiles = append(envFiles, flags.envFile)
	}
	env, err := config.LoadEnv(envFiles...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, logger.NewCLI(flags.verbose), env)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
