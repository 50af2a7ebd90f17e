// Command matrixctl is the operator CLI for the matrix engine. It talks to
// the configured stores directly and never starts background workers.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/matrixnet/internal/app"
	"github.com/alanyoungcy/matrixnet/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:          "matrixctl",
		Short:        "Operate a matrixnet deployment",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	env := &cliEnv{configPath: &configPath, verbose: &verbose}
	root.AddCommand(
		newEncryptSecretCmd(),
		newBoardsCmd(env),
		newReplayCmd(env),
		newArchiveCmd(env),
	)
	return root
}

// cliEnv carries the persistent flags to subcommands.
type cliEnv struct {
	configPath *string
	verbose    *bool
}

func (e *cliEnv) logger() *slog.Logger {
	if !*e.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// wire loads the configuration and connects to storage. Background
// integrations (wallet, cold storage) are never started from the CLI.
func (e *cliEnv) wire(ctx context.Context) (*app.Dependencies, func(), error) {
	cfg, err := config.Load(*e.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Mode = "serve"
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return app.Wire(ctx, cfg, e.logger())
}
