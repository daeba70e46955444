// Command athena runs the Athena chat bot and its maintenance jobs.
//
//	athena serve                      Discord bot, admin API and scheduler
//	athena backfill [--resume]        assign canonical owners to legacy messages
//	athena centralize                 create canonical users for legacy identities
//	athena resolve <platform> <id>    print the canonical id of an identity
//
// @title       Athena Admin API
// @version     1.0
// @description Identity resolution, message ledger and backfill endpoints of the Athena bot.
// @BasePath    /api/v1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/athenaai/athena/internal/config"
	"github.com/athenaai/athena/internal/observability"
	"github.com/athenaai/athena/internal/sysutil"
)

// Set at build time with -ldflags "-X main.version=...".
var version = ""

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, e := newRootCmd()
	if err := run(ctx, root, e); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run executes root and then flushes tracing, whether or not the command
// succeeded.
func run(ctx context.Context, root *cobra.Command, e *env) error {
	defer e.closeTracing(ctx)
	return root.ExecuteContext(ctx)
}

// env is what PersistentPreRunE prepares for every subcommand.
type env struct {
	cfg           config.Config
	version       string
	shutdownTrace func(context.Context) error
}

// closeTracing flushes pending spans once. Safe to call when tracing was
// never set up.
func (e *env) closeTracing(ctx context.Context) {
	if e.shutdownTrace == nil {
		return
	}
	shutdown := e.shutdownTrace
	e.shutdownTrace = nil
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown")
	}
}

func newRootCmd() (*cobra.Command, *env) {
	var (
		envFiles []string
		e        = &env{}
	)
	root := &cobra.Command{
		Use:           "athena",
		Short:         "Athena chat bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotenv(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			pretty := cfg.LogPretty && !sysutil.IsTruthy(os.Getenv("NO_COLOR"))
			sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, pretty)

			e.cfg = cfg
			e.version = sysutil.FirstNonEmpty(version, os.Getenv("ATHENA_VERSION"), "dev")
			e.shutdownTrace, err = observability.SetupTracing(cmd.Context(), cfg.OTEL, e.version)
			if err != nil {
				return fmt.Errorf("tracing: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newServeCmd(e),
		newBackfillCmd(e),
		newCentralizeCmd(e),
		newResolveCmd(e),
		newVersionCmd(e),
	)
	return root, e
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), e.version)
			return err
		},
	}
}
