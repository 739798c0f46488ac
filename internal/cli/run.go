package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antlu/stream-monitor/internal/app"
	"github.com/antlu/stream-monitor/internal/config"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the watchlist and monitor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			log, err := NewLogger(cmd.ErrOrStderr(), conf)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, conf, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error().Err(err).Msg("Error shutting down")
				}
			}()

			log.Info().Msg("Monitor started")
			err = a.Run(ctx)
			if err != nil && ctx.Err() == nil {
				return err
			}
			log.Info().Msg("Monitor stopped")
			return nil
		},
	}
}

// Execute runs the root command with a background context.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}
