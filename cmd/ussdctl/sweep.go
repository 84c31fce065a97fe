package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/transfa/ussd-service/internal/app"
	"github.com/transfa/ussd-service/internal/bootstrap"
	"github.com/transfa/ussd-service/internal/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close sessions idle past the inactivity window",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		cfg, err := config.LoadConfig(".")
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.SessionBackend == config.SessionBackendMemory {
			return fmt.Errorf("the memory session backend lives inside the server process; use POST /internal/sessions/sweep")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		backends, err := bootstrap.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer backends.Close()

		swept, err := app.NewSweeper(backends.SessionStore, cfg.SessionSweepSchedule).RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Closed %d expired session(s).\n", swept)
		return nil
	},
}
