package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventra/internal/app"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon that fires registered alerts",
	Long: `Run the daemon. It arms a timer for every registered alert, picks up
registrations made by other eventra commands, and shows alerts through the
configured sinks. Under systemd it reports readiness and pings the watchdog.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveStopTimeout time.Duration

func init() {
	serveCmd.Flags().DurationVar(&serveStopTimeout, "stop-timeout", 10*time.Second, "upper bound for a graceful shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}
	// the app context is already gone; shut down on a fresh one
	stopCtx, cancel := context.WithTimeout(context.Background(), serveStopTimeout)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}
