// Command eventra schedules and shows alerts for calendar events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"eventra/internal/app"
	"eventra/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "eventra:", err)
		return 1
	}
	return 0
}

var configPath string

var rootCmd = &cobra.Command{
	Use:           "eventra",
	Short:         "Eventra - reminder, start and end alerts for your events",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvConfig),
		"config file (.json, .yaml or .toml); defaults to $"+config.EnvConfig)
}

// openApp builds the app for one command. Alerts print to the command's
// stdout, logs to its stderr.
func openApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(configPath,
		app.WithStdout(cmd.OutOrStdout()),
		app.WithLogOutput(cmd.ErrOrStderr()),
		app.WithActor(actor()),
	)
}

func actor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
