package main

import (
	"fmt"
	"io"

	"eventra/internal/event"

	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <kind> <payload|->",
	Short: "Deliver one alert now from a serialized event payload",
	Long: `dispatch is the fire-time entry point for triggers armed outside the daemon
(cron, systemd timers). kind is reminder, start or end; the payload is the
JSON written at registration time, or - to read it from stdin. The outcome
is printed; a malformed payload is reported, not treated as a failure.`,
	Args: cobra.ExactArgs(2),
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	kind, err := event.ParseKind(args[0])
	if err != nil {
		return err
	}
	payload := []byte(args[1])
	if args[1] == "-" {
		if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(cmd.OutOrStdout(), a.Dispatch(cmd.Context(), kind, payload))
	return nil
}
