package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Short:   "Global alert preferences",
	Aliases: []string{"notif"},
}

var notificationsOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Enable alerts and re-register every event",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetNotifications(cmd, true) },
}

var notificationsOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disable alerts and cancel everything pending",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return runSetNotifications(cmd, false) },
}

var notificationsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current preferences",
	Args:  cobra.NoArgs,
	RunE:  runNotificationsStatus,
}

var notificationsLangCmd = &cobra.Command{
	Use:   "lang <code>",
	Short: "Set the alert language",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotificationsLang,
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsOnCmd, notificationsOffCmd, notificationsStatusCmd, notificationsLangCmd)
}

func runSetNotifications(cmd *cobra.Command, enabled bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.SetNotifications(cmd.Context(), enabled)
	if err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "notifications %s (%d/%d events processed)\n", state, rep.Processed, rep.Total)
	return nil
}

func runNotificationsStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Settings(cmd.Context())
	if err != nil {
		return err
	}
	pending, err := a.Pending(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	state := "off"
	if st.NotificationsEnabled {
		state = "on"
	}
	fmt.Fprintf(out, "notifications: %s\n", state)
	fmt.Fprintf(out, "language:      %s (available: %s)\n", st.Language, strings.Join(a.Languages(), ", "))
	fmt.Fprintf(out, "timezone:      %s\n", a.Location())
	fmt.Fprintf(out, "pending:       %d\n", len(pending))
	return nil
}

func runNotificationsLang(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.SetLanguage(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "language set to %s\n", strings.ToLower(strings.TrimSpace(args[0])))
	return nil
}
