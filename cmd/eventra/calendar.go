package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var calendarCmd = &cobra.Command{
	Use:     "calendar",
	Short:   "Import and export iCalendar files",
	Aliases: []string{"cal"},
}

var calendarImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import events from an .ics file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCalendarImport,
}

var calendarExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all events as iCalendar (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCalendarExport,
}

func init() {
	rootCmd.AddCommand(calendarCmd)
	calendarCmd.AddCommand(calendarImportCmd, calendarExportCmd)
}

func runCalendarImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.Import(cmd.Context(), r)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "imported: %d created, %d updated, %d failed, %d skipped\n",
		rep.Created, rep.Updated, rep.Failed, len(rep.Skipped))
	for _, s := range rep.Skipped {
		fmt.Fprintf(out, "  skipped %s: %s\n", s.UID, s.Reason)
	}
	return nil
}

func runCalendarExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 || args[0] == "-" {
		_, err := a.Export(cmd.Context(), cmd.OutOrStdout())
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := a.Export(cmd.Context(), f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d events to %s\n", n, args[0])
	return nil
}
