package main

import (
	"fmt"
	"text/tabwriter"

	"eventra/internal/event"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Short:   "List pending alert registrations",
	Aliases: []string{"pending"},
	Args:    cobra.NoArgs,
	RunE:    runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.Pending(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "no pending alerts")
		return nil
	}
	loc := a.Location()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tKIND\tTRIGGER\tEVENT")
	for _, b := range pending {
		title := "?"
		if rec, err := event.Decode(b.Payload); err == nil {
			title = fmt.Sprintf("%d %s", rec.ID, rec.Title)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.TaskID, b.Kind, b.TriggerAt.In(loc).Format(displayLayout), title)
	}
	return tw.Flush()
}
