package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"eventra/internal/event"
	"eventra/internal/schedule"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:     "event",
	Short:   "Create, edit and remove events",
	Aliases: []string{"events"},
}

var eventAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an event and schedule its alerts",
	Args:  cobra.NoArgs,
	RunE:  runEventAdd,
}

var eventEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change an event; its alerts move with it",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventEdit,
}

var eventRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Short:   "Delete an event and cancel its alerts",
	Aliases: []string{"delete"},
	Args:    cobra.ExactArgs(1),
	RunE:    runEventRm,
}

var eventLsCmd = &cobra.Command{
	Use:     "ls",
	Short:   "List events",
	Aliases: []string{"list"},
	Args:    cobra.NoArgs,
	RunE:    runEventLs,
}

var eventShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one event and its pending alerts",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventShow,
}

type eventFlags struct {
	id       int64
	title    string
	desc     string
	start    string
	end      string
	noEnd    bool
	allDay   bool
	reminder int
}

var (
	addFlags  eventFlags
	editFlags eventFlags
	lsJSON    bool
)

const timeHelp = `"2006-01-02 15:04", RFC 3339, or "2006-01-02" for all-day events`

func init() {
	af := eventAddCmd.Flags()
	af.Int64Var(&addFlags.id, "id", 0, "event id (default: assigned from the clock)")
	af.StringVar(&addFlags.title, "title", "", "event title (required)")
	af.StringVar(&addFlags.desc, "desc", "", "description shown in alerts")
	af.StringVar(&addFlags.start, "start", "", "start time: "+timeHelp+" (required)")
	af.StringVar(&addFlags.end, "end", "", "end time")
	af.BoolVar(&addFlags.allDay, "all-day", false, "all-day event (no alerts)")
	af.IntVar(&addFlags.reminder, "reminder", 0, "minutes before start for a reminder: 0, 15, 30 or 60")
	_ = eventAddCmd.MarkFlagRequired("title")
	_ = eventAddCmd.MarkFlagRequired("start")

	ef := eventEditCmd.Flags()
	ef.StringVar(&editFlags.title, "title", "", "event title")
	ef.StringVar(&editFlags.desc, "desc", "", "description shown in alerts")
	ef.StringVar(&editFlags.start, "start", "", "start time: "+timeHelp)
	ef.StringVar(&editFlags.end, "end", "", "end time")
	ef.BoolVar(&editFlags.noEnd, "no-end", false, "remove the end time")
	ef.BoolVar(&editFlags.allDay, "all-day", false, "all-day event (no alerts)")
	ef.IntVar(&editFlags.reminder, "reminder", 0, "minutes before start for a reminder: 0, 15, 30 or 60")

	eventLsCmd.Flags().BoolVar(&lsJSON, "json", false, "print JSON")

	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(eventAddCmd, eventEditCmd, eventRmCmd, eventLsCmd, eventShowCmd)
}

var inputLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// parseWhen reads s in loc. dateOnly is set for a bare date.
func parseWhen(s string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	if t, err = time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("cannot parse time %q: want %s", s, timeHelp)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event id %q", s)
	}
	return id, nil
}

func runEventAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	start, dateOnly, err := parseWhen(addFlags.start, a.Location())
	if err != nil {
		return err
	}
	rec := event.Record{
		ID:                    addFlags.id,
		Title:                 strings.TrimSpace(addFlags.title),
		Description:           addFlags.desc,
		Start:                 start,
		AllDay:                addFlags.allDay || dateOnly,
		ReminderOffsetMinutes: addFlags.reminder,
	}
	if addFlags.end != "" {
		end, _, err := parseWhen(addFlags.end, a.Location())
		if err != nil {
			return err
		}
		rec.End = &end
	}

	rec, res, err := a.CreateEvent(cmd.Context(), rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created event %d: %s\n", rec.ID, describeResult(res))
	return nil
}

func runEventEdit(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.GetEvent(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("event %d: %w", id, err)
	}
	fl := cmd.Flags()
	if fl.Changed("title") {
		rec.Title = strings.TrimSpace(editFlags.title)
	}
	if fl.Changed("desc") {
		rec.Description = editFlags.desc
	}
	if fl.Changed("start") {
		start, dateOnly, err := parseWhen(editFlags.start, a.Location())
		if err != nil {
			return err
		}
		rec.Start = start
		if dateOnly {
			rec.AllDay = true
		}
	}
	if fl.Changed("all-day") {
		rec.AllDay = editFlags.allDay
	}
	switch {
	case editFlags.noEnd && fl.Changed("end"):
		return errors.New("--end and --no-end are mutually exclusive")
	case editFlags.noEnd:
		rec.End = nil
	case fl.Changed("end"):
		end, _, err := parseWhen(editFlags.end, a.Location())
		if err != nil {
			return err
		}
		rec.End = &end
	}
	if fl.Changed("reminder") {
		rec.ReminderOffsetMinutes = editFlags.reminder
	}

	res, err := a.UpdateEvent(cmd.Context(), rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated event %d: %s\n", rec.ID, describeResult(res))
	return nil
}

func runEventRm(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.DeleteEvent(cmd.Context(), id); err != nil {
		return fmt.Errorf("event %d: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted event %d\n", id)
	return nil
}

type eventJSON struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	AllDay          bool       `json:"all_day"`
	ReminderMinutes int        `json:"reminder_minutes"`
}

func runEventLs(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	evs, err := a.ListEvents(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if lsJSON {
		items := make([]eventJSON, 0, len(evs))
		for _, ev := range evs {
			items = append(items, eventJSON{
				ID:              ev.ID,
				Title:           ev.Title,
				Description:     ev.Description,
				Start:           ev.Start,
				End:             ev.End,
				AllDay:          ev.AllDay,
				ReminderMinutes: ev.ReminderOffsetMinutes,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(evs) == 0 {
		fmt.Fprintln(out, "no events")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tEND\tREMINDER\tTITLE")
	for _, ev := range evs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ev.ID, formatStart(ev, a.Location()), formatEnd(ev, a.Location()), formatReminder(ev), ev.Title)
	}
	return tw.Flush()
}

func runEventShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ev, err := a.GetEvent(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("event %d: %w", id, err)
	}
	pending, err := a.Pending(cmd.Context())
	if err != nil {
		return err
	}
	loc := a.Location()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id:       %d\n", ev.ID)
	fmt.Fprintf(out, "title:    %s\n", ev.Title)
	if ev.Description != "" {
		fmt.Fprintf(out, "desc:     %s\n", ev.Description)
	}
	fmt.Fprintf(out, "start:    %s\n", formatStart(ev, loc))
	fmt.Fprintf(out, "end:      %s\n", formatEnd(ev, loc))
	fmt.Fprintf(out, "reminder: %s\n", formatReminder(ev))

	ids := map[event.TaskID]bool{}
	for _, tid := range event.TaskIDsFor(ev.ID) {
		ids[tid] = true
	}
	fmt.Fprintln(out, "alerts:")
	n := 0
	for _, b := range pending {
		if !ids[b.TaskID] {
			continue
		}
		n++
		fmt.Fprintf(out, "  %-8s %s  %s\n", b.Kind, b.TriggerAt.In(loc).Format(displayLayout), b.TaskID)
	}
	if n == 0 {
		fmt.Fprintln(out, "  none pending")
	}
	return nil
}

const displayLayout = "2006-01-02 15:04"

func formatStart(ev event.Record, loc *time.Location) string {
	if ev.AllDay {
		return ev.Start.In(loc).Format("2006-01-02") + " (all day)"
	}
	return ev.Start.In(loc).Format(displayLayout)
}

func formatEnd(ev event.Record, loc *time.Location) string {
	if ev.End == nil {
		return "-"
	}
	return ev.End.In(loc).Format(displayLayout)
}

func formatReminder(ev event.Record) string {
	if ev.ReminderOffsetMinutes == 0 {
		return "-"
	}
	return fmt.Sprintf("%dm", ev.ReminderOffsetMinutes)
}

func kindList(ks []event.Kind) string {
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

func describeResult(res schedule.Result) string {
	var parts []string
	if len(res.Scheduled) > 0 {
		parts = append(parts, "scheduled "+kindList(res.Scheduled))
	}
	if len(res.SkippedPast) > 0 {
		parts = append(parts, "skipped (past) "+kindList(res.SkippedPast))
	}
	if len(res.Rejected) > 0 {
		parts = append(parts, "rejected "+kindList(res.Rejected))
	}
	if len(parts) == 0 {
		return "no alerts scheduled"
	}
	return strings.Join(parts, "; ")
}
