package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the loaded trial events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every event with its roster",
	Args:  cobra.NoArgs,
	RunE:  runEventsList,
}

var eventsShowCmd = &cobra.Command{
	Use:   "show [event-id]",
	Short: "Print one event with its clues resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsShow,
}

func init() {
	eventsCmd.AddCommand(eventsListCmd, eventsShowCmd)
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	events, err := a.Engine().Events(cmd.Context())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events loaded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROSTER\tCLUES")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", ev.ID, ev.Name, strings.Join(ev.Roster, ","), len(ev.Clues))
	}
	return tw.Flush()
}

func runEventsShow(cmd *cobra.Command, args []string) error {
	a, _, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	ev, err := a.Engine().ResolveEvent(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), ev)
}
