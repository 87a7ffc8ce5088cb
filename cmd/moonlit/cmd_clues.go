package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/moonlit/internal/discovery"
)

var cluesCmd = &cobra.Command{
	Use:   "clues",
	Short: "Inspect and edit the discovery log",
}

var cluesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a discovered clue",
	Long: `Appends a clue to the configured discovery log.

Example:
  moonlit clues add --area "Jade Shore" --beast kui --text "wet footprints"`,
	Args: cobra.NoArgs,
	RunE: runCluesAdd,
}

var cluesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every discovered clue as JSON",
	Args:  cobra.NoArgs,
	RunE:  runCluesList,
}

var cluesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the discovery log",
	Args:  cobra.NoArgs,
	RunE:  runCluesReset,
}

var clueSubmission discovery.Submission

func init() {
	cluesAddCmd.Flags().StringVar(&clueSubmission.Area, "area", "", "where the clue was found")
	cluesAddCmd.Flags().StringVar(&clueSubmission.Beast, "beast", "", "the beast the clue concerns")
	cluesAddCmd.Flags().StringVar(&clueSubmission.Text, "text", "", "the clue itself")
	cluesCmd.AddCommand(cluesAddCmd, cluesListCmd, cluesResetCmd)
}

func runCluesAdd(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	clue, err := a.Journal().Append(cmd.Context(), clueSubmission)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), clue)
}

func runCluesList(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	clues, err := a.Journal().List(cmd.Context())
	if err != nil {
		return err
	}
	if clues == nil {
		clues = []discovery.Clue{}
	}
	return printJSON(cmd.OutOrStdout(), clues)
}

func runCluesReset(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	if err := a.Journal().Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "discovery log cleared")
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
