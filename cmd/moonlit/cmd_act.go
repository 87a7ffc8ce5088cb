package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/moonlit/internal/tribunal"
)

var actCmd = &cobra.Command{
	Use:   "act",
	Short: "Run a single tribunal turn and print the result",
	Long: `Runs one turn against the configured LLM and prints the result as JSON.

Example:
  moonlit act --event stolen_pearl --action player --input "Where were you?"
  moonlit act --event stolen_pearl --history transcript.json`,
	Args: cobra.NoArgs,
	RunE: runAct,
}

var (
	actEvent   string
	actAction  string
	actSpeaker string
	actInput   string
	actHistory string
)

func init() {
	actCmd.Flags().StringVar(&actEvent, "event", "", "event id (required)")
	actCmd.Flags().StringVar(&actAction, "action", string(tribunal.ActionAuto), "auto, player or choose")
	actCmd.Flags().StringVar(&actSpeaker, "speaker", "", "speaker id for --action choose")
	actCmd.Flags().StringVar(&actInput, "input", "", "the judge's line for --action player")
	actCmd.Flags().StringVar(&actHistory, "history", "", "JSON file holding the transcript so far")
	_ = actCmd.MarkFlagRequired("event")
}

func runAct(cmd *cobra.Command, _ []string) error {
	var history any
	if actHistory != "" {
		data, err := os.ReadFile(actHistory)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if err := json.Unmarshal(data, &history); err != nil {
			return fmt.Errorf("parse history %q: %w", actHistory, err)
		}
	}

	a, _, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	res, err := a.Engine().OrchestrateTurn(cmd.Context(), tribunal.TurnRequest{
		EventID:     actEvent,
		Action:      tribunal.Action(actAction),
		SpeakerHint: actSpeaker,
		PlayerInput: actInput,
		History:     history,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
