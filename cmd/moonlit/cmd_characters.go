package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "Inspect the character store",
}

var charactersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every character",
	Args:  cobra.NoArgs,
	RunE:  runCharactersList,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create storage schemas and import characters.file",
	Long: `Opens every configured backend, which creates missing tables, then
upserts all records of characters.file into the character store.

Run it once after switching characters.backend to postgres.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	charactersCmd.AddCommand(charactersListCmd)
}

func runCharactersList(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	recs, err := a.Characters().List(cmd.Context())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No characters found.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tABILITIES")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.ID, r.Name, len(r.Abilities))
	}
	return tw.Flush()
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	a, cfg, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(cmd.Context())

	n, err := a.ImportCharacters(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d characters from %s into the %s store\n", n, cfg.Characters.File, cfg.Characters.Backend)
	return nil
}
