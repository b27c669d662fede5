package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brensch/setfetch/internal/app"
	"github.com/brensch/setfetch/internal/catalog"
)

var setsCmd = &cobra.Command{
	Use:   "sets",
	Short: "List the numbered sets of the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		cat, err := catalog.Load(cmd.Context(), cfg.CatalogPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sets in %s:\n", cfg.CatalogPath)
		fmt.Fprint(cmd.OutOrStdout(), app.ListSets(cat))
		return nil
	},
}
