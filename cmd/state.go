package cmd

import (
	"github.com/spf13/cobra"

	"github.com/brensch/setfetch/internal/db"
)

var (
	stateLimit       int
	stateFilterEvent string
	stateFilterSet   string
	stateFilterRun   string
)

// stateCmd shows the journal.
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "View the event journal of previous runs",
	Long: `Queries the DuckDB event journal and displays the most recent events.
Use flags to filter by event type, set or run and to limit the output.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		conn, err := requireDB(cmd.Context())
		if err != nil {
			return err
		}

		f := db.Filter{RunID: stateFilterRun, SetName: stateFilterSet, Event: stateFilterEvent, Limit: stateLimit}
		logger.Debug("Querying database event log", "event_filter", f.Event, "set_filter", f.SetName, "run_filter", f.RunID, "limit", f.Limit)

		if err := db.DisplayEventHistory(cmd.Context(), conn, cmd.OutOrStdout(), f); err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g., download_failed, extract_end)")
	stateCmd.Flags().StringVar(&stateFilterSet, "set", "", "Filter records by set name")
	stateCmd.Flags().StringVar(&stateFilterRun, "run", "", "Filter records by run id")
}
