package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/setfetch/internal/db"
	"github.com/brensch/setfetch/internal/saver"
)

var (
	saveOut       string
	saveFilterRun string
	saveFilterSet string
)

// saveCmd represents the save command
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Export the event journal to a Parquet file",
	Long: `Reads the events of the DuckDB journal, optionally narrowed to one run or set,
and writes them to a Snappy-compressed Parquet file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		conn, err := requireDB(cmd.Context())
		if err != nil {
			return err
		}

		logger.Info("Starting journal save process...",
			slog.String("db_path", getConfig().DbPath),
			slog.String("out", saveOut),
		)
		f := db.Filter{RunID: saveFilterRun, SetName: saveFilterSet}
		if err := saver.SaveJournalToParquet(cmd.Context(), conn, f, saveOut, logger); err != nil {
			logger.Error("Save process completed with errors", "error", err)
			return fmt.Errorf("save failed: %w", err)
		}
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveOut, "out", "o", "./setfetch_events.parquet", "Parquet file to write")
	saveCmd.Flags().StringVar(&saveFilterRun, "run", "", "Only export events of this run id")
	saveCmd.Flags().StringVar(&saveFilterSet, "set", "", "Only export events of this set")
}
