package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/brensch/setfetch/internal/app"
	"github.com/brensch/setfetch/internal/catalog"
	"github.com/brensch/setfetch/internal/config"
	"github.com/brensch/setfetch/internal/db"
	"github.com/brensch/setfetch/internal/orchestrator"
)

// Flags for the fetch command
var (
	fetchOutputDir      string
	fetchSets           string
	fetchNoPrompt       bool
	fetchMaxExtractions int
	fetchAttempts       int
	fetchAbortOnFailure bool
	fetchRetryDelay     time.Duration
	fetchRequestTimeout time.Duration
	fetchSkipCompleted  bool
)

// fetchCmd downloads and extracts the selected sets.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download and extract the selected sets",
	Long: `Downloads every archive of the selected sets and extracts it into <output>/<set>.

1. Loads the catalog (--catalog) and lists the numbered sets.
2. Asks for the output directory and the set numbers unless --output/--sets are given.
3. Processes the selected sets one at a time in catalog order: archives are downloaded
   one after another and extracted in parallel (at most --max-parallel-extractions).
4. Deletes each archive once it has been extracted.

A download that fails --download-attempts times is skipped, or with --abort-on-failure
stops the run with a non-zero exit status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := getConfig()
		applyFetchFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		cat, err := catalog.Load(ctx, cfg.CatalogPath)
		if err != nil {
			return err
		}
		logger.Info("Catalog loaded.", slog.String("catalog", cfg.CatalogPath), slog.Int("sets", cat.Len()))

		// --- Output directory and selection, from flags or the prompt ---
		outputDir := cfg.OutputDir
		var ordinals []int
		setsGiven := cmd.Flags().Changed("sets")
		if setsGiven {
			if ordinals, err = catalog.ParseSelection(fetchSets, cat.Len()); err != nil {
				return err
			}
		}
		if fetchNoPrompt {
			if outputDir == "" {
				outputDir = config.DefaultOutputDir()
			}
			if !setsGiven {
				ordinals, _ = catalog.ParseSelection("", cat.Len())
			}
		} else {
			answers, err := app.Prompt(cmd.InOrStdin(), cmd.OutOrStdout(), cat, app.Request{
				DefaultDir:   config.DefaultOutputDir(),
				OutputDir:    outputDir,
				AskSelection: !setsGiven,
			})
			if err != nil {
				return err
			}
			outputDir = answers.OutputDir
			if !setsGiven {
				ordinals = answers.Ordinals
			}
		}

		outputRoot, err := config.PrepareOutputDir(outputDir)
		if err != nil {
			return err
		}

		// --- Journal ---
		runID := uuid.NewString()
		var opts []orchestrator.Option
		conn, err := getDB(ctx)
		if err != nil {
			return err
		}
		if conn != nil {
			journal := db.NewJournal(conn, runID)
			opts = append(opts, orchestrator.WithRunID(journal.RunID()), orchestrator.WithRecorder(journal))
			if fetchSkipCompleted {
				opts = append(opts, orchestrator.WithSkipCompleted(journal))
			}
		} else if fetchSkipCompleted {
			return &config.ConfigError{Field: "skip_completed", Err: errJournalDisabled}
		} else {
			opts = append(opts, orchestrator.WithRunID(runID))
		}

		o, err := orchestrator.New(cfg, logger, opts...)
		if err != nil {
			return err
		}
		report, err := o.Run(ctx, cat, ordinals, outputRoot)
		if err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Done: %d set(s) in %s, %d download(s) failed, %d extraction(s) failed.\n",
			len(report.Sets), outputRoot, report.DownloadFailures(), report.ExtractFailures())
		return nil
	},
}

// applyFetchFlags overrides cfg with the fetch flags that were set explicitly.
func applyFetchFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.OutputDir = fetchOutputDir
	}
	if flags.Changed("max-parallel-extractions") {
		cfg.MaxParallelExtractions = fetchMaxExtractions
	}
	if flags.Changed("download-attempts") {
		cfg.DownloadAttempts = fetchAttempts
	}
	if flags.Changed("abort-on-failure") {
		cfg.AbortOnFailure = fetchAbortOnFailure
	}
	if flags.Changed("retry-delay") {
		cfg.RetryDelay = fetchRetryDelay
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = fetchRequestTimeout
	}
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOutputDir, "output", "o", "", "Output root directory (default <cwd>/data, asked interactively)")
	fetchCmd.Flags().StringVarP(&fetchSets, "sets", "s", "", "Comma-separated 1-based set numbers, blank for all (asked interactively)")
	fetchCmd.Flags().BoolVar(&fetchNoPrompt, "no-prompt", false, "Never prompt; use defaults for anything not given")
	fetchCmd.Flags().IntVar(&fetchMaxExtractions, "max-parallel-extractions", config.DefaultMaxParallelExtractions, "Maximum concurrent extractions per set")
	fetchCmd.Flags().IntVar(&fetchAttempts, "download-attempts", config.DefaultDownloadAttempts, "Attempts per download before giving up")
	fetchCmd.Flags().BoolVar(&fetchAbortOnFailure, "abort-on-failure", false, "Stop the whole run when a download exhausts its attempts")
	fetchCmd.Flags().DurationVar(&fetchRetryDelay, "retry-delay", config.DefaultRetryDelay, "Fixed pause between download attempts")
	fetchCmd.Flags().DurationVar(&fetchRequestTimeout, "request-timeout", 0, "Timeout for a single download attempt (0 = none)")
	fetchCmd.Flags().BoolVar(&fetchSkipCompleted, "skip-completed", false, "Skip archives the journal records as already extracted")
}
