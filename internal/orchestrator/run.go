package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/brensch/setfetch/internal/catalog"
	"github.com/brensch/setfetch/internal/config"
	"github.com/brensch/setfetch/internal/db"
)

// RunReport collects the outcome of every set a run processed.
type RunReport struct {
	RunID    string
	Sets     []SetResult
	Duration time.Duration
}

// ExtractFailures counts extraction failures across all sets.
func (r RunReport) ExtractFailures() int {
	n := 0
	for _, s := range r.Sets {
		n += s.ExtractFailed
	}
	return n
}

// DownloadFailures counts downloads that were given up across all sets.
func (r RunReport) DownloadFailures() int {
	n := 0
	for _, s := range r.Sets {
		n += s.Failed
	}
	return n
}

// Run processes the sets picked by ordinals (1-based positions in cat) in
// catalog order, one set at a time, each into outputRoot/<set name>. Ordinals
// are checked before any download starts.
func (o *Orchestrator) Run(ctx context.Context, cat *catalog.Catalog, ordinals []int, outputRoot string) (RunReport, error) {
	start := time.Now()
	report := RunReport{RunID: o.runID}

	names, err := cat.Resolve(ordinals)
	if err != nil {
		return report, err
	}
	if len(names) == 0 {
		return report, &config.ConfigError{Field: "selection", Err: errors.New("no sets selected")}
	}

	o.logger.Info("Starting run.", slog.Int("sets", len(names)), slog.String("output", outputRoot))

	for i, name := range names {
		urls, _ := cat.URLs(name)
		o.logger.Info("Starting set.", slog.String("set", name), slog.Int("position", i+1), slog.Int("of", len(names)))

		res, err := o.RunSet(ctx, name, urls, filepath.Join(outputRoot, name))
		report.Sets = append(report.Sets, res)
		if err != nil {
			report.Duration = time.Since(start)
			o.record(ctx, name, db.Event{Event: db.EventRunAborted, Message: err.Error(), Duration: report.Duration})
			o.logger.Error("Run stopped before all sets were processed.", slog.String("set", name), slog.Int("completed_sets", i), "error", err)
			return report, fmt.Errorf("set %s: %w", name, err)
		}
	}

	report.Duration = time.Since(start)
	o.record(ctx, "", db.Event{
		Event:    db.EventRunDone,
		Message:  fmt.Sprintf("sets=%d download_failed=%d extract_failed=%d", len(report.Sets), report.DownloadFailures(), report.ExtractFailures()),
		Duration: report.Duration,
	})
	o.logger.Info("All selected sets downloaded and extracted.",
		slog.Int("sets", len(report.Sets)),
		slog.Int("download_failed", report.DownloadFailures()),
		slog.Int("extract_failed", report.ExtractFailures()),
		slog.Duration("duration", report.Duration.Round(time.Millisecond)),
	)
	return report, nil
}
