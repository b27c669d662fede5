package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brensch/setfetch/internal/config"
	"github.com/brensch/setfetch/internal/db"
	"github.com/brensch/setfetch/internal/downloader"
	"github.com/brensch/setfetch/internal/extractor"
)

// ErrAborted is returned when a download exhausted its attempts and the
// abort-on-failure policy is set.
var ErrAborted = errors.New("run aborted after failed download")

// Downloader fetches one URL to a local path.
type Downloader interface {
	Fetch(ctx context.Context, url, dest string) (downloader.Result, error)
}

// Recorder receives journal events. A nil Recorder discards them.
type Recorder interface {
	RecordEvent(ctx context.Context, ev db.Event) error
}

// CompletionSource reports the URLs of a set that were already extracted by an
// earlier run.
type CompletionSource interface {
	CompletedURLs(ctx context.Context, setName string) (map[string]bool, error)
}

// Orchestrator drives the download and extraction of selected sets.
type Orchestrator struct {
	cfg        config.Config
	logger     *slog.Logger
	downloader Downloader
	extract    ExtractFunc
	recorder   Recorder
	completed  CompletionSource
	runID      string
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithDownloader replaces the HTTP fetcher.
func WithDownloader(d Downloader) Option {
	return func(o *Orchestrator) { o.downloader = d }
}

// WithExtractFunc replaces the zip extractor.
func WithExtractFunc(fn ExtractFunc) Option {
	return func(o *Orchestrator) { o.extract = fn }
}

// WithRecorder sends progress events to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRunID tags every recorded event and log line with id.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithSkipCompleted skips URLs that src reports as already extracted.
func WithSkipCompleted(src CompletionSource) Option {
	return func(o *Orchestrator) { o.completed = src }
}

// New validates cfg and builds an Orchestrator. Without options it downloads
// over HTTP with the configured retry policy and extracts zip archives.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID != "" {
		o.logger = o.logger.With(slog.String("run_id", o.runID))
	}
	if o.downloader == nil {
		o.downloader = downloader.NewFetcher(nil, downloader.OptionsFromConfig(cfg), o.logger)
	}
	if o.extract == nil {
		o.extract = o.extractZip
	}
	return o, nil
}

func (o *Orchestrator) extractZip(ctx context.Context, archivePath, targetDir string) error {
	stats, err := extractor.Extract(ctx, o.logger, archivePath, targetDir)
	if err != nil {
		return err
	}
	o.logger.Debug("Archive contents written.",
		slog.String("archive", archivePath),
		slog.Int("files", stats.Files),
		slog.Int("dirs", stats.Dirs),
		slog.Int64("bytes", stats.Bytes),
	)
	return nil
}

// record writes ev to the journal. Failures are logged and otherwise ignored,
// and a cancelled run still gets its final events written.
func (o *Orchestrator) record(ctx context.Context, setName string, ev db.Event) {
	if o.recorder == nil {
		return
	}
	if ev.RunID == "" {
		ev.RunID = o.runID
	}
	if ev.SetName == "" {
		ev.SetName = setName
	}
	if err := o.recorder.RecordEvent(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn("Failed to record event.", slog.String("event", ev.Event), "error", fmt.Errorf("journal: %w", err))
	}
}
