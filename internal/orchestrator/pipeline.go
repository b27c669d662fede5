package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brensch/setfetch/internal/db"
	"github.com/brensch/setfetch/internal/downloader"
)

// SetResult summarises one set.
type SetResult struct {
	Name string
	Dir  string

	Downloaded    int
	Failed        int
	Skipped       int
	Extracted     int
	ExtractFailed int

	DownloadErrors []error
	// ExtractErr joins every extraction failure of the set.
	ExtractErr error
	Duration   time.Duration
}

// RunSet downloads urls one at a time into setDir and hands each archive to a
// scheduler that extracts up to MaxParallelExtractions of them concurrently.
// It returns only after every submitted extraction has finished.
//
// A download that exhausts its attempts is skipped, or, with AbortOnFailure,
// stops the set and RunSet returns an error wrapping ErrAborted. Extraction
// failures are reported in the result, not as an error.
func (o *Orchestrator) RunSet(ctx context.Context, setName string, urls []string, setDir string) (SetResult, error) {
	start := time.Now()
	l := o.logger.With(slog.String("set", setName))
	res := SetResult{Name: setName, Dir: setDir}

	if err := os.MkdirAll(setDir, 0o755); err != nil {
		return res, fmt.Errorf("create set directory %s: %w", setDir, err)
	}
	l.Info("Processing set.", slog.String("dir", setDir), slog.Int("urls", len(urls)))

	var done map[string]bool
	if o.completed != nil {
		var err error
		done, err = o.completed.CompletedURLs(ctx, setName)
		if err != nil {
			l.Warn("Could not read completed archives, downloading everything.", "error", err)
			done = nil
		}
	}

	record := func(ctx context.Context, ev db.Event) { o.record(ctx, setName, ev) }
	sched := NewScheduler(ctx, o.cfg.MaxParallelExtractions, o.extract, l, record)
	names := newNameAllocator()

	var runErr error
	for i, rawURL := range urls {
		if err := ctx.Err(); err != nil {
			l.Warn("Set cancelled before all downloads were attempted.", slog.Int("remaining", len(urls)-i))
			runErr = err
			break
		}
		ul := l.With(slog.String("url", rawURL))

		if done[rawURL] {
			ul.Info("Skipping archive extracted by an earlier run.")
			res.Skipped++
			record(ctx, db.Event{URL: rawURL, Event: db.EventSkipDownload, Message: "already extracted"})
			continue
		}

		name, err := downloader.ArchiveName(rawURL)
		if err != nil {
			if runErr = o.downloadFailed(ctx, ul, setName, &res, &downloader.DownloadError{URL: rawURL, Err: err}); runErr != nil {
				break
			}
			continue
		}
		dest := filepath.Join(setDir, names.next(name))

		ul.Info("Downloading archive.", slog.Int("index", i+1), slog.Int("total", len(urls)), slog.String("dest", dest))
		record(ctx, db.Event{URL: rawURL, ArchivePath: dest, Event: db.EventDownloadStart})

		dl, err := o.downloader.Fetch(ctx, rawURL, dest)
		if err != nil {
			if ctx.Err() != nil {
				record(ctx, db.Event{URL: rawURL, ArchivePath: dest, Event: db.EventDownloadFailed, Attempt: attemptsOf(err), Message: err.Error()})
				res.Failed++
				res.DownloadErrors = append(res.DownloadErrors, err)
				runErr = ctx.Err()
				break
			}
			if runErr = o.downloadFailed(ctx, ul, setName, &res, err); runErr != nil {
				break
			}
			continue
		}

		res.Downloaded++
		archivePath := dl.Path
		if archivePath == "" {
			archivePath = dest
		}
		ul.Info("Downloaded archive.", slog.Int64("bytes", dl.Bytes), slog.Int("attempts", dl.Attempts), slog.Duration("duration", dl.Duration.Round(time.Millisecond)))
		record(ctx, db.Event{URL: rawURL, ArchivePath: archivePath, Event: db.EventDownloadEnd, Attempt: dl.Attempts, Duration: dl.Duration})

		if err := sched.Submit(ExtractionJob{URL: rawURL, ArchivePath: archivePath, TargetDir: setDir}); err != nil {
			// Only possible after Drain, which happens below.
			return res, fmt.Errorf("submit %s: %w", archivePath, err)
		}
	}

	// Extraction failures surface before the set is reported done.
	results, extractErr := sched.Drain()
	for _, r := range results {
		if r.Err != nil {
			res.ExtractFailed++
		} else {
			res.Extracted++
		}
	}
	res.ExtractErr = extractErr
	res.Duration = time.Since(start)

	if runErr != nil {
		l.Warn("Set stopped early.",
			slog.Int("downloaded", res.Downloaded),
			slog.Int("extracted", res.Extracted),
			"error", runErr,
		)
		return res, runErr
	}

	if res.ExtractFailed > 0 {
		l.Warn("Some archives of the set failed to extract.", slog.Int("extract_failed", res.ExtractFailed), "error", extractErr)
	}
	l.Info("Done downloading and extracting set.",
		slog.Int("downloaded", res.Downloaded),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int("extracted", res.Extracted),
		slog.Int("extract_failed", res.ExtractFailed),
		slog.Duration("duration", res.Duration.Round(time.Millisecond)),
	)
	record(ctx, db.Event{
		Event:    db.EventSetDone,
		Message:  fmt.Sprintf("downloaded=%d failed=%d skipped=%d extracted=%d extract_failed=%d", res.Downloaded, res.Failed, res.Skipped, res.Extracted, res.ExtractFailed),
		Duration: res.Duration,
	})
	return res, nil
}

// downloadFailed applies the abort-or-skip policy to a definitive download
// failure. It returns a non-nil error only when the run must stop.
func (o *Orchestrator) downloadFailed(ctx context.Context, l *slog.Logger, setName string, res *SetResult, err error) error {
	res.Failed++
	res.DownloadErrors = append(res.DownloadErrors, err)

	var dlErr *downloader.DownloadError
	ev := db.Event{Event: db.EventDownloadFailed, Attempt: attemptsOf(err), Message: err.Error()}
	if errors.As(err, &dlErr) {
		ev.URL = dlErr.URL
	}
	o.record(ctx, setName, ev)

	if o.cfg.AbortOnFailure {
		l.Error("Download failed, aborting run.", "error", err)
		return fmt.Errorf("%w: set %s: %w", ErrAborted, setName, err)
	}
	l.Error("Download failed, skipping archive.", "error", err)
	return nil
}

func attemptsOf(err error) int {
	var dlErr *downloader.DownloadError
	if errors.As(err, &dlErr) {
		return dlErr.Attempts
	}
	return 0
}

// nameAllocator hands out archive file names that are unique within one set
// directory: a.zip, a_2.zip, a_3.zip...
type nameAllocator struct {
	taken map[string]bool
}

func newNameAllocator() *nameAllocator {
	return &nameAllocator{taken: make(map[string]bool)}
}

func (a *nameAllocator) next(name string) string {
	if !a.taken[name] {
		a.taken[name] = true
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := stem + "_" + strconv.Itoa(n) + ext
		if !a.taken[candidate] {
			a.taken[candidate] = true
			return candidate
		}
	}
}
