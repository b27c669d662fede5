package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/brensch/setfetch/internal/config"
	"github.com/brensch/setfetch/internal/util"
)

const partSuffix = ".part"

// DownloadError is returned once every attempt for a URL has failed.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error // cause of the last attempt
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Options configures retry behaviour.
type Options struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// RequestTimeout bounds one attempt. Zero means no bound.
	RequestTimeout time.Duration
}

// OptionsFromConfig picks the download settings out of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Attempts:       cfg.DownloadAttempts,
		RetryDelay:     cfg.RetryDelay,
		RequestTimeout: cfg.RequestTimeout,
	}
}

// Result describes a completed download.
type Result struct {
	Path     string
	Bytes    int64
	Attempts int
	Duration time.Duration
}

// Fetcher streams remote archives to disk, retrying failed attempts from scratch.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher. A nil client means util.DefaultHTTPClient().
func NewFetcher(client *http.Client, opts Options, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = util.DefaultHTTPClient()
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, opts: opts, logger: logger, wait: sleepCtx}
}

// Fetch downloads rawURL to dest. Each failed attempt discards whatever was
// written, so after a DownloadError nothing exists at dest.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) (Result, error) {
	l := f.logger.With(slog.String("url", rawURL), slog.String("dest", dest))
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
		if attempt > 1 {
			l.Info("Retrying download.", slog.Int("attempt", attempt), slog.Int("max_attempts", f.opts.Attempts), slog.Duration("delay", f.opts.RetryDelay))
			if err := f.wait(ctx, f.opts.RetryDelay); err != nil {
				return Result{}, &DownloadError{URL: rawURL, Attempts: attempt - 1, Err: errors.Join(lastErr, err)}
			}
		}

		n, err := f.attempt(ctx, rawURL, dest)
		if err == nil {
			res := Result{Path: dest, Bytes: n, Attempts: attempt, Duration: time.Since(start)}
			l.Debug("Download complete.", slog.Int64("bytes", n), slog.Int("attempt", attempt), slog.Duration("duration", res.Duration.Round(time.Millisecond)))
			return res, nil
		}
		lastErr = err
		l.Warn("Download attempt failed.", slog.Int("attempt", attempt), slog.Int("max_attempts", f.opts.Attempts), "error", err)

		if ctx.Err() != nil {
			return Result{}, &DownloadError{URL: rawURL, Attempts: attempt, Err: err}
		}
	}
	return Result{}, &DownloadError{URL: rawURL, Attempts: f.opts.Attempts, Err: lastErr}
}

// attempt performs one GET and streams the body into dest+".part", renaming on success.
func (f *Fetcher) attempt(ctx context.Context, rawURL, dest string) (int64, error) {
	if f.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", util.RandomUserAgent())
	req.Header.Set("Accept", "application/zip,application/octet-stream,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http do request: %w", err)
	}
	defer resp.Body.Close()

	if err := util.CheckResponse(resp); err != nil {
		return 0, err
	}

	partPath := dest + partSuffix
	out, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", partPath, err)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(partPath)
		return n, fmt.Errorf("write %s after %d bytes: %w", partPath, n, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		os.Remove(partPath)
		return n, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}

	if err := os.Rename(partPath, dest); err != nil {
		os.Remove(partPath)
		return n, fmt.Errorf("rename %s: %w", partPath, err)
	}
	return n, nil
}

// ArchiveName returns the file name a URL is saved under: its final unescaped
// path segment, ignoring query and fragment. A URL whose path ends in a slash
// has no file name.
func ArchiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	name := u.Path[strings.LastIndex(u.Path, "/")+1:]
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("url %s has no file name", rawURL)
	}
	return name, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
