package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestFetcher records pauses instead of sleeping.
func newTestFetcher(attempts int, pauses *int) *Fetcher {
	f := NewFetcher(nil, Options{Attempts: attempts, RetryDelay: 3 * time.Second}, quietLogger())
	f.wait = func(ctx context.Context, d time.Duration) error {
		*pauses++
		return ctx.Err()
	}
	return f
}

func TestFetchSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("archive-bytes-"), 50000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a user agent")
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}))
	defer server.Close()

	var pauses int
	f := newTestFetcher(3, &pauses)
	dest := filepath.Join(t.TempDir(), "1.zip")

	res, err := f.Fetch(context.Background(), server.URL+"/1.zip", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if res.Bytes != int64(len(payload)) {
		t.Errorf("expected %d bytes, got %d", len(payload), res.Bytes)
	}
	if pauses != 0 {
		t.Errorf("expected no pauses, got %d", pauses)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("downloaded file differs from remote content")
	}
	if _, err := os.Stat(dest + partSuffix); !os.IsNotExist(err) {
		t.Error("partial file should be gone")
	}
}

func TestFetchRetriesUntilSuccess(t *testing.T) {
	payload := []byte("PK-third-time-lucky")
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	var pauses int
	f := newTestFetcher(3, &pauses)
	dest := filepath.Join(t.TempDir(), "2.zip")

	res, err := f.Fetch(context.Background(), server.URL+"/2.zip", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() != 3 || res.Attempts != 3 {
		t.Errorf("expected 3 attempts, server saw %d, result says %d", calls.Load(), res.Attempts)
	}
	if pauses != 2 {
		t.Errorf("expected 2 pauses, got %d", pauses)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Errorf("unexpected content %q", got)
	}
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "gone fishing", http.StatusInternalServerError)
	}))
	defer server.Close()

	var pauses int
	f := newTestFetcher(3, &pauses)
	dest := filepath.Join(t.TempDir(), "3.zip")

	_, err := f.Fetch(context.Background(), server.URL+"/3.zip", dest)
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if dlErr.Attempts != 3 {
		t.Errorf("expected 3 attempts in error, got %d", dlErr.Attempts)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", calls.Load())
	}
	if pauses != 2 {
		t.Errorf("expected 2 pauses, got %d", pauses)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination must not exist after failure")
	}
}

func TestFetchTruncatedBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Promise more than we send, then hang up.
			w.Header().Set("Content-Length", "1000")
			w.Write([]byte("partial"))
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.Write([]byte("complete"))
	}))
	defer server.Close()

	var pauses int
	f := newTestFetcher(2, &pauses)
	dest := filepath.Join(t.TempDir(), "t.zip")

	if _, err := f.Fetch(context.Background(), server.URL+"/t.zip", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "complete" {
		t.Errorf("expected restart from scratch, got %q", got)
	}
}

func TestFetchCancelledDuringPause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(nil, Options{Attempts: 5, RetryDelay: time.Hour}, quietLogger())
	f.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(ctx, d)
	}

	_, err := f.Fetch(ctx, server.URL+"/x.zip", filepath.Join(t.TempDir(), "x.zip"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var dlErr *DownloadError
	if errors.As(err, &dlErr) && dlErr.Attempts != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", dlErr.Attempts)
	}
}

func TestFetchRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := NewFetcher(nil, Options{Attempts: 1, RequestTimeout: 50 * time.Millisecond}, quietLogger())
	_, err := f.Fetch(context.Background(), server.URL+"/slow.zip", filepath.Join(t.TempDir(), "slow.zip"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		url       string
		want      string
		expectErr bool
	}{
		{"http://x/1.zip", "1.zip", false},
		{"https://host/path/to/images%20part1.zip?token=abc#frag", "images part1.zip", false},
		{"https://host/dir/", "", true},
		{"https://host/images/part1.zip/", "", true},
		{"https://host/a/..", "", true},
		{"https://host/a/.", "", true},
		{"https://host/", "", true},
		{"https://host", "", true},
		{"://bad", "", true},
	}

	for _, tt := range tests {
		got, err := ArchiveName(tt.url)
		if tt.expectErr {
			if err == nil {
				t.Errorf("ArchiveName(%q): expected error, got %q", tt.url, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ArchiveName(%q): %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ArchiveName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
