package extractor

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsafePath marks an entry that would be written outside the target directory.
var ErrUnsafePath = errors.New("entry escapes target directory")

// ExtractError describes a failed extraction. Entry is empty when the failure
// is not tied to one archive member.
type ExtractError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *ExtractError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extract %s (entry %q): %v", filepath.Base(e.Archive), e.Entry, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", filepath.Base(e.Archive), e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Stats summarises one extraction.
type Stats struct {
	Files    int
	Dirs     int
	Bytes    int64
	Duration time.Duration
	// RemoveErr is set when the archive could not be deleted afterwards.
	RemoveErr error
}

// Extract unpacks every entry of the zip at archivePath into targetDir and then
// deletes the archive. Every entry is checked before anything is written, so an
// archive with an unsafe entry leaves targetDir untouched. A failed extraction
// never deletes the archive. Failing to delete it after success is reported in
// Stats.RemoveErr and logged, not returned.
func Extract(ctx context.Context, logger *slog.Logger, archivePath, targetDir string) (Stats, error) {
	start := time.Now()
	l := logger.With(slog.String("archive", filepath.Base(archivePath)))

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return Stats{}, &ExtractError{Archive: archivePath, Err: err}
	}

	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) && zr != nil {
		// Entry names are vetted below.
		err = nil
	}
	if err != nil {
		return Stats{}, &ExtractError{Archive: archivePath, Err: fmt.Errorf("open zip: %w", err)}
	}

	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		dest, err := safeJoin(root, f.Name)
		if err != nil {
			zr.Close()
			return Stats{}, &ExtractError{Archive: archivePath, Entry: f.Name, Err: err}
		}
		if f.Mode()&os.ModeSymlink != 0 {
			zr.Close()
			return Stats{}, &ExtractError{Archive: archivePath, Entry: f.Name, Err: fmt.Errorf("symlink entries are not supported: %w", ErrUnsafePath)}
		}
		targets[i] = dest
	}

	var stats Stats
	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			zr.Close()
			return stats, &ExtractError{Archive: archivePath, Err: err}
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0o755); err != nil {
				zr.Close()
				return stats, &ExtractError{Archive: archivePath, Entry: f.Name, Err: err}
			}
			stats.Dirs++
			continue
		}
		n, err := writeEntry(f, targets[i])
		if err != nil {
			zr.Close()
			return stats, &ExtractError{Archive: archivePath, Entry: f.Name, Err: err}
		}
		stats.Files++
		stats.Bytes += n
	}

	// The reader holds the file open; close it before removal.
	if err := zr.Close(); err != nil {
		l.Warn("Failed to close archive reader.", "error", err)
	}
	if err := os.Remove(archivePath); err != nil {
		stats.RemoveErr = err
		l.Warn("Extracted archive but could not delete it.", "error", err)
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

func writeEntry(f *zip.File, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry: %w", err)
	}
	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		rc.Close()
		return 0, err
	}
	n, copyErr := io.Copy(out, rc)
	closeOutErr := out.Close()
	closeRcErr := rc.Close()
	if err := errors.Join(copyErr, closeOutErr, closeRcErr); err != nil {
		return n, err
	}
	return n, nil
}

// safeJoin resolves name under root and rejects anything that would land outside it.
func safeJoin(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty entry name: %w", ErrUnsafePath)
	}
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("absolute path: %w", ErrUnsafePath)
	}
	dest := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, dest)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrUnsafePath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return dest, nil
}
