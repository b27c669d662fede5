package extractor

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeZip creates a zip at path with the given name -> content entries.
// Names ending in "/" become directory entries.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractWritesEntriesAndDeletesArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "images.zip")
	writeZip(t, archive, map[string]string{
		"img/0001.png":     "png-1",
		"img/sub/0002.png": "png-2",
		"README.txt":       "hello",
		"empty/":           "",
	})

	stats, err := Extract(context.Background(), quietLogger(), archive, dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if stats.Files != 3 || stats.Dirs != 1 {
		t.Errorf("expected 3 files and 1 dir, got %d files %d dirs", stats.Files, stats.Dirs)
	}
	if stats.RemoveErr != nil {
		t.Errorf("unexpected remove error: %v", stats.RemoveErr)
	}

	for name, want := range map[string]string{
		"img/0001.png":     "png-1",
		"img/sub/0002.png": "png-2",
		"README.txt":       "hello",
	} {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("read %s: %v", name, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}
	if info, err := os.Stat(filepath.Join(dir, "empty")); err != nil || !info.IsDir() {
		t.Error("expected directory entry to be created")
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Error("archive should be deleted after successful extraction")
	}
}

func TestExtractRejectsZipSlip(t *testing.T) {
	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/evil.txt"} {
		t.Run(name, func(t *testing.T) {
			base := t.TempDir()
			target := filepath.Join(base, "set")
			if err := os.Mkdir(target, 0o755); err != nil {
				t.Fatal(err)
			}
			archive := filepath.Join(target, "evil.zip")
			writeZip(t, archive, map[string]string{
				"good.txt": "fine",
				name:       "pwned",
			})

			_, err := Extract(context.Background(), quietLogger(), archive, target)
			if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("expected ErrUnsafePath, got %v", err)
			}
			var exErr *ExtractError
			if !errors.As(err, &exErr) || exErr.Entry != name {
				t.Errorf("expected ExtractError naming %q, got %v", name, err)
			}
			if _, err := os.Stat(filepath.Join(base, "evil.txt")); !os.IsNotExist(err) {
				t.Error("entry escaped the target directory")
			}
			if _, err := os.Stat(filepath.Join(target, "good.txt")); !os.IsNotExist(err) {
				t.Error("nothing should be written when an entry is unsafe")
			}
			if _, err := os.Stat(archive); err != nil {
				t.Error("failed extraction must keep the archive")
			}
		})
	}
}

func TestExtractCorruptArchiveKeepsFile(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "broken.zip")
	if err := os.WriteFile(archive, []byte("definitely not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Extract(context.Background(), quietLogger(), archive, dir)
	var exErr *ExtractError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected ExtractError, got %v", err)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Error("corrupt archive must not be deleted")
	}
}

func TestExtractCancelled(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	writeZip(t, archive, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Extract(ctx, quietLogger(), archive, dir)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Error("cancelled extraction must keep the archive")
	}
}

func TestSafeJoin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "data", "set")
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"a.txt", false},
		{"dir/a.txt", false},
		{"dir/../a.txt", false},
		{"..", true},
		{"../a.txt", true},
		{"/abs.txt", true},
		{"", true},
		{"..a.txt", false},
	}
	for _, tt := range tests {
		_, err := safeJoin(root, tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("safeJoin(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
