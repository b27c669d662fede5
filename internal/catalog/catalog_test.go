package catalog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gocloud.dev/blob/memblob"

	"github.com/brensch/setfetch/internal/config"
)

const jsonCatalog = `{
  "zeta": ["http://x/3.zip"],
  "alpha": ["http://x/1.zip", "http://x/2.zip", "http://x/1.zip"]
}`

func TestParseKeepsOrder(t *testing.T) {
	c, err := Parse([]byte(jsonCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := c.Names(); !reflect.DeepEqual(got, []string{"zeta", "alpha"}) {
		t.Errorf("unexpected order %v", got)
	}
	urls, ok := c.URLs("alpha")
	if !ok {
		t.Fatal("alpha missing")
	}
	want := []string{"http://x/1.zip", "http://x/2.zip", "http://x/1.zip"}
	if !reflect.DeepEqual(urls, want) {
		t.Errorf("expected %v, got %v", want, urls)
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
first:
  - http://x/a.zip
second: []
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 sets, got %d", c.Len())
	}
	urls, _ := c.URLs("second")
	if len(urls) != 0 {
		t.Errorf("expected empty set, got %v", urls)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"list root", `["http://x/1.zip"]`},
		{"scalar value", `{"a": "http://x/1.zip"}`},
		{"nested list", `{"a": [["http://x/1.zip"]]}`},
		{"duplicate set", "a: [http://x/1.zip]\na: [http://x/2.zip]\n"},
		{"empty mapping", `{}`},
		{"path in set name", `{"a/b": ["http://x/1.zip"]}`},
		{"dot dot set name", `{"..": ["http://x/1.zip"]}`},
		{"garbage", `{"a": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var cfgErr *config.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestEncodeRoundTripKeepsOrder(t *testing.T) {
	c, err := New([]Set{
		{Name: "b", URLs: []string{"http://x/b.zip"}},
		{Name: "a", URLs: []string{"http://x/a1.zip", "http://x/a2.zip"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse encoded: %v\n%s", err, buf.String())
	}
	if !reflect.DeepEqual(back.Sets(), c.Sets()) {
		t.Errorf("round trip mismatch: %v vs %v", back.Sets(), c.Sets())
	}
}

func TestLoadLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset_urls.json")
	if err := os.WriteFile(path, []byte(jsonCatalog), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 sets, got %d", c.Len())
	}
}

func TestLoadFileURL(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(jsonCatalog), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(context.Background(), "file://"+filepath.ToSlash(dir)+"/catalog.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Names()[0] != "zeta" {
		t.Errorf("unexpected first set %q", c.Names()[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestLoadFromBucket(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	if err := bucket.WriteAll(ctx, "catalogs/images.json", []byte(jsonCatalog), nil); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFromBucket(ctx, bucket, "catalogs/images.json")
	if err != nil {
		t.Fatalf("LoadFromBucket: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 sets, got %d", c.Len())
	}

	if _, err := LoadFromBucket(ctx, bucket, "catalogs/missing.json"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestSplitBucketURL(t *testing.T) {
	tests := []struct {
		in        string
		bucket    string
		key       string
		expectErr bool
	}{
		{"s3://my-bucket/catalogs/a.yaml", "s3://my-bucket", "catalogs/a.yaml", false},
		{"gs://b/a.json?x=1", "gs://b?x=1", "a.json", false},
		{"file:///srv/data/catalog.json", "file:///srv/data/", "catalog.json", false},
		{"s3://bucket-only", "", "", true},
		{"file:///srv/data/", "", "", true},
	}

	for _, tt := range tests {
		bucket, key, err := splitBucketURL(tt.in)
		if tt.expectErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", tt.in, bucket, key, tt.bucket, tt.key)
		}
	}
}
