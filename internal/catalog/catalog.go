// Package catalog loads the ordered mapping of set names to archive URLs and
// resolves operator selections against it.
//
// The catalog document is a flat mapping from set name to a list of URLs,
// written in YAML or JSON:
//
//	{"train": ["https://host/train_1.zip", "https://host/train_2.zip"],
//	 "test":  ["https://host/test.zip"]}
//
// Key order is significant: it is both the display order and the processing order.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gopkg.in/yaml.v3"

	"github.com/brensch/setfetch/internal/config"
)

var ErrEmptyCatalog = errors.New("catalog: no sets defined")

// Set is one named group of archive URLs.
type Set struct {
	Name string
	URLs []string
}

// Catalog is an ordered, immutable list of sets.
type Catalog struct {
	sets  []Set
	index map[string]int
}

// New builds a catalog from sets in the given order.
func New(sets []Set) (*Catalog, error) {
	if len(sets) == 0 {
		return nil, &config.ConfigError{Field: "catalog", Err: ErrEmptyCatalog}
	}
	c := &Catalog{
		sets:  make([]Set, 0, len(sets)),
		index: make(map[string]int, len(sets)),
	}
	for _, s := range sets {
		if s.Name == "" {
			return nil, &config.ConfigError{Field: "catalog", Err: errors.New("empty set name")}
		}
		if s.Name == "." || s.Name == ".." || strings.ContainsAny(s.Name, `/\`) {
			return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("set name %q is not a single path element", s.Name)}
		}
		if _, dup := c.index[s.Name]; dup {
			return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("duplicate set name %q", s.Name)}
		}
		c.index[s.Name] = len(c.sets)
		c.sets = append(c.sets, Set{Name: s.Name, URLs: append([]string(nil), s.URLs...)})
	}
	return c, nil
}

// Len returns the number of sets.
func (c *Catalog) Len() int { return len(c.sets) }

// Names returns set names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.sets))
	for i, s := range c.sets {
		names[i] = s.Name
	}
	return names
}

// Sets returns a copy of all sets in catalog order.
func (c *Catalog) Sets() []Set {
	out := make([]Set, len(c.sets))
	for i, s := range c.sets {
		out[i] = Set{Name: s.Name, URLs: append([]string(nil), s.URLs...)}
	}
	return out
}

// URLs returns the URL list of the named set.
func (c *Catalog) URLs(name string) ([]string, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), c.sets[i].URLs...), true
}

// Parse decodes a catalog document. JSON input is accepted since it is valid YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("parse: %w", err)}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &config.ConfigError{Field: "catalog", Err: ErrEmptyCatalog}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("line %d: expected a mapping of set name to URL list", root.Line)}
	}

	sets := make([]Set, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("line %d: set name must be a string", key.Line)}
		}
		if val.Kind != yaml.SequenceNode {
			return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("line %d: set %q must map to a list of URLs", val.Line, key.Value)}
		}
		urls := make([]string, 0, len(val.Content))
		for _, item := range val.Content {
			if item.Kind != yaml.ScalarNode || item.Value == "" {
				return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("line %d: set %q contains a non-URL entry", item.Line, key.Value)}
			}
			urls = append(urls, item.Value)
		}
		sets = append(sets, Set{Name: key.Value, URLs: urls})
	}
	return New(sets)
}

// Encode writes the catalog as YAML, keeping set order.
func (c *Catalog) Encode(w io.Writer) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range c.sets {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, u := range s.URLs {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: u})
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.Name},
			seq,
		)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return enc.Close()
}

// Load reads a catalog from a local path or from a bucket URL such as
// s3://bucket/catalogs/images.yaml or file:///srv/catalog.json.
func Load(ctx context.Context, location string) (*Catalog, error) {
	if !strings.Contains(location, "://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("read %s: %w", location, err)}
		}
		return Parse(data)
	}

	bucketURL, key, err := splitBucketURL(location)
	if err != nil {
		return nil, &config.ConfigError{Field: "catalog", Err: err}
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("open bucket %s: %w", bucketURL, err)}
	}
	defer bucket.Close()
	return LoadFromBucket(ctx, bucket, key)
}

// LoadFromBucket reads the catalog stored under key.
func LoadFromBucket(ctx context.Context, bucket *blob.Bucket, key string) (*Catalog, error) {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("open %s: %w", key, err)}
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, &config.ConfigError{Field: "catalog", Err: fmt.Errorf("read %s: %w", key, err)}
	}
	return Parse(buf.Bytes())
}

// splitBucketURL separates scheme://bucket/some/key into the bucket URL and the key.
// For file:// URLs the bucket is the containing directory.
func splitBucketURL(location string) (string, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", location, err)
	}
	if u.Scheme == "file" {
		dir, file := path.Split(u.Path)
		if file == "" {
			return "", "", fmt.Errorf("%s does not name a file", location)
		}
		b := url.URL{Scheme: "file", Path: dir, RawQuery: u.RawQuery}
		return b.String(), file, nil
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("%s must look like scheme://bucket/key", location)
	}
	b := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return b.String(), key, nil
}
