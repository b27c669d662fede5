// Package discover builds a catalog by collecting the .zip links of HTML
// index pages, one page per set.
package discover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/setfetch/internal/catalog"
	"github.com/brensch/setfetch/internal/util"
)

// maxConcurrentPages caps the number of index pages fetched at once.
const maxConcurrentPages = 4

// maxPageSize guards against index pages that are not really index pages.
const maxPageSize = 32 << 20

// Source names a set and the page listing its archives.
type Source struct {
	Name     string
	IndexURL string
}

// Discover fetches every source page and returns a catalog with one set per
// source, in the order given. Links are resolved against the page URL and
// deduplicated, keeping document order.
//
// A source that cannot be fetched or has no archive links is left out and its
// error joined into the returned error; the catalog holds whatever succeeded.
func Discover(ctx context.Context, client *http.Client, logger *slog.Logger, sources []Source) (*catalog.Catalog, error) {
	if client == nil {
		client = util.DefaultHTTPClient()
	}
	logger.Info("Discovering archive URLs.", slog.Int("sources", len(sources)))

	links := make([][]string, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(maxConcurrentPages)
	for i, src := range sources {
		g.Go(func() error {
			l := logger.With(slog.String("set", src.Name), slog.String("index_url", src.IndexURL))
			found, err := fetchZipLinks(ctx, client, src.IndexURL)
			if err != nil {
				l.Warn("Skip: index page failed.", "error", err)
				errs[i] = fmt.Errorf("set %s: %w", src.Name, err)
				return nil
			}
			if len(found) == 0 {
				l.Warn("Skip: no archive links on index page.")
				errs[i] = fmt.Errorf("set %s: no .zip links at %s", src.Name, src.IndexURL)
				return nil
			}
			l.Debug("Index page checked.", slog.Int("archives", len(found)))
			links[i] = found
			return nil
		})
	}
	// Workers report through errs; Wait only returns nil here.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Join(append(errs, err)...)
	}

	var sets []catalog.Set
	for i, src := range sources {
		if links[i] != nil {
			sets = append(sets, catalog.Set{Name: src.Name, URLs: links[i]})
		}
	}
	discoveryErr := errors.Join(errs...)
	if len(sets) == 0 {
		return nil, errors.Join(discoveryErr, catalog.ErrEmptyCatalog)
	}

	cat, err := catalog.New(sets)
	if err != nil {
		return nil, errors.Join(discoveryErr, err)
	}
	logger.Info("Discovery complete.", slog.Int("sets", cat.Len()))
	return cat, discoveryErr
}

func fetchZipLinks(ctx context.Context, client *http.Client, indexURL string) ([]string, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("parse base %s: %w", indexURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", indexURL, err)
	}
	req.Header.Set("User-Agent", util.RandomUserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover GET %s: %w", indexURL, err)
	}
	defer resp.Body.Close()
	if err := util.CheckResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("discover read %s: %w", indexURL, err)
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("discover parse HTML %s: %w", indexURL, err)
	}

	seen := make(map[string]bool)
	var out []string
	for _, href := range util.ParseLinks(root, ".zip") {
		abs, err := base.Parse(href)
		if err != nil {
			continue
		}
		abs.Fragment = ""
		s := abs.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}
