package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/setfetch/internal/config"
	"github.com/brensch/setfetch/internal/discover"
)

var (
	discoverSources []string
	discoverOut     string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Build a catalog from HTML index pages",
	Long: `Fetches one index page per set and collects its .zip links, in page order,
into a catalog that 'fetch' can use.

  setfetch discover --set train=https://host/train/ --set test=https://host/test/ -o catalog.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()

		sources, err := parseSources(discoverSources)
		if err != nil {
			return err
		}

		cat, discoveryErr := discover.Discover(cmd.Context(), nil, logger, sources)
		if cat == nil {
			return fmt.Errorf("discover failed: %w", discoveryErr)
		}
		if discoveryErr != nil {
			logger.Warn("Some index pages were skipped.", "error", discoveryErr)
		}

		var w io.Writer = cmd.OutOrStdout()
		if discoverOut != "" && discoverOut != "-" {
			f, err := os.Create(discoverOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", discoverOut, err)
			}
			defer f.Close()
			w = f
		}
		if err := cat.Encode(w); err != nil {
			return err
		}
		if discoverOut != "" && discoverOut != "-" {
			logger.Info("Catalog written.", slog.String("path", discoverOut), slog.Int("sets", cat.Len()))
		}
		return nil
	},
}

// parseSources turns name=url flag values into sources, keeping flag order.
func parseSources(values []string) ([]discover.Source, error) {
	if len(values) == 0 {
		return nil, &config.ConfigError{Field: "set", Err: fmt.Errorf("at least one --set name=url is required")}
	}
	sources := make([]discover.Source, 0, len(values))
	for _, v := range values {
		name, indexURL, ok := strings.Cut(v, "=")
		name, indexURL = strings.TrimSpace(name), strings.TrimSpace(indexURL)
		if !ok || name == "" || indexURL == "" {
			return nil, &config.ConfigError{Field: "set", Err: fmt.Errorf("%q is not name=url", v)}
		}
		sources = append(sources, discover.Source{Name: name, IndexURL: indexURL})
	}
	return sources, nil
}

func init() {
	discoverCmd.Flags().StringArrayVar(&discoverSources, "set", nil, "Set name and index page as name=url (repeatable, order kept)")
	discoverCmd.Flags().StringVarP(&discoverOut, "out", "o", "", "Write the catalog to this file instead of stdout")
}
