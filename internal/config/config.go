package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Maximum number of archives extracted at the same time for one set.
	DefaultMaxParallelExtractions = 3
	// Number of times a download is attempted before it is given up.
	DefaultDownloadAttempts = 3
	// Fixed pause between two attempts of the same download.
	DefaultRetryDelay = 3 * time.Second

	DefaultDbPath      = "./setfetch_state.duckdb"
	DefaultCatalogPath = "dataset_urls.json"
	DefaultOutputName  = "data"
)

// ConfigError reports invalid settings or inputs detected before any work starts.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config holds application settings
type Config struct {
	CatalogPath string
	OutputDir   string
	DbPath      string

	MaxParallelExtractions int
	DownloadAttempts       int
	AbortOnFailure         bool
	RetryDelay             time.Duration
	// RequestTimeout bounds a single download attempt. Zero lets attempts run to completion.
	RequestTimeout time.Duration
}

// Default returns the settings used when neither a config file nor flags say otherwise.
func Default() Config {
	return Config{
		CatalogPath:            DefaultCatalogPath,
		DbPath:                 DefaultDbPath,
		MaxParallelExtractions: DefaultMaxParallelExtractions,
		DownloadAttempts:       DefaultDownloadAttempts,
		RetryDelay:             DefaultRetryDelay,
	}
}

// DefaultOutputDir is <cwd>/data.
func DefaultOutputDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return DefaultOutputName
	}
	return filepath.Join(wd, DefaultOutputName)
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Catalog                string `yaml:"catalog"`
	OutputDir              string `yaml:"output_dir"`
	DbPath                 string `yaml:"db_path"`
	MaxParallelExtractions int    `yaml:"max_parallel_extractions"`
	DownloadAttempts       int    `yaml:"download_attempts"`
	AbortOnFailedDownload  *bool  `yaml:"abort_on_failed_download"`
	RetryDelay             string `yaml:"retry_delay"`
	RequestTimeout         string `yaml:"request_timeout"`
}

// LoadFromFile loads configuration from a YAML file on top of Default().
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Field: "file", Err: fmt.Errorf("read %s: %w", path, err)}
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, &ConfigError{Field: "file", Err: fmt.Errorf("parse %s: %w", path, err)}
	}

	cfg := Default()
	if yc.Catalog != "" {
		cfg.CatalogPath = yc.Catalog
	}
	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.DbPath != "" {
		cfg.DbPath = yc.DbPath
	}
	if yc.MaxParallelExtractions != 0 {
		cfg.MaxParallelExtractions = yc.MaxParallelExtractions
	}
	if yc.DownloadAttempts != 0 {
		cfg.DownloadAttempts = yc.DownloadAttempts
	}
	if yc.AbortOnFailedDownload != nil {
		cfg.AbortOnFailure = *yc.AbortOnFailedDownload
	}
	if yc.RetryDelay != "" {
		d, err := time.ParseDuration(yc.RetryDelay)
		if err != nil {
			return Config{}, &ConfigError{Field: "retry_delay", Err: err}
		}
		cfg.RetryDelay = d
	}
	if yc.RequestTimeout != "" {
		d, err := time.ParseDuration(yc.RequestTimeout)
		if err != nil {
			return Config{}, &ConfigError{Field: "request_timeout", Err: err}
		}
		cfg.RequestTimeout = d
	}
	return cfg, nil
}

// Validate checks the policy settings.
func (c Config) Validate() error {
	var errs []error
	if c.MaxParallelExtractions < 1 {
		errs = append(errs, &ConfigError{Field: "max_parallel_extractions", Err: fmt.Errorf("must be at least 1, got %d", c.MaxParallelExtractions)})
	}
	if c.DownloadAttempts < 1 {
		errs = append(errs, &ConfigError{Field: "download_attempts", Err: fmt.Errorf("must be at least 1, got %d", c.DownloadAttempts)})
	}
	if c.RetryDelay < 0 {
		errs = append(errs, &ConfigError{Field: "retry_delay", Err: fmt.Errorf("must not be negative, got %s", c.RetryDelay)})
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, &ConfigError{Field: "request_timeout", Err: fmt.Errorf("must not be negative, got %s", c.RequestTimeout)})
	}
	return errors.Join(errs...)
}

// PrepareOutputDir makes sure dir can be used as the output root. The parent
// must already exist; dir itself is created when missing.
func PrepareOutputDir(dir string) (string, error) {
	if dir == "" {
		return "", &ConfigError{Field: "output_dir", Err: errors.New("empty path")}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &ConfigError{Field: "output_dir", Err: err}
	}
	parent := filepath.Dir(abs)
	info, err := os.Stat(parent)
	if err != nil {
		return "", &ConfigError{Field: "output_dir", Err: fmt.Errorf("directory %s does not exist: %w", parent, err)}
	}
	if !info.IsDir() {
		return "", &ConfigError{Field: "output_dir", Err: fmt.Errorf("%s is not a directory", parent)}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", &ConfigError{Field: "output_dir", Err: fmt.Errorf("create %s: %w", abs, err)}
	}
	return abs, nil
}
