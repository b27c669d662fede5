package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/setfetch/internal/config"
	"github.com/brensch/setfetch/internal/db"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/spf13/cobra"
)

var (
	// Persistent flags - bound in init()
	cfgFile     string
	catalogPath string
	dbPath      string
	logFormat   string
	logLevel    string
	logOutput   string

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	appConfig  config.Config
	dbConn     *sql.DB
)

// errJournalDisabled is returned by commands that need the journal when --db-path is empty.
var errJournalDisabled = errors.New("journal disabled: set --db-path")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "setfetch",
	Short: "Download named sets of zip archives and extract them.",
	Long: `setfetch reads a catalog of named sets, each a list of archive URLs, downloads
the sets you pick one at a time and extracts every archive into <output>/<set>.

Downloads of a set run one after another with retries; extraction runs in parallel
with the downloads. Progress is tracked in a DuckDB event journal.

The primary command is 'fetch'. Other commands list the catalog, build a catalog
from index pages, or show and export the journal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Initialize Logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		if logOutput != "" && strings.ToLower(logOutput) != "stderr" {
			if strings.ToLower(logOutput) == "stdout" {
				logWriter = os.Stdout
			} else {
				// Left open until exit.
				f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err != nil {
					return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
				}
				logWriter = f
			}
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", level.String(), "format", logFormat, "output", logOutput)

		// --- 2. Load Config (defaults, then file, then flags) ---
		cfg := config.Default()
		if cfgFile != "" {
			var err error
			cfg, err = config.LoadFromFile(cfgFile)
			if err != nil {
				return err
			}
			rootLogger.Debug("Loaded config file.", slog.String("path", cfgFile))
		}
		flags := cmd.Flags()
		if flags.Changed("catalog") {
			cfg.CatalogPath = catalogPath
		}
		if flags.Changed("db-path") {
			cfg.DbPath = dbPath
		}
		appConfig = cfg
		rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(setsCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(saveCmd)

	err := rootCmd.ExecuteContext(context.Background())
	closeDB()
	if err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&catalogPath, "catalog", "c", config.DefaultCatalogPath, "Catalog file path or bucket URL (s3://, gs://, file://)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", config.DefaultDbPath, "Path to DuckDB journal file (:memory: for in-memory, empty to disable)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getConfig() config.Config {
	return appConfig
}

// getDB opens the journal on first use. It returns nil without error when the
// journal is disabled.
func getDB(ctx context.Context) (*sql.DB, error) {
	if dbConn != nil {
		return dbConn, nil
	}
	path := appConfig.DbPath
	if path == "" {
		return nil, nil
	}
	logger := getLogger()

	if path != ":memory:" {
		dbDir := filepath.Dir(path)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}
	dsn := path
	if path == ":memory:" {
		dsn = ""
	}

	logger.Debug("Initializing DuckDB connection", "path", path)
	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database (%s): %w", path, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
	}
	if err := db.InitializeSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	logger.Debug("Database schema initialized successfully.")
	dbConn = conn
	return dbConn, nil
}

// requireDB is getDB for commands that cannot work without the journal.
func requireDB(ctx context.Context) (*sql.DB, error) {
	conn, err := getDB(ctx)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errJournalDisabled
	}
	return conn, nil
}

func closeDB() {
	if dbConn == nil {
		return
	}
	if err := dbConn.Close(); err != nil {
		getLogger().Error("Failed to close DuckDB connection cleanly", "error", err)
	}
	dbConn = nil
}
