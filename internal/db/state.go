package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Constants for event types
const (
	EventDownloadStart  = "download_start"
	EventDownloadEnd    = "download_end"
	EventDownloadFailed = "download_failed"
	EventSkipDownload   = "skip_download"
	EventExtractStart   = "extract_start"
	EventExtractEnd     = "extract_end"
	EventExtractFailed  = "extract_failed"
	EventSetDone        = "set_done"
	EventRunDone        = "run_done"
	EventRunAborted     = "run_aborted"
)

// Event is one row of the fetch event log.
type Event struct {
	RunID       string
	SetName     string
	URL         string
	ArchivePath string
	Event       string
	Timestamp   time.Time
	Attempt     int
	Message     string
	Duration    time.Duration
}

// Schema SQL
const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS fetch_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS fetch_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('fetch_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    set_name        VARCHAR,
    url             VARCHAR,
    archive_path    VARCHAR,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    attempt         INTEGER,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_fetch_event_log_url ON fetch_event_log (set_name, url);
CREATE INDEX IF NOT EXISTS idx_fetch_event_log_event_time ON fetch_event_log (event, event_timestamp);
`

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	// 1. Create Sequence First
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	// 2. Create Table and Indices
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// Journal appends events for one run to the event log.
type Journal struct {
	db    *sql.DB
	runID string
}

// NewJournal returns a journal writing events tagged with runID.
func NewJournal(db *sql.DB, runID string) *Journal {
	return &Journal{db: db, runID: runID}
}

// RunID returns the run identifier events are tagged with.
func (j *Journal) RunID() string { return j.runID }

// RecordEvent inserts a new event record into the log.
func (j *Journal) RecordEvent(ctx context.Context, ev Event) error {
	query := `
        INSERT INTO fetch_event_log (run_id, set_name, url, archive_path, event, event_timestamp, attempt, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	runID := ev.RunID
	if runID == "" {
		runID = j.runID
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, query,
		runID,
		nullString(ev.SetName),
		nullString(ev.URL),
		nullString(ev.ArchivePath),
		ev.Event,
		ts,
		sql.NullInt32{Int32: int32(ev.Attempt), Valid: ev.Attempt > 0},
		nullString(ev.Message),
		sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: ev.Duration > 0},
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", ev.Event, ev.URL, err)
	}
	return nil
}

// CompletedURLs returns the URLs of setName whose most recent event is a
// successful extraction.
func (j *Journal) CompletedURLs(ctx context.Context, setName string) (map[string]bool, error) {
	query := `
        WITH Latest AS (
            SELECT url, event,
                ROW_NUMBER() OVER(PARTITION BY url ORDER BY event_timestamp DESC, log_id DESC) AS rn
            FROM fetch_event_log
            WHERE set_name = ? AND url IS NOT NULL
              AND event IN (?, ?, ?, ?, ?)
        )
        SELECT url FROM Latest WHERE rn = 1 AND event = ?;
    `
	rows, err := j.db.QueryContext(ctx, query, setName,
		EventDownloadStart, EventDownloadEnd, EventDownloadFailed, EventExtractEnd, EventExtractFailed,
		EventExtractEnd)
	if err != nil {
		return nil, fmt.Errorf("query completed urls for set %s: %w", setName, err)
	}
	defer rows.Close()

	completed := make(map[string]bool)
	var scanErrors error
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan completed url: %w", err))
			continue
		}
		completed[u] = true
	}
	if err := rows.Err(); err != nil {
		return completed, errors.Join(scanErrors, fmt.Errorf("iterate completed urls: %w", err))
	}
	return completed, scanErrors
}

// Filter narrows ListEvents. Zero values match everything.
type Filter struct {
	RunID   string
	SetName string
	Event   string
	Limit   int
}

// ListEvents returns matching events, newest first.
func ListEvents(ctx context.Context, db *sql.DB, f Filter) ([]Event, error) {
	query := `
        SELECT run_id, set_name, url, archive_path, event, event_timestamp, attempt, message, duration_ms
        FROM fetch_event_log
    `
	conditions := []string{}
	args := []any{}
	if f.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.SetName != "" {
		conditions = append(conditions, "set_name = ?")
		args = append(args, f.SetName)
	}
	if f.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, f.Event)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY event_timestamp DESC, log_id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var setName, url, archivePath, message sql.NullString
		var attempt sql.NullInt32
		var durationMs sql.NullInt64
		if err := rows.Scan(&ev.RunID, &setName, &url, &archivePath, &ev.Event, &ev.Timestamp, &attempt, &message, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan event log row: %w", err)
		}
		ev.SetName = setName.String
		ev.URL = url.String
		ev.ArchivePath = archivePath.String
		ev.Message = message.String
		ev.Attempt = int(attempt.Int32)
		ev.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log rows: %w", err)
	}
	return events, nil
}

// DisplayEventHistory prints the most recent events matching f.
func DisplayEventHistory(ctx context.Context, db *sql.DB, w io.Writer, f Filter) error {
	events, err := ListEvents(ctx, db, f)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "--- Event Log History (Limit %d) ---\n", f.Limit)
	fmt.Fprintf(w, "%-20s | %-40s | %-15s | %-25s | %-10s | %s\n", "Set", "Archive/URL", "Event", "Timestamp (UTC)", "DurationMS", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 150))

	for _, ev := range events {
		durationStr := ""
		if ev.Duration > 0 {
			durationStr = fmt.Sprintf("%d", ev.Duration.Milliseconds())
		}
		name := ev.URL
		if ev.ArchivePath != "" {
			name = filepath.Base(ev.ArchivePath)
		}
		details := ev.Message
		if ev.Attempt > 0 {
			details = strings.TrimSpace(fmt.Sprintf("%s (attempts: %d)", details, ev.Attempt))
		}
		fmt.Fprintf(w, "%-20s | %-40s | %-15s | %-25s | %-10s | %s\n",
			ev.SetName, name, ev.Event, ev.Timestamp.Format(time.RFC3339), durationStr, details)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(events))
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
