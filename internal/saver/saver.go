package saver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/setfetch/internal/db"
)

// eventRow is the Parquet layout of one journal event.
type eventRow struct {
	RunID          string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SetName        string `parquet:"name=set_name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	URL            string `parquet:"name=url, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArchivePath    string `parquet:"name=archive_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	Event          string `parquet:"name=event, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	EventTimestamp int64  `parquet:"name=event_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Attempt        int32  `parquet:"name=attempt, type=INT32"`
	Message        string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
	DurationMs     int64  `parquet:"name=duration_ms, type=INT64"`
}

func toRow(ev db.Event) eventRow {
	return eventRow{
		RunID:          ev.RunID,
		SetName:        ev.SetName,
		URL:            ev.URL,
		ArchivePath:    ev.ArchivePath,
		Event:          ev.Event,
		EventTimestamp: ev.Timestamp.UnixMilli(),
		Attempt:        int32(ev.Attempt),
		Message:        ev.Message,
		DurationMs:     ev.Duration.Milliseconds(),
	}
}

// SaveEventsToParquet writes events to a Snappy-compressed Parquet file at path,
// creating its directory if needed.
func SaveEventsToParquet(events []db.Event, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory for '%s': %w", path, err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("init writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, ev := range events {
		if err := pw.Write(toRow(ev)); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finalize parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet: %w", err)
	}
	return nil
}

// SaveJournalToParquet exports the journal events matching f to path.
func SaveJournalToParquet(ctx context.Context, dbConn *sql.DB, f db.Filter, path string, logger *slog.Logger) error {
	logger.Info("--- Starting journal to Parquet save ---", slog.String("path", path))

	events, err := db.ListEvents(ctx, dbConn, f)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(events) == 0 {
		logger.Info("No journal events to save.")
		return nil
	}
	if err := SaveEventsToParquet(events, path); err != nil {
		return err
	}
	logger.Info("Saved journal events.", slog.Int("events", len(events)), slog.String("path", path))
	return nil
}
