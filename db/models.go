package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"scrapekit/models"
	"scrapekit/storage"

	"github.com/google/uuid"
)

// StoredRecord represents a saved record row
type StoredRecord struct {
	ID           int
	RunID        string
	PageURL      string
	PageNumber   int
	GroupID      int
	GroupIndex   int
	ElementIndex int
	Data         map[string]any
	CreatedAt    time.Time
}

// Record rebuilds the flat record with its provenance keys
func (sr StoredRecord) Record() models.Record {
	r := models.NewRecord(models.Provenance{
		PageNumber:   sr.PageNumber,
		PageURL:      sr.PageURL,
		GroupID:      sr.GroupID,
		GroupIndex:   sr.GroupIndex,
		ElementIndex: sr.ElementIndex,
	})
	r.Merge(sr.Data)
	return r
}

var columns = []string{"run_id", "page_url", "page_number", "group_id", "group_index", "element_index", "data"}

func insertStatement(dialect Dialect, table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders(dialect, len(columns)))
}

func selectStatement(dialect Dialect, table string) string {
	return fmt.Sprintf(`SELECT id, run_id, page_url, page_number, group_id, group_index, element_index, data, created_at
		FROM %s WHERE run_id = %s ORDER BY id`, table, placeholders(dialect, 1))
}

// insertArgs splits a record into provenance columns and a JSON payload of
// the remaining fields
func insertArgs(runID string, r models.Record) ([]any, error) {
	data := make(map[string]any, len(r))
	for k, v := range r {
		if !models.IsReserved(k) {
			data[k] = v
		}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	pageURL, _ := r[models.KeyPageURL].(string)
	return []any{
		runID,
		pageURL,
		intValue(r[models.KeyPageNumber]),
		intValue(r[models.KeyGroupID]),
		intValue(r[models.KeyGroupIndex]),
		intValue(r[models.KeyElementIndex]),
		string(payload),
	}, nil
}

func intValue(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

// SaveRecords inserts records under runID in one transaction
func (db *DB) SaveRecords(ctx context.Context, runID string, records []models.Record) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertStatement(db.dialect, db.table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		args, err := insertArgs(runID, r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to save record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// GetRecordsByRunID returns the rows saved by one run in insertion order
func (db *DB) GetRecordsByRunID(ctx context.Context, runID string) ([]StoredRecord, error) {
	rows, err := db.conn.QueryContext(ctx, selectStatement(db.dialect, db.table), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var (
			sr        StoredRecord
			payload   []byte
			createdAt string
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.PageURL, &sr.PageNumber, &sr.GroupID, &sr.GroupIndex, &sr.ElementIndex, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		sr.CreatedAt = parseTimestamp(createdAt)
		if err := json.Unmarshal(payload, &sr.Data); err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", sr.ID, err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// parseTimestamp accepts both the RFC 3339 form drivers convert time values
// to and sqlite's CURRENT_TIMESTAMP text
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Sink returns a save function writing each run under a fresh run id.
// For sqlite a non-empty output is the database file; for postgres only a
// postgres:// URL in output overrides dsn.
func Sink(dialect Dialect, dsn string, table string) storage.SaveFunc {
	return func(ctx context.Context, records []models.Record, output string) error {
		target := dsn
		switch {
		case dialect == SQLite && output != "":
			target = output
		case dialect == Postgres && (strings.HasPrefix(output, "postgres://") || strings.HasPrefix(output, "postgresql://")):
			target = output
		}

		db, err := Open(ctx, dialect, target, table)
		if err != nil {
			return err
		}
		defer db.Close()

		runID := uuid.NewString()
		if err := db.SaveRecords(ctx, runID, records); err != nil {
			return err
		}
		log.Printf("Saved %d records to %s table %s (run %s)\n", len(records), dialect, table, runID)
		return nil
	}
}
