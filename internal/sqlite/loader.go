package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// jsonlTable maps one JSONL file to its SQLite table. Columns listed in
// nested hold JSON documents: they are objects in the file and text in the
// database.
type jsonlTable struct {
	file    string
	table   string
	columns []string
	orderBy string
	nested  map[string]bool
}

// Table names.
const (
	tableDocuments      = "documents"
	tableOwners         = "owners"
	tableSegments       = "segments"
	tableAnnotationSets = "annotation_sets"
)

// jsonlTables lists the persisted tables. Tables with foreign keys load after
// the tables they reference.
var jsonlTables = []jsonlTable{
	{
		file: "documents.jsonl", table: tableDocuments,
		columns: []string{"name", "document_id", "created_at"},
		orderBy: "created_at, name",
	},
	{
		file: "owners.jsonl", table: tableOwners,
		columns: []string{"document", "owner", "finished", "updated_at"},
		orderBy: "document, owner",
	},
	{
		file: "segments.jsonl", table: tableSegments,
		columns: []string{"document", "ordinal", "begin_offset", "end_offset"},
		orderBy: "document, ordinal",
	},
	{
		file: "annotation_sets.jsonl", table: tableAnnotationSets,
		columns: []string{"document", "owner", "revision", "content", "updated_at"},
		orderBy: "document, owner",
		nested:  map[string]bool{"content": true},
	},
}

func lookupTable(name string) (jsonlTable, bool) {
	for _, t := range jsonlTables {
		if t.table == name {
			return t, true
		}
	}
	return jsonlTable{}, false
}

// loadAllJSONL reads each JSONL file from dataDir and inserts its records
// into the matching table. Loading is transactional: all succeed or the
// database stays empty. Foreign keys are enforced only after loading, so
// file order does not matter. Malformed lines and records violating constraints
// are skipped; unknown fields are ignored.
func loadAllJSONL(db *sql.DB, dataDir string, log *slog.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range jsonlTables {
		records, skipped, err := readJSONL(filepath.Join(dataDir, t.file))
		if err != nil {
			return fmt.Errorf("reading %s: %w", t.file, err)
		}
		if len(skipped) > 0 {
			log.Warn("skipped malformed JSONL lines", "file", t.file, "lines", skipped)
		}
		if len(records) == 0 {
			continue
		}
		if err := insertRecords(tx, t, records); err != nil {
			return fmt.Errorf("loading %s into %s: %w", t.file, t.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// insertRecords inserts parsed JSONL records into t. Nested objects are
// stored as their JSON text.
func insertRecords(tx *sql.Tx, t jsonlTable, records []json.RawMessage) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.table, strings.Join(t.columns, ", "), placeholders)

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", t.table, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(rec, &obj); err != nil {
			continue
		}

		args := make([]any, len(t.columns))
		for i, col := range t.columns {
			raw, ok := obj[col]
			if !ok {
				continue
			}
			if t.nested[col] {
				args[i] = string(raw)
				continue
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}
			if b, ok := v.(bool); ok {
				v = boolInt(b)
			}
			args[i] = v
		}

		if _, err := stmt.Exec(args...); err != nil {
			continue
		}
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// persistTable rewrites the JSONL file of table from q's view of the
// database.
func (b *Backend) persistTable(ctx context.Context, q queryer, table string) error {
	t, ok := lookupTable(table)
	if !ok {
		return fmt.Errorf("unknown table %s", table)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(t.columns, ", "), t.table, t.orderBy)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("reading %s for JSONL: %w", t.table, err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		vals := make([]any, len(t.columns))
		ptrs := make([]any, len(t.columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning %s for JSONL: %w", t.table, err)
		}

		obj := make(map[string]any, len(t.columns))
		for i, col := range t.columns {
			v := vals[i]
			if raw, ok := v.([]byte); ok {
				v = string(raw)
			}
			if s, ok := v.(string); ok && t.nested[col] {
				v = json.RawMessage(s)
			}
			obj[col] = v
		}
		rec, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("encoding %s record: %w", t.table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, t.file), records)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
