// Package sqlite implements the concord storage backend. JSONL files in the
// data directory are the source of truth; on Attach they are loaded into a
// fresh SQLite database that serves queries, and every write is persisted
// back to JSONL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/concord/internal/logging"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// dbFile is the SQLite database file inside the data directory. It is
// rebuilt from JSONL on every Attach.
const dbFile = "concord.db"

// Backend implements types.Backend using SQLite as the query engine and
// JSONL files as the source of truth.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sql.DB
	schema   *types.Schema
	logger   *slog.Logger

	syncStrategy string
	// pending holds tables whose JSONL file is stale: every write under
	// on_close sync, or a file that could not be restored after a failure.
	pending map[string]bool
}

var _ types.Backend = (*Backend)(nil)

// NewBackend creates a new SQLite backend instance. The backend is not
// attached; call Attach with a Config to initialize.
func NewBackend(logger *slog.Logger) *Backend {
	return &Backend{logger: logging.OrNop(logger)}
}

// Attach initializes the backend with the given configuration. It creates
// DataDir if needed, builds the SQLite schema, loads the JSONL files and the
// layer schema. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, dbFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// A single connection keeps PRAGMAs and transactions on one handle.
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := loadAllJSONL(db, dataDir, b.logger); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return err
	}

	schema, err := loadLayers(filepath.Join(dataDir, layersFile))
	if err != nil {
		db.Close()
		return fmt.Errorf("load layers: %w", err)
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir
	b.schema = schema
	b.syncStrategy = config.SyncStrategy
	if b.syncStrategy == "" {
		b.syncStrategy = types.SyncImmediate
	}
	b.pending = make(map[string]bool)
	b.attached = true

	b.logger.Debug("backend attached", "data_dir", dataDir, "sync", b.syncStrategy, "layers", len(schema.Names()))
	return nil
}

// Detach flushes pending JSONL writes and closes the database. Detach is
// idempotent. After Detach all operations return ErrBackendDetached.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if err := b.flushLocked(context.Background()); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.attached = false
	return nil
}

// commit writes the JSONL files of tables from tx's view and only then
// commits tx. When a file write fails the transaction is rolled back and the
// files already written are rewritten from the committed database, so the
// store is left as it was. Under on_close sync tx is committed and the tables
// are marked stale. The caller holds b.mu for writing.
func (b *Backend) commit(ctx context.Context, tx *sql.Tx, what string, tables ...string) error {
	if b.syncStrategy == types.SyncOnClose {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: committing %s: %w", types.ErrIO, what, err)
		}
		for _, t := range tables {
			b.pending[t] = true
		}
		return nil
	}

	written := make([]string, 0, len(tables))
	for _, t := range tables {
		if err := b.persistTable(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			b.restore(ctx, written)
			return fmt.Errorf("%w: persist %s: %w", types.ErrIO, t, err)
		}
		written = append(written, t)
	}
	if err := tx.Commit(); err != nil {
		b.restore(ctx, written)
		return fmt.Errorf("%w: committing %s: %w", types.ErrIO, what, err)
	}
	return nil
}

// restore rewrites the JSONL files of tables from the committed database
// after an aborted write. A table it cannot rewrite stays stale until the
// next flush.
func (b *Backend) restore(ctx context.Context, tables []string) {
	for _, t := range tables {
		if err := b.persistTable(ctx, b.db, t); err != nil {
			b.pending[t] = true
			b.logger.Warn("JSONL file left stale after failed write", "table", t, "err", err)
		}
	}
}

// flushLocked persists every stale table. The caller holds b.mu for writing.
func (b *Backend) flushLocked(ctx context.Context) error {
	tables := make([]string, 0, len(b.pending))
	for t := range b.pending {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		if err := b.persistTable(ctx, b.db, t); err != nil {
			return fmt.Errorf("%w: persist %s: %w", types.ErrIO, t, err)
		}
		delete(b.pending, t)
	}
	return nil
}

// newRevision returns a UUID v7 revision stamp.
func newRevision() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
