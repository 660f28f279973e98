package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/concord/pkg/types"
)

// ListOwners returns the annotators of doc sorted by id. The curator is
// included once the document has a merged set.
func (b *Backend) ListOwners(ctx context.Context, doc string) ([]types.Owner, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	if err := b.documentExists(ctx, doc); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, "SELECT owner, finished FROM owners WHERE document = ? ORDER BY owner", doc)
	if err != nil {
		return nil, fmt.Errorf("querying owners: %w", err)
	}
	defer rows.Close()

	var owners []types.Owner
	for rows.Next() {
		var o types.Owner
		var finished int
		if err := rows.Scan(&o.ID, &finished); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		o.Finished = finished != 0
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var n int
	err = b.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM annotation_sets WHERE document = ? AND owner = ?",
		doc, types.CuratorOwner).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("querying merged set: %w", err)
	}
	if n > 0 {
		owners = append(owners, types.Owner{ID: types.CuratorOwner})
	}
	return owners, nil
}

// ReadAnnotationSet returns a fresh copy of owner's set for doc.
func (b *Backend) ReadAnnotationSet(ctx context.Context, doc, owner string) (*types.AnnotationSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	return b.readSet(ctx, doc, owner)
}

// ReadMergedSet returns the curated set of doc, or ErrNotFound before the
// first curation.
func (b *Backend) ReadMergedSet(ctx context.Context, doc string) (*types.AnnotationSet, error) {
	return b.ReadAnnotationSet(ctx, doc, types.CuratorOwner)
}

func (b *Backend) readSet(ctx context.Context, doc, owner string) (*types.AnnotationSet, error) {
	var content string
	err := b.db.QueryRowContext(ctx,
		"SELECT content FROM annotation_sets WHERE document = ? AND owner = ?",
		doc, owner).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("annotation set %s/%s: %w", doc, owner, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying annotation set: %w", err)
	}

	set := types.NewAnnotationSet(doc, owner)
	if err := json.Unmarshal([]byte(content), set); err != nil {
		return nil, fmt.Errorf("annotation set %s/%s: %w: %w", doc, owner, types.ErrInvalidData, err)
	}
	set.Document, set.Owner = doc, owner
	return set, nil
}

// WriteMergedSet stores the curated set of doc.
func (b *Backend) WriteMergedSet(ctx context.Context, doc string, set *types.AnnotationSet) error {
	if set == nil {
		return types.ErrInvalidData
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return types.ErrBackendDetached
	}
	if err := b.documentExists(ctx, doc); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", types.ErrIO, err)
	}
	defer tx.Rollback()

	if err := upsertSet(ctx, tx, doc, types.CuratorOwner, set); err != nil {
		return err
	}
	return b.commit(ctx, tx, "merged set", tableAnnotationSets)
}

// SegmentBoundaries returns the segments of doc in order.
func (b *Backend) SegmentBoundaries(ctx context.Context, doc string) ([]types.Segment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	if err := b.documentExists(ctx, doc); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		"SELECT begin_offset, end_offset FROM segments WHERE document = ? ORDER BY ordinal", doc)
	if err != nil {
		return nil, fmt.Errorf("querying segments: %w", err)
	}
	defer rows.Close()

	var out []types.Segment
	for rows.Next() {
		var s types.Segment
		if err := rows.Scan(&s.Begin, &s.End); err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PutDocument registers doc and returns its id. Registering an existing
// document returns the id it already has.
func (b *Backend) PutDocument(ctx context.Context, doc string) (string, error) {
	if doc == "" {
		return "", types.ErrInvalidID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return "", types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: beginning transaction: %w", types.ErrIO, err)
	}
	defer tx.Rollback()

	id, created, err := ensureDocument(ctx, tx, doc)
	if err != nil {
		return "", err
	}
	var tables []string
	if created {
		tables = append(tables, tableDocuments)
	}
	if err := b.commit(ctx, tx, "document", tables...); err != nil {
		return "", err
	}
	return id, nil
}

// PutSegments replaces the segmentation of doc. Segments must be non-empty
// windows with non-negative offsets.
func (b *Backend) PutSegments(ctx context.Context, doc string, segments []types.Segment) error {
	for _, s := range segments {
		if s.Begin < 0 || s.End <= s.Begin {
			return fmt.Errorf("segment [%d,%d): %w", s.Begin, s.End, types.ErrInvalidData)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", types.ErrIO, err)
	}
	defer tx.Rollback()

	_, created, err := ensureDocument(ctx, tx, doc)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE document = ?", doc); err != nil {
		return fmt.Errorf("clearing segments: %w", err)
	}
	for i, s := range segments {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO segments (document, ordinal, begin_offset, end_offset) VALUES (?, ?, ?, ?)",
			doc, i, s.Begin, s.End)
		if err != nil {
			return fmt.Errorf("inserting segment: %w", err)
		}
	}
	tables := []string{tableSegments}
	if created {
		tables = append([]string{tableDocuments}, tables...)
	}
	return b.commit(ctx, tx, "segments", tables...)
}

// PutAnnotationSet stores owner's set for doc, registering the document and
// the owner as needed. The curator's set is written through WriteMergedSet.
func (b *Backend) PutAnnotationSet(ctx context.Context, doc, owner string, finished bool, set *types.AnnotationSet) error {
	if owner == "" {
		return types.ErrInvalidID
	}
	if owner == types.CuratorOwner || set == nil {
		return types.ErrInvalidData
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", types.ErrIO, err)
	}
	defer tx.Rollback()

	if _, _, err := ensureDocument(ctx, tx, doc); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO owners (document, owner, finished, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document, owner) DO UPDATE SET
			finished = excluded.finished,
			updated_at = excluded.updated_at`,
		doc, owner, boolInt(finished), now())
	if err != nil {
		return fmt.Errorf("upserting owner: %w", err)
	}
	if err := upsertSet(ctx, tx, doc, owner, set); err != nil {
		return err
	}
	return b.commit(ctx, tx, "annotation set", tableDocuments, tableOwners, tableAnnotationSets)
}

func (b *Backend) documentExists(ctx context.Context, doc string) error {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE name = ?", doc).Scan(&n); err != nil {
		return fmt.Errorf("querying document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", doc, types.ErrNotFound)
	}
	return nil
}

// ensureDocument returns doc's id, creating the document when absent.
func ensureDocument(ctx context.Context, tx *sql.Tx, doc string) (id string, created bool, err error) {
	if doc == "" {
		return "", false, types.ErrInvalidID
	}
	err = tx.QueryRowContext(ctx, "SELECT document_id FROM documents WHERE name = ?", doc).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("querying document: %w", err)
	}
	id = uuid.Must(uuid.NewV7()).String()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO documents (name, document_id, created_at) VALUES (?, ?, ?)",
		doc, id, now())
	if err != nil {
		return "", false, fmt.Errorf("inserting document: %w", err)
	}
	return id, true, nil
}

func upsertSet(ctx context.Context, tx *sql.Tx, doc, owner string, set *types.AnnotationSet) error {
	content, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding annotation set: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO annotation_sets (document, owner, revision, content, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document, owner) DO UPDATE SET
			revision = excluded.revision,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		doc, owner, newRevision(), string(content), now())
	if err != nil {
		return fmt.Errorf("%w: upserting annotation set: %w", types.ErrIO, err)
	}
	return nil
}

// Revision returns the revision stamp of owner's set for doc. Every write
// stamps a new UUID v7, so revisions order writes.
func (b *Backend) Revision(ctx context.Context, doc, owner string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return "", types.ErrBackendDetached
	}
	var rev string
	err := b.db.QueryRowContext(ctx,
		"SELECT revision FROM annotation_sets WHERE document = ? AND owner = ?", doc, owner).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("annotation set %s/%s: %w", doc, owner, types.ErrNotFound)
	}
	return rev, err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
