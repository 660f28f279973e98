package curation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/concord/pkg/types"
)

var errDisk = errors.New("disk unavailable")

// memStore is an in-memory types.Store that hands out copies.
type memStore struct {
	mu        sync.Mutex
	schema    *types.Schema
	owners    []types.Owner
	sets      map[string]*types.AnnotationSet
	merged    *types.AnnotationSet
	segments  []types.Segment
	failRead  map[string]bool
	failWrite bool
	writes    int
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	schema, err := types.NewSchema(
		types.Layer{
			Name:     "NE",
			Kind:     types.LayerSpan,
			Features: []types.FeatureDef{{Name: "value", Type: types.FeatureString}},
		},
		types.Layer{Name: "Token", Kind: types.LayerSpan},
		types.Layer{
			Name:          "Chunk",
			Kind:          types.LayerSpan,
			AllowStacking: true,
			Features:      []types.FeatureDef{{Name: "tag", Type: types.FeatureString}},
		},
	)
	require.NoError(t, err)
	return &memStore{
		schema:   schema,
		sets:     make(map[string]*types.AnnotationSet),
		failRead: make(map[string]bool),
	}
}

// annotate adds an NE annotation for owner and returns its id.
func (m *memStore) annotate(t *testing.T, owner string, finished bool, begin, end int, value string) types.ID {
	t.Helper()
	return m.put(t, owner, finished, &types.Annotation{Type: "NE", Begin: begin, End: end, Features: map[string]any{"value": value}})
}

func (m *memStore) put(t *testing.T, owner string, finished bool, a *types.Annotation) types.ID {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[owner]
	if !ok {
		set = types.NewAnnotationSet("doc", owner)
		m.sets[owner] = set
		m.owners = append(m.owners, types.Owner{ID: owner, Finished: finished})
	}
	id, err := set.Add(a)
	require.NoError(t, err)
	return id
}

func (m *memStore) ListOwners(_ context.Context, _ string) ([]types.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]types.Owner(nil), m.owners...)
	if m.merged != nil {
		out = append(out, types.Owner{ID: types.CuratorOwner})
	}
	return out, nil
}

func (m *memStore) ReadAnnotationSet(_ context.Context, _, owner string) (*types.AnnotationSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead[owner] {
		return nil, fmt.Errorf("read %s: %w", owner, errDisk)
	}
	set, ok := m.sets[owner]
	if !ok {
		return nil, fmt.Errorf("owner %s: %w", owner, types.ErrNotFound)
	}
	return set.Clone(), nil
}

func (m *memStore) LayerSchema(context.Context) (*types.Schema, error) {
	return m.schema, nil
}

func (m *memStore) ReadMergedSet(_ context.Context, doc string) (*types.AnnotationSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.merged == nil {
		return nil, fmt.Errorf("merged set of %s: %w", doc, types.ErrNotFound)
	}
	return m.merged.Clone(), nil
}

func (m *memStore) WriteMergedSet(_ context.Context, _ string, set *types.AnnotationSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return fmt.Errorf("%w: %w", types.ErrIO, errDisk)
	}
	m.merged = set.Clone()
	m.writes++
	return nil
}

func (m *memStore) SegmentBoundaries(context.Context, string) ([]types.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Segment(nil), m.segments...), nil
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
