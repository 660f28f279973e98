package curation

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/concord/internal/diff"
	"github.com/mesh-intelligence/concord/internal/merge"
	"github.com/mesh-intelligence/concord/internal/metrics"
	"github.com/mesh-intelligence/concord/pkg/types"
)

var nePos = diff.Position{Type: "NE", Begin: 0, End: 5}

func TestLoadRoster(t *testing.T) {
	tests := []struct {
		name         string
		finishedOnly bool
		failing      string
		wantOwners   []string
		wantFailures []string
	}{
		{name: "all annotators", wantOwners: []string{"alice", "bob", "carol"}},
		{name: "finished only", finishedOnly: true, wantOwners: []string{"alice", "carol"}},
		{name: "failing owner excluded", failing: "bob", wantOwners: []string{"alice", "carol"}, wantFailures: []string{"bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(t)
			store.annotate(t, "carol", true, 0, 5, "ORG")
			store.annotate(t, "alice", true, 0, 5, "ORG")
			store.annotate(t, "bob", false, 0, 5, "ORG")
			store.merged = types.NewAnnotationSet("doc", types.CuratorOwner)
			if tt.failing != "" {
				store.failRead[tt.failing] = true
			}

			svc := New(store, WithConfig(types.CurationConfig{FinishedOnly: tt.finishedOnly}))
			r, err := svc.LoadRoster(context.Background(), "doc")
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwners, r.Owners)
			assert.NotContains(t, r.Sets, types.CuratorOwner)

			var failed []string
			for _, f := range r.Failures {
				failed = append(failed, f.Owner)
				assert.ErrorIs(t, f, types.ErrLoad)
				assert.ErrorIs(t, f, errDisk)
			}
			assert.Equal(t, tt.wantFailures, failed)
		})
	}
}

func TestSummarize(t *testing.T) {
	store := newMemStore(t)
	store.segments = []types.Segment{{Begin: 0, End: 10}, {Begin: 10, End: 20}, {Begin: 20, End: 30}}
	// Segment one agrees, two disagrees on the value, three is incomplete.
	for _, o := range []string{"alice", "bob"} {
		store.annotate(t, o, true, 0, 5, "ORG")
	}
	store.annotate(t, "alice", true, 12, 15, "PER")
	store.annotate(t, "bob", true, 12, 15, "LOC")
	store.annotate(t, "alice", true, 22, 25, "ORG")
	store.annotate(t, "dave", true, 0, 5, "ORG")
	store.annotate(t, "dave", true, 12, 15, "PER")
	store.annotate(t, "dave", true, 22, 25, "ORG")
	store.annotate(t, "bob", true, 25, 26, "MISC")
	store.failRead["dave"] = true

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	svc := New(store, WithMetrics(rec), WithConfig(types.CurationConfig{Workers: 2}))

	sum, err := svc.Summarize(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, sum.Roster)
	assert.Equal(t, []string{"dave"}, sum.Excluded)
	require.Len(t, sum.Segments, 3)

	assert.Equal(t, StateAgree, sum.Segments[0].State)
	assert.Equal(t, 1, sum.Segments[0].Positions)
	assert.Equal(t, StateDisagree, sum.Segments[1].State)
	assert.Equal(t, 1, sum.Segments[1].Differing)
	assert.Equal(t, StateDisagree, sum.Segments[2].State)
	assert.Equal(t, 2, sum.Segments[2].Differing)
	assert.Len(t, sum.Disagreeing(), 2)

	for i, seg := range store.segments {
		assert.Equal(t, seg, sum.Segments[i].Segment, "stored order kept")
	}
	segs, err := testutil.GatherAndCount(reg, "concord_segments_total")
	require.NoError(t, err)
	assert.Equal(t, 2, segs)
	n, err := testutil.GatherAndCount(reg, "concord_load_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSummarizeWithoutSegments(t *testing.T) {
	store := newMemStore(t)
	store.annotate(t, "alice", true, 0, 5, "ORG")
	store.annotate(t, "bob", true, 0, 5, "ORG")
	store.annotate(t, "bob", true, 500, 505, "ORG")

	sum, err := New(store).Summarize(context.Background(), "doc")
	require.NoError(t, err)
	require.Len(t, sum.Segments, 1)
	assert.Equal(t, StateDisagree, sum.Segments[0].State)
	assert.Equal(t, 2, sum.Segments[0].Positions)
}

func TestSummarizeStacked(t *testing.T) {
	store := newMemStore(t)
	store.annotate(t, "alice", true, 0, 5, "ORG")
	store.annotate(t, "alice", true, 0, 5, "ORG")
	store.annotate(t, "bob", true, 0, 5, "ORG")

	sum, err := New(store).Summarize(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, StateDisagree, sum.Segments[0].State)
}

func TestOpenSeedsOnce(t *testing.T) {
	store := newMemStore(t)
	store.annotate(t, "alice", false, 0, 5, "ORG")
	store.annotate(t, "bob", true, 0, 5, "ORG")
	store.annotate(t, "alice", false, 10, 15, "PER")
	store.annotate(t, "bob", true, 10, 15, "LOC")

	svc := New(store)
	ctx := context.Background()

	merged, err := svc.Open(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, types.CuratorOwner, merged.Owner)
	assert.Equal(t, 1, merged.Len())
	assert.Equal(t, 1, store.writeCount())

	merged.Remove(merged.All()[0].ID)
	again, err := svc.Open(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Len(), "open returns a copy")
	assert.Equal(t, 1, store.writeCount(), "seeded only once")
}

func TestOpenWriteFailure(t *testing.T) {
	store := newMemStore(t)
	store.annotate(t, "alice", true, 0, 5, "ORG")
	store.failWrite = true

	_, err := New(store).Open(context.Background(), "doc")
	require.ErrorIs(t, err, types.ErrIO)
}

func TestMerge(t *testing.T) {
	store := newMemStore(t)
	store.annotate(t, "alice", true, 0, 5, "PER")
	bobID := store.annotate(t, "bob", true, 0, 5, "ORG")

	reg := prometheus.NewRegistry()
	svc := New(store, WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	merged, err := svc.Open(ctx, "doc")
	require.NoError(t, err)
	assert.Zero(t, merged.Len(), "disagreement is not seeded")

	outcome, err := svc.Merge(ctx, "doc", "bob", bobID)
	require.NoError(t, err)
	assert.Equal(t, merge.OutcomeCreated, outcome)

	writes := store.writeCount()
	outcome, err = svc.Merge(ctx, "doc", "bob", bobID)
	require.ErrorIs(t, err, types.ErrAlreadyMerged)
	assert.Equal(t, merge.OutcomeAlreadyMerged, outcome)
	assert.Equal(t, writes, store.writeCount())

	merged, err = svc.Open(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, 1, merged.Len())
	assert.Equal(t, "ORG", merged.All()[0].Feature("value"))

	outcome, err = svc.Merge(ctx, "doc", "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, merge.OutcomeUpdated, outcome)
	merged, err = svc.Open(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, 1, merged.Len())
	assert.Equal(t, "PER", merged.All()[0].Feature("value"))

	n, err := testutil.GatherAndCount(reg, "concord_merges_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "created, already merged and updated")
}

func TestMergeStackingLayer(t *testing.T) {
	store := newMemStore(t)
	a := store.put(t, "alice", true, &types.Annotation{Type: "Chunk", Begin: 0, End: 5, Features: map[string]any{"tag": "NP"}})
	b := store.put(t, "bob", true, &types.Annotation{Type: "Chunk", Begin: 0, End: 5, Features: map[string]any{"tag": "VP"}})
	svc := New(store)
	ctx := context.Background()

	for _, tc := range []struct {
		owner string
		id    types.ID
	}{{"alice", a}, {"bob", b}} {
		outcome, err := svc.Merge(ctx, "doc", tc.owner, tc.id)
		require.NoError(t, err)
		assert.Equal(t, merge.OutcomeCreated, outcome)
	}
	merged, err := svc.Open(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Len())
}

func TestMergeErrors(t *testing.T) {
	store := newMemStore(t)
	id := store.annotate(t, "alice", true, 0, 5, "PER")
	store.annotate(t, "bob", true, 0, 5, "ORG")
	svc := New(store)
	ctx := context.Background()

	_, err := svc.Merge(ctx, "doc", "alice", 99)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = svc.Merge(ctx, "doc", types.CuratorOwner, 1)
	require.ErrorIs(t, err, types.ErrInvalidData)

	_, err = svc.Merge(ctx, "doc", "zed", 1)
	require.ErrorIs(t, err, types.ErrLoad)

	store.failWrite = true
	outcome, err := svc.Merge(ctx, "doc", "alice", id)
	require.ErrorIs(t, err, types.ErrIO)
	assert.Empty(t, outcome)

	store.failWrite = false
	merged, err := svc.Open(ctx, "doc")
	require.NoError(t, err)
	assert.Zero(t, merged.Len(), "failed write leaves stored set unchanged")
}

func TestClear(t *testing.T) {
	store := newMemStore(t)
	store.annotate(t, "alice", true, 0, 5, "ORG")
	store.annotate(t, "bob", true, 0, 5, "ORG")
	svc := New(store)
	ctx := context.Background()

	merged, err := svc.Open(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, 1, merged.Len())

	removed, err := svc.Clear(ctx, "doc", nePos)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	merged, err = svc.Open(ctx, "doc")
	require.NoError(t, err)
	assert.Zero(t, merged.Len())

	writes := store.writeCount()
	removed, err = svc.Clear(ctx, "doc", nePos)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, writes, store.writeCount(), "nothing to persist")
}

func TestConcurrentMergesSerialized(t *testing.T) {
	store := newMemStore(t)
	var ids []types.ID
	for i := 0; i < 20; i++ {
		ids = append(ids, store.annotate(t, "alice", true, i*10, i*10+5, "ORG"))
	}
	store.annotate(t, "bob", true, 1000, 1005, "ORG")
	svc := New(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.Merge(ctx, "doc", "alice", id)
			assert.NoError(t, err)
			assert.Equal(t, merge.OutcomeCreated, outcome)
		}()
	}
	wg.Wait()

	merged, err := svc.Open(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, len(ids), merged.Len())
}

func TestDiff(t *testing.T) {
	store := newMemStore(t)
	store.annotate(t, "alice", true, 0, 5, "ORG")
	store.annotate(t, "bob", true, 0, 5, "PER")
	store.annotate(t, "bob", true, 50, 55, "PER")

	res, err := New(store).Diff(context.Background(), "doc", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	cs, ok := res.Get(nePos)
	require.True(t, ok)
	assert.Len(t, cs.Configurations, 2)
}
