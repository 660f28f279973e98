package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/concord/internal/diff"
	"github.com/mesh-intelligence/concord/pkg/types"
)

func testSchema(t *testing.T) *types.Schema {
	t.Helper()
	s, err := types.NewSchema(
		types.Layer{Name: "Token", Kind: types.LayerSpan},
		types.Layer{
			Name:     "NE",
			Kind:     types.LayerSpan,
			Features: []types.FeatureDef{{Name: "value", Type: types.FeatureString}},
		},
		types.Layer{
			Name:     "Dep",
			Kind:     types.LayerRelation,
			Features: []types.FeatureDef{{Name: "label", Type: types.FeatureString}},
		},
		types.Layer{
			Name: "Pred",
			Kind: types.LayerSpan,
			Features: []types.FeatureDef{
				{Name: "frame", Type: types.FeatureString},
				{Name: "args", Type: types.FeatureLink},
			},
		},
		types.Layer{
			Name:     "Coref",
			Kind:     types.LayerChain,
			Features: []types.FeatureDef{{Name: "referenceType", Type: types.FeatureString}},
		},
	)
	require.NoError(t, err)
	return s
}

type builder struct {
	t   *testing.T
	set *types.AnnotationSet
}

func newBuilder(t *testing.T, owner string) *builder {
	return &builder{t: t, set: types.NewAnnotationSet("doc", owner)}
}

func (b *builder) add(a *types.Annotation) types.ID {
	b.t.Helper()
	id, err := b.set.Add(a)
	require.NoError(b.t, err)
	return id
}

func (b *builder) token(begin, end int) types.ID {
	return b.add(&types.Annotation{Type: "Token", Begin: begin, End: end})
}

func (b *builder) ne(begin, end int, value string) types.ID {
	return b.add(&types.Annotation{Type: "NE", Begin: begin, End: end, Features: map[string]any{"value": value}})
}

func (b *builder) dep(source, target types.ID, label string) types.ID {
	tgt := b.set.Get(target)
	require.NotNil(b.t, tgt)
	return b.add(&types.Annotation{
		Type: "Dep", Begin: tgt.Begin, End: tgt.End,
		Source: source, Target: target,
		Features: map[string]any{"label": label},
	})
}

func (b *builder) ref(id types.ID) diff.Ref {
	return diff.Ref{Owner: b.set.Owner, Set: b.set, Annotation: b.set.Get(id)}
}

func runDiff(t *testing.T, schema *types.Schema, roster []string, sets ...*types.AnnotationSet) *diff.Result {
	t.Helper()
	m := make(map[string]*types.AnnotationSet, len(sets))
	for _, s := range sets {
		m[s.Owner] = s
	}
	return diff.Diff(diff.Request{
		EntryTypes: schema.Names(),
		Schema:     schema,
		Sets:       m,
		Roster:     roster,
		Mode:       types.LinkTargetIdentity,
	})
}

func position(t *testing.T, set *types.AnnotationSet, id types.ID, schema *types.Schema) diff.Position {
	t.Helper()
	pos, err := diff.PositionOf(set, set.Get(id), schema)
	require.NoError(t, err)
	return pos
}
