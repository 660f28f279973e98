package diff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/concord/pkg/types"
)

const (
	layerToken = "Token"
	layerNE    = "NE"
	layerDep   = "Dep"
	layerCode  = "Code"
	layerCoref = "Coref"
	layerArg   = "SemArg"
	layerPred  = "SemPred"
)

func testSchema(t *testing.T) *types.Schema {
	t.Helper()
	s, err := types.NewSchema(
		types.Layer{Name: layerToken, Kind: types.LayerSpan},
		types.Layer{
			Name: layerNE,
			Kind: types.LayerSpan,
			Features: []types.FeatureDef{
				{Name: "value", Type: types.FeatureString},
				{Name: "score", Type: types.FeatureFloat},
				{Name: "anchor", Type: types.FeatureString, Technical: true},
			},
		},
		types.Layer{
			Name:     layerDep,
			Kind:     types.LayerRelation,
			Features: []types.FeatureDef{{Name: "label", Type: types.FeatureString}},
		},
		types.Layer{
			Name: layerCode,
			Kind: types.LayerAttribute,
			Features: []types.FeatureDef{
				{Name: "sentiment", Type: types.FeatureString},
				{Name: "topic", Type: types.FeatureString},
			},
		},
		types.Layer{
			Name:     layerCoref,
			Kind:     types.LayerChain,
			Features: []types.FeatureDef{{Name: "referenceType", Type: types.FeatureString}},
		},
		types.Layer{
			Name:     layerArg,
			Kind:     types.LayerSpan,
			Features: []types.FeatureDef{{Name: "role", Type: types.FeatureString}},
		},
		types.Layer{
			Name: layerPred,
			Kind: types.LayerSpan,
			Features: []types.FeatureDef{
				{Name: "frame", Type: types.FeatureString},
				{Name: "args", Type: types.FeatureLink},
			},
		},
	)
	require.NoError(t, err)
	return s
}

// builder adds annotations to a set and returns their ids.
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

func (b *builder) span(layer string, begin, end int, features map[string]any) types.ID {
	return b.add(&types.Annotation{Type: layer, Begin: begin, End: end, Features: features})
}

func (b *builder) ne(begin, end int, value string) types.ID {
	return b.span(layerNE, begin, end, map[string]any{"value": value})
}

func (b *builder) rel(layer string, source, target types.ID, label string) types.ID {
	tgt := b.set.Get(target)
	require.NotNil(b.t, tgt)
	return b.add(&types.Annotation{
		Type: layer, Begin: tgt.Begin, End: tgt.End,
		Source: source, Target: target,
		Features: map[string]any{"label": label},
	})
}

func neSets(t *testing.T, values map[string]string) map[string]*types.AnnotationSet {
	sets := make(map[string]*types.AnnotationSet, len(values))
	for owner, v := range values {
		b := newBuilder(t, owner)
		if v != "" {
			b.ne(0, 5, v)
		}
		sets[owner] = b.set
	}
	return sets
}
