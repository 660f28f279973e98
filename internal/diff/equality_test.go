package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/concord/pkg/types"
)

func TestSameScalarCoercion(t *testing.T) {
	c := NewComparer(testSchema(t), "", nil)
	def := func(ft types.FeatureType) types.FeatureDef { return types.FeatureDef{Name: "f", Type: ft} }

	tests := []struct {
		name string
		ft   types.FeatureType
		x, y any
		want bool
	}{
		{"strings equal", types.FeatureString, "PER", "PER", true},
		{"strings differ", types.FeatureString, "PER", "ORG", false},
		{"bytes and string", types.FeatureString, []byte("PER"), "PER", true},
		{"string vs number", types.FeatureString, "1", 1, false},
		{"both nil", types.FeatureString, nil, nil, true},
		{"one nil", types.FeatureString, nil, "", false},
		{"int and int64", types.FeatureInteger, 3, int64(3), true},
		{"int and whole float", types.FeatureInteger, 3, 3.0, true},
		{"int and fractional float", types.FeatureInteger, 3, 3.5, false},
		{"int and json number", types.FeatureInteger, json.Number("7"), int32(7), true},
		{"int and numeric string", types.FeatureInteger, "42", uint8(42), true},
		{"int and junk string", types.FeatureInteger, "forty", 40, false},
		{"float and int", types.FeatureFloat, 2.0, 2, true},
		{"float differ", types.FeatureFloat, 0.1, 0.2, false},
		{"float and string", types.FeatureFloat, "0.5", 0.5, true},
		{"bool equal", types.FeatureBoolean, true, true, true},
		{"bool and string", types.FeatureBoolean, "true", true, true},
		{"bool differ", types.FeatureBoolean, false, true, false},
		{"bool and int", types.FeatureBoolean, 1, true, false},
		{"unknown type always differs", types.FeatureType("date"), "x", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.sameScalar("L", def(tt.ft), tt.x, tt.y))
			assert.Equal(t, tt.want, c.sameScalar("L", def(tt.ft), tt.y, tt.x), "symmetric")
		})
	}
}

func TestIdenticalIgnoresTechnicalFeatures(t *testing.T) {
	schema := testSchema(t)
	c := NewComparer(schema, "", nil)
	a := newBuilder(t, "alice")
	b := newBuilder(t, "bob")
	ia := a.span(layerNE, 0, 5, map[string]any{"value": "PER", "anchor": "x", "sofa": 1})
	ib := b.span(layerNE, 0, 5, map[string]any{"value": "PER", "anchor": "y"})

	assert.True(t, c.Identical(
		Ref{Owner: "alice", Set: a.set, Annotation: a.set.Get(ia)},
		Ref{Owner: "bob", Set: b.set, Annotation: b.set.Get(ib)},
	))
}

func TestIdenticalRelationComparesEndpoints(t *testing.T) {
	schema := testSchema(t)
	c := NewComparer(schema, "", nil)

	mk := func(owner string, sourceBegin int) Ref {
		b := newBuilder(t, owner)
		src := b.span(layerToken, sourceBegin, sourceBegin+1, nil)
		tgt := b.span(layerToken, 2, 3, nil)
		id := b.rel(layerDep, src, tgt, "nsubj")
		return Ref{Owner: owner, Set: b.set, Annotation: b.set.Get(id)}
	}

	assert.True(t, c.Identical(mk("a", 0), mk("b", 0)))
	assert.False(t, c.Identical(mk("a", 0), mk("b", 5)), "same target, different source")
}

func TestIdenticalChainComparesSuccessor(t *testing.T) {
	schema := testSchema(t)
	c := NewComparer(schema, "", nil)

	mk := func(owner string, nextBegin int) Ref {
		b := newBuilder(t, owner)
		head := b.span(layerCoref, 0, 2, map[string]any{"referenceType": "pro"})
		if nextBegin >= 0 {
			next := b.span(layerCoref, nextBegin, nextBegin+2, nil)
			b.set.Get(head).Next = next
		}
		return Ref{Owner: owner, Set: b.set, Annotation: b.set.Get(head)}
	}

	assert.True(t, c.Identical(mk("a", 10), mk("b", 10)))
	assert.False(t, c.Identical(mk("a", 10), mk("b", 20)))
	assert.False(t, c.Identical(mk("a", 10), mk("b", -1)))
	assert.True(t, c.Identical(mk("a", -1), mk("b", -1)))
}

// predWithArg builds a predicate whose single link targets an argument.
func predWithArg(t *testing.T, owner string, argBegin int, role, label string) Ref {
	b := newBuilder(t, owner)
	arg := b.span(layerArg, argBegin, argBegin+3, map[string]any{"role": label})
	pred := b.add(&types.Annotation{
		Type: layerPred, Begin: 0, End: 2,
		Features: map[string]any{"frame": "buy"},
		Links:    map[string][]types.Link{"args": {{Role: role, Target: arg}}},
	})
	return Ref{Owner: owner, Set: b.set, Annotation: b.set.Get(pred)}
}

func TestIdenticalLinkModes(t *testing.T) {
	schema := testSchema(t)
	identity := NewComparer(schema, types.LinkTargetIdentity, nil)
	label := NewComparer(schema, types.LinkTargetAsLabel, nil)

	same := predWithArg(t, "a", 10, "buyer", "Agent")
	moved := predWithArg(t, "b", 20, "buyer", "Agent")
	relabeled := predWithArg(t, "c", 10, "buyer", "Theme")
	otherRole := predWithArg(t, "d", 10, "seller", "Agent")
	twin := predWithArg(t, "e", 10, "buyer", "Agent")

	assert.True(t, identity.Identical(same, twin))
	assert.False(t, identity.Identical(same, moved), "identity mode needs the target at the same position")
	assert.True(t, identity.Identical(same, relabeled), "identity mode ignores the target's label")
	assert.False(t, identity.Identical(same, otherRole))

	assert.True(t, label.Identical(same, moved), "label mode ignores where the target is")
	assert.False(t, label.Identical(same, relabeled))
	assert.False(t, label.Identical(same, otherRole))
}

func TestIdenticalLayerLinkModeOverrides(t *testing.T) {
	schema, err := types.NewSchema(
		types.Layer{Name: layerArg, Kind: types.LayerSpan, Features: []types.FeatureDef{{Name: "role", Type: types.FeatureString}}},
		types.Layer{
			Name:     layerPred,
			Kind:     types.LayerSpan,
			LinkMode: types.LinkTargetAsLabel,
			Features: []types.FeatureDef{{Name: "frame", Type: types.FeatureString}, {Name: "args", Type: types.FeatureLink}},
		},
	)
	assert.NoError(t, err)
	c := NewComparer(schema, types.LinkTargetIdentity, nil)
	assert.True(t, c.Identical(predWithArg(t, "a", 10, "buyer", "Agent"), predWithArg(t, "b", 30, "buyer", "Agent")))
}

func TestIdenticalLinkListLength(t *testing.T) {
	schema := testSchema(t)
	c := NewComparer(schema, "", nil)
	a := predWithArg(t, "a", 10, "buyer", "Agent")
	b := predWithArg(t, "b", 10, "buyer", "Agent")
	b.Annotation.Links["args"] = append(b.Annotation.Links["args"], types.Link{Role: "buyer", Target: b.Annotation.Links["args"][0].Target})
	assert.False(t, c.Identical(a, b))
}

func TestIdenticalTransitiveOverCoercedValues(t *testing.T) {
	schema, err := types.NewSchema(types.Layer{
		Name: "Num", Kind: types.LayerSpan,
		Features: []types.FeatureDef{{Name: "n", Type: types.FeatureInteger}},
	})
	assert.NoError(t, err)
	c := NewComparer(schema, "", nil)

	values := []any{1, int64(1), 1.0, "1", json.Number("1")}
	refs := make([]Ref, len(values))
	for i, v := range values {
		s := types.NewAnnotationSet("doc", "o")
		id, _ := s.Add(&types.Annotation{Type: "Num", Begin: 0, End: 1, Features: map[string]any{"n": v}})
		refs[i] = Ref{Owner: "o", Set: s, Annotation: s.Get(id)}
	}
	for i := range refs {
		for j := range refs {
			assert.True(t, c.Identical(refs[i], refs[j]), "%v vs %v", values[i], values[j])
		}
	}
}

func TestIdenticalLabelModeAcrossTargetLayers(t *testing.T) {
	schema, err := types.NewSchema(
		types.Layer{Name: "A", Kind: types.LayerSpan, Features: []types.FeatureDef{{Name: "tag", Type: types.FeatureString}}},
		types.Layer{Name: "B", Kind: types.LayerSpan, Features: []types.FeatureDef{{Name: "num", Type: types.FeatureInteger}}},
		types.Layer{Name: "C", Kind: types.LayerSpan, Features: []types.FeatureDef{{Name: "name", Type: types.FeatureString}}},
		types.Layer{Name: "Event", Kind: types.LayerSpan, Features: []types.FeatureDef{{Name: "args", Type: types.FeatureLink}}},
	)
	assert.NoError(t, err)
	c := NewComparer(schema, types.LinkTargetAsLabel, nil)

	event := func(owner, layer, feature string, label any) Ref {
		s := types.NewAnnotationSet("doc", owner)
		tgt, _ := s.Add(&types.Annotation{Type: layer, Begin: 4, End: 5, Features: map[string]any{feature: label}})
		id, _ := s.Add(&types.Annotation{
			Type: "Event", Begin: 0, End: 2,
			Links: map[string][]types.Link{"args": {{Role: "arg", Target: tgt}}},
		})
		return Ref{Owner: owner, Set: s, Annotation: s.Get(id)}
	}
	refs := []Ref{
		event("x", "A", "tag", "5"),
		event("y", "B", "num", 5),
		event("z", "C", "name", "5"),
		event("w", "B", "num", int64(5)),
	}

	assert.True(t, c.Identical(refs[0], refs[2]), "string labels of different layers")
	assert.True(t, c.Identical(refs[1], refs[3]), "integer labels")
	assert.False(t, c.Identical(refs[0], refs[1]), "string and integer labels")

	for i := range refs {
		for j := range refs {
			ij := c.Identical(refs[i], refs[j])
			assert.Equal(t, ij, c.Identical(refs[j], refs[i]), "symmetry %s %s", refs[i].Owner, refs[j].Owner)
			for k := range refs {
				if ij && c.Identical(refs[j], refs[k]) {
					assert.True(t, c.Identical(refs[i], refs[k]), "transitivity %s %s %s", refs[i].Owner, refs[j].Owner, refs[k].Owner)
				}
			}
		}
	}
}
