package diff

import (
	"fmt"

	"github.com/mesh-intelligence/concord/pkg/types"
)

// capability holds the per-kind behavior selected by schema lookup.
type capability struct {
	// position derives the location key.
	position func(set *types.AnnotationSet, a *types.Annotation, layer *types.Layer) (Position, error)
	// structure compares what the kind adds beyond feature values.
	structure func(c *Comparer, a, b Ref) bool
}

// capabilities is filled in init: the structure comparers reach PositionOf,
// which reads this table.
var capabilities map[types.LayerKind]capability

func init() {
	capabilities = map[types.LayerKind]capability{
		types.LayerSpan:      {position: spanPosition, structure: noStructure},
		types.LayerChain:     {position: spanPosition, structure: sameSuccessor},
		types.LayerAttribute: {position: attributePosition, structure: noStructure},
		types.LayerRelation:  {position: relationPosition, structure: sameEndpoints},
	}
}

func spanPosition(_ *types.AnnotationSet, a *types.Annotation, _ *types.Layer) (Position, error) {
	return Position{Type: a.Type, Begin: a.Begin, End: a.End}, nil
}

// attributePosition keys the annotation by the single feature slot that
// carries a value.
func attributePosition(_ *types.AnnotationSet, a *types.Annotation, layer *types.Layer) (Position, error) {
	slot := ""
	for _, f := range layer.ComparableFeatures() {
		if !hasValue(a, f) {
			continue
		}
		if slot != "" {
			return Position{}, fmt.Errorf("layer %q: values in %q and %q: %w", layer.Name, slot, f.Name, types.ErrSchema)
		}
		slot = f.Name
	}
	if slot == "" {
		return Position{}, ErrNoValue
	}
	return Position{Type: a.Type, Begin: a.Begin, End: a.End, Feature: slot}, nil
}

// relationPosition anchors a relation on its target endpoint.
func relationPosition(set *types.AnnotationSet, a *types.Annotation, _ *types.Layer) (Position, error) {
	if set.Get(a.Source) == nil {
		return Position{}, fmt.Errorf("relation %d source %d: %w", a.ID, a.Source, types.ErrDanglingReference)
	}
	target := set.Get(a.Target)
	if target == nil {
		return Position{}, fmt.Errorf("relation %d target %d: %w", a.ID, a.Target, types.ErrDanglingReference)
	}
	return Position{Type: a.Type, Begin: target.Begin, End: target.End}, nil
}

func hasValue(a *types.Annotation, f types.FeatureDef) bool {
	if f.Type == types.FeatureLink {
		return len(a.Links[f.Name]) > 0
	}
	return a.Feature(f.Name) != nil
}

func noStructure(*Comparer, Ref, Ref) bool { return true }

func sameEndpoints(c *Comparer, a, b Ref) bool {
	return c.samePlace(a.Set, a.Annotation.Source, b.Set, b.Annotation.Source) &&
		c.samePlace(a.Set, a.Annotation.Target, b.Set, b.Annotation.Target)
}

func sameSuccessor(c *Comparer, a, b Ref) bool {
	if a.Annotation.Next == 0 || b.Annotation.Next == 0 {
		return a.Annotation.Next == 0 && b.Annotation.Next == 0
	}
	return c.samePlace(a.Set, a.Annotation.Next, b.Set, b.Annotation.Next)
}
