package diff

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/concord/pkg/types"
)

// ErrNoValue marks an attribute annotation without a value. Such an instance
// is not an annotation at all and is skipped without a warning.
var ErrNoValue = errors.New("attribute annotation carries no value")

// Position is the canonical location key of an annotation. Two annotations
// are comparable only if their positions are equal.
type Position struct {
	Type  string `json:"type"`
	Begin int    `json:"begin"`
	End   int    `json:"end"`
	// Feature is set only for attribute layers and names the feature slot.
	Feature string `json:"feature,omitempty"`
}

func (p Position) String() string {
	s := fmt.Sprintf("%s[%d,%d)", p.Type, p.Begin, p.End)
	if p.Feature != "" {
		s += "#" + p.Feature
	}
	return s
}

// Less orders positions by begin, end, type and feature.
func (p Position) Less(o Position) bool {
	if p.Begin != o.Begin {
		return p.Begin < o.Begin
	}
	if p.End != o.End {
		return p.End < o.End
	}
	if p.Type != o.Type {
		return p.Type < o.Type
	}
	return p.Feature < o.Feature
}

// ParsePosition parses the form produced by Position.String.
func ParsePosition(s string) (Position, error) {
	open := strings.LastIndex(s, "[")
	if open <= 0 {
		return Position{}, fmt.Errorf("parse position %q: missing type or '['", s)
	}
	closeRel := strings.Index(s[open:], ")")
	if closeRel < 0 {
		return Position{}, fmt.Errorf("parse position %q: missing ')'", s)
	}
	closeIdx := open + closeRel
	bounds := strings.SplitN(s[open+1:closeIdx], ",", 2)
	if len(bounds) != 2 {
		return Position{}, fmt.Errorf("parse position %q: want [begin,end)", s)
	}
	begin, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
	if err != nil {
		return Position{}, fmt.Errorf("parse position %q: begin: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
	if err != nil {
		return Position{}, fmt.Errorf("parse position %q: end: %w", s, err)
	}
	p := Position{Type: s[:open], Begin: begin, End: end}
	rest := s[closeIdx+1:]
	switch {
	case rest == "":
	case strings.HasPrefix(rest, "#") && len(rest) > 1:
		p.Feature = rest[1:]
	default:
		return Position{}, fmt.Errorf("parse position %q: trailing %q", s, rest)
	}
	return p, nil
}

// PositionOf derives the position of a, which must belong to set. It fails
// with an error wrapping types.ErrSchema for unknown layers or features,
// types.ErrDanglingReference for unresolved relation endpoints, and
// ErrNoValue for attribute annotations without a value.
func PositionOf(set *types.AnnotationSet, a *types.Annotation, schema *types.Schema) (Position, error) {
	layer, ok := schema.Layer(a.Type)
	if !ok {
		return Position{}, fmt.Errorf("layer %q: %w", a.Type, types.ErrSchema)
	}
	c, ok := capabilities[layer.Kind]
	if !ok {
		return Position{}, fmt.Errorf("layer %q kind %q: %w", a.Type, layer.Kind, types.ErrSchema)
	}
	if err := checkFeatures(a, layer); err != nil {
		return Position{}, err
	}
	return c.position(set, a, layer)
}

// checkFeatures rejects values for features the layer does not declare and
// link values on scalar features.
func checkFeatures(a *types.Annotation, layer *types.Layer) error {
	for name := range a.Features {
		if types.IsTechnicalFeature(name) {
			continue
		}
		def, ok := layer.FeatureDef(name)
		if !ok {
			return fmt.Errorf("layer %q feature %q: %w", layer.Name, name, types.ErrSchema)
		}
		if def.Type == types.FeatureLink && a.Features[name] != nil {
			return fmt.Errorf("layer %q feature %q: scalar value on link feature: %w", layer.Name, name, types.ErrSchema)
		}
	}
	for name := range a.Links {
		def, ok := layer.FeatureDef(name)
		if !ok || def.Type != types.FeatureLink {
			return fmt.Errorf("layer %q link feature %q: %w", layer.Name, name, types.ErrSchema)
		}
	}
	return nil
}

// Index maps every position in set to the ids found there, in All order.
// Annotations whose position cannot be derived are left out.
func Index(set *types.AnnotationSet, schema *types.Schema) map[Position][]types.ID {
	idx := make(map[Position][]types.ID)
	for _, a := range set.All() {
		pos, err := PositionOf(set, a, schema)
		if err != nil {
			continue
		}
		idx[pos] = append(idx[pos], a.ID)
	}
	return idx
}

// SortPositions sorts positions in place using Position.Less.
func SortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}
