package types

import (
	"fmt"
	"sort"
)

// LayerKind selects how annotations of a layer are positioned, compared and
// merged.
type LayerKind string

// Layer kinds.
const (
	LayerSpan      LayerKind = "span"
	LayerRelation  LayerKind = "relation"
	LayerChain     LayerKind = "chain"
	LayerAttribute LayerKind = "attribute"
)

var validLayerKinds = map[LayerKind]bool{
	LayerSpan:      true,
	LayerRelation:  true,
	LayerChain:     true,
	LayerAttribute: true,
}

// FeatureType is the value type of a feature.
type FeatureType string

// Feature value types.
const (
	FeatureString  FeatureType = "string"
	FeatureInteger FeatureType = "integer"
	FeatureFloat   FeatureType = "float"
	FeatureBoolean FeatureType = "boolean"
	FeatureLink    FeatureType = "link"
)

var validFeatureTypes = map[FeatureType]bool{
	FeatureString:  true,
	FeatureInteger: true,
	FeatureFloat:   true,
	FeatureBoolean: true,
	FeatureLink:    true,
}

// IsValidFeatureType reports whether t is a recognized feature type.
func IsValidFeatureType(t FeatureType) bool {
	return validFeatureTypes[t]
}

// LinkMode controls how link-valued features are compared.
type LinkMode string

// Link comparison modes.
const (
	// LinkTargetIdentity matches links whose targets sit at the same position.
	LinkTargetIdentity LinkMode = "target-identity"
	// LinkTargetAsLabel matches links whose targets carry the same label,
	// wherever the targets are.
	LinkTargetAsLabel LinkMode = "target-as-label"
)

// IsValidLinkMode reports whether m is a recognized mode. The empty mode is
// valid and means "inherit".
func IsValidLinkMode(m LinkMode) bool {
	return m == "" || m == LinkTargetIdentity || m == LinkTargetAsLabel
}

// FeatureDef declares one feature of a layer.
type FeatureDef struct {
	Name      string      `json:"name" yaml:"name"`
	Type      FeatureType `json:"type" yaml:"type"`
	Technical bool        `json:"technical,omitempty" yaml:"technical,omitempty"`
}

// Layer is the schema of one annotation type.
type Layer struct {
	Name          string       `json:"name" yaml:"name"`
	Kind          LayerKind    `json:"kind" yaml:"kind"`
	Features      []FeatureDef `json:"features,omitempty" yaml:"features,omitempty"`
	AllowStacking bool         `json:"allow_stacking,omitempty" yaml:"allow_stacking,omitempty"`
	// LinkMode overrides the request-wide link mode for this layer's link
	// features when set.
	LinkMode LinkMode `json:"link_mode,omitempty" yaml:"link_mode,omitempty"`
	// LabelFeature names the feature compared when this layer's annotations
	// are link targets under LinkTargetAsLabel.
	LabelFeature string `json:"label_feature,omitempty" yaml:"label_feature,omitempty"`
}

// Validate checks the layer definition.
func (l *Layer) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("layer name empty: %w", ErrSchema)
	}
	if !validLayerKinds[l.Kind] {
		return fmt.Errorf("layer %s: unknown kind %q: %w", l.Name, l.Kind, ErrSchema)
	}
	if !IsValidLinkMode(l.LinkMode) {
		return fmt.Errorf("layer %s: unknown link mode %q: %w", l.Name, l.LinkMode, ErrSchema)
	}
	seen := make(map[string]bool, len(l.Features))
	for _, f := range l.Features {
		if f.Name == "" {
			return fmt.Errorf("layer %s: feature name empty: %w", l.Name, ErrSchema)
		}
		if seen[f.Name] {
			return fmt.Errorf("layer %s: duplicate feature %q: %w", l.Name, f.Name, ErrSchema)
		}
		seen[f.Name] = true
		if !f.Technical && !IsValidFeatureType(f.Type) {
			return fmt.Errorf("layer %s: feature %s: unknown type %q: %w", l.Name, f.Name, f.Type, ErrSchema)
		}
	}
	if l.Kind == LayerAttribute && len(l.ComparableFeatures()) == 0 {
		return fmt.Errorf("layer %s: attribute layer without features: %w", l.Name, ErrSchema)
	}
	return nil
}

// ComparableFeatures returns the non-technical features in declaration order.
func (l *Layer) ComparableFeatures() []FeatureDef {
	out := make([]FeatureDef, 0, len(l.Features))
	for _, f := range l.Features {
		if f.Technical || IsTechnicalFeature(f.Name) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// FeatureDef returns the named feature definition.
func (l *Layer) FeatureDef(name string) (FeatureDef, bool) {
	for _, f := range l.Features {
		if f.Name == name {
			return f, true
		}
	}
	return FeatureDef{}, false
}

// Label returns the name of the feature used as this layer's label: the
// declared LabelFeature, else the first non-technical scalar feature.
func (l *Layer) Label() string {
	if l.LabelFeature != "" {
		return l.LabelFeature
	}
	for _, f := range l.ComparableFeatures() {
		if f.Type != FeatureLink {
			return f.Name
		}
	}
	return ""
}

// Schema maps layer names to layers. It is immutable once built and safe for
// concurrent use.
type Schema struct {
	layers map[string]*Layer
}

// NewSchema validates the layers and builds a Schema.
func NewSchema(layers ...Layer) (*Schema, error) {
	s := &Schema{layers: make(map[string]*Layer, len(layers))}
	for i := range layers {
		l := layers[i]
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.layers[l.Name]; dup {
			return nil, fmt.Errorf("duplicate layer %q: %w", l.Name, ErrSchema)
		}
		s.layers[l.Name] = &l
	}
	return s, nil
}

// Layer returns the named layer.
func (s *Schema) Layer(name string) (*Layer, bool) {
	if s == nil {
		return nil, false
	}
	l, ok := s.layers[name]
	return l, ok
}

// Names returns the layer names in sorted order.
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.layers))
	for n := range s.layers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Layers returns copies of all layers, sorted by name.
func (s *Schema) Layers() []Layer {
	out := make([]Layer, 0, len(s.Names()))
	for _, n := range s.Names() {
		out = append(out, *s.layers[n])
	}
	return out
}
