package diff

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/concord/internal/logging"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// Ref addresses one annotation inside the set of the owner that produced it.
type Ref struct {
	Owner      string
	Set        *types.AnnotationSet
	Annotation *types.Annotation
}

// ID returns the stable id of the referenced annotation.
func (r Ref) ID() types.ID {
	if r.Annotation == nil {
		return 0
	}
	return r.Annotation.ID
}

// Comparer decides whether two annotations at the same position are
// identical. Every mode it supports is transitive.
type Comparer struct {
	Schema *types.Schema
	// Mode is the default link comparison mode; a layer's own LinkMode wins.
	Mode   types.LinkMode
	Logger *slog.Logger
}

// NewComparer returns a Comparer with a non-nil logger.
func NewComparer(schema *types.Schema, mode types.LinkMode, log *slog.Logger) *Comparer {
	return &Comparer{Schema: schema, Mode: mode, Logger: logging.OrNop(log)}
}

// Identical reports whether a and b carry the same position, the same value
// for every non-technical feature, and the same kind-specific structure.
func (c *Comparer) Identical(a, b Ref) bool {
	if a.Annotation == nil || b.Annotation == nil || a.Annotation.Type != b.Annotation.Type {
		return false
	}
	layer, ok := c.Schema.Layer(a.Annotation.Type)
	if !ok {
		return false
	}
	pa, err := PositionOf(a.Set, a.Annotation, c.Schema)
	if err != nil {
		return false
	}
	pb, err := PositionOf(b.Set, b.Annotation, c.Schema)
	if err != nil || pa != pb {
		return false
	}
	for _, f := range layer.ComparableFeatures() {
		if f.Type == types.FeatureLink {
			if !c.sameLinks(a, b, f.Name, c.linkMode(layer)) {
				return false
			}
			continue
		}
		if !c.sameScalar(layer.Name, f, a.Annotation.Feature(f.Name), b.Annotation.Feature(f.Name)) {
			return false
		}
	}
	return capabilities[layer.Kind].structure(c, a, b)
}

func (c *Comparer) linkMode(layer *types.Layer) types.LinkMode {
	if layer.LinkMode != "" {
		return layer.LinkMode
	}
	if c.Mode != "" {
		return c.Mode
	}
	return types.LinkTargetIdentity
}

func (c *Comparer) log() *slog.Logger {
	return logging.OrNop(c.Logger)
}

// samePlace reports whether two referenced annotations, each in its own
// set, sit at the same position. Cross-set identity is positional.
func (c *Comparer) samePlace(sa *types.AnnotationSet, ida types.ID, sb *types.AnnotationSet, idb types.ID) bool {
	a, b := sa.Get(ida), sb.Get(idb)
	if a == nil || b == nil {
		return false
	}
	pa, err := PositionOf(sa, a, c.Schema)
	if err != nil {
		return false
	}
	pb, err := PositionOf(sb, b, c.Schema)
	if err != nil {
		return false
	}
	return pa == pb
}

func (c *Comparer) sameLinks(a, b Ref, feature string, mode types.LinkMode) bool {
	la, lb := a.Annotation.Links[feature], b.Annotation.Links[feature]
	if len(la) != len(lb) {
		return false
	}
	for i := range la {
		if la[i].Role != lb[i].Role {
			return false
		}
		switch mode {
		case types.LinkTargetAsLabel:
			if !c.sameLabel(a.Set, la[i].Target, b.Set, lb[i].Target) {
				return false
			}
		default:
			if !c.samePlace(a.Set, la[i].Target, b.Set, lb[i].Target) {
				return false
			}
		}
	}
	return true
}

// sameLabel compares the label feature values of two link targets, ignoring
// where the targets are.
func (c *Comparer) sameLabel(sa *types.AnnotationSet, ida types.ID, sb *types.AnnotationSet, idb types.ID) bool {
	ta, tb := sa.Get(ida), sb.Get(idb)
	if ta == nil || tb == nil {
		return false
	}
	la, ok := c.Schema.Layer(ta.Type)
	if !ok {
		return false
	}
	lb, ok := c.Schema.Layer(tb.Type)
	if !ok {
		return false
	}
	na, nb := la.Label(), lb.Label()
	if na == "" || nb == "" {
		// Unlabeled targets only match targets of the same type.
		return na == nb && ta.Type == tb.Type
	}
	da, _ := la.FeatureDef(na)
	db, _ := lb.FeatureDef(nb)
	if da.Type != db.Type {
		// Labels of different types would be coerced by one side's rule only.
		return false
	}
	return c.sameScalar(la.Name, da, ta.Feature(na), tb.Feature(nb))
}

func (c *Comparer) sameScalar(layer string, f types.FeatureDef, x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	switch f.Type {
	case types.FeatureString:
		sx, okx := toString(x)
		sy, oky := toString(y)
		return okx && oky && sx == sy
	case types.FeatureInteger:
		ix, okx := toInt64(x)
		iy, oky := toInt64(y)
		return okx && oky && ix == iy
	case types.FeatureFloat:
		fx, okx := toFloat64(x)
		fy, oky := toFloat64(y)
		return okx && oky && fx == fy
	case types.FeatureBoolean:
		bx, okx := toBool(x)
		by, oky := toBool(y)
		return okx && oky && bx == by
	default:
		c.log().Warn("unknown feature type treated as differing",
			"layer", layer, "feature", f.Name, "type", f.Type)
		return false
	}
}

func toString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return "", false
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), uint64(x) <= math.MaxInt64
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float32:
		return wholeFloat(float64(x))
	case float64:
		return wholeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return wholeFloat(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func wholeFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), !math.IsNaN(float64(x))
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		if i, ok := toInt64(v); ok {
			return float64(i), true
		}
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	default:
		return false, false
	}
}
