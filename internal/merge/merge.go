package merge

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/concord/internal/diff"
	"github.com/mesh-intelligence/concord/internal/logging"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// Outcome is the result of a single merge.
type Outcome string

// Merge outcomes.
const (
	OutcomeCreated       Outcome = "CREATED"
	OutcomeUpdated       Outcome = "UPDATED"
	OutcomeAlreadyMerged Outcome = "ALREADY_MERGED"
)

// ShouldMerge is the policy gate for automatic merging: the set must not be
// stacked, must be complete for roster unless allowIncomplete is set, and
// must hold exactly one configuration.
func ShouldMerge(cs *diff.ConfigurationSet, roster []string, allowIncomplete bool) bool {
	if cs == nil || cs.Stacked {
		return false
	}
	if !allowIncomplete && !cs.Complete(roster) {
		return false
	}
	return cs.Agreement()
}

// Engine applies merges to a curated annotation set.
type Engine struct {
	Schema *types.Schema
	// Mode is the link comparison mode used to detect already-merged
	// annotations.
	Mode   types.LinkMode
	Logger *slog.Logger
}

// NewEngine returns an Engine with a non-nil logger.
func NewEngine(schema *types.Schema, mode types.LinkMode, log *slog.Logger) *Engine {
	return &Engine{Schema: schema, Mode: mode, Logger: logging.OrNop(log)}
}

func (e *Engine) log() *slog.Logger {
	return logging.OrNop(e.Logger)
}

// MergeInstance adopts src into merged at pos.
//
// It returns ErrAlreadyMerged with OutcomeAlreadyMerged when an identical
// annotation is already there. Otherwise it creates a new annotation when the
// position is empty or stacking is allowed, and overwrites the existing
// annotation when it is not. Relation endpoints, link targets and chain
// successors are remapped into merged by position. Every check runs before
// the first write, so a failed merge leaves merged unchanged.
func (e *Engine) MergeInstance(merged *types.AnnotationSet, pos diff.Position, src diff.Ref, allowStacking bool) (Outcome, error) {
	if src.Annotation == nil || src.Set == nil {
		return "", fmt.Errorf("merge at %s: %w", pos, types.ErrInvalidData)
	}
	layer, ok := e.Schema.Layer(src.Annotation.Type)
	if !ok {
		return "", fmt.Errorf("merge %s: layer %q: %w", pos, src.Annotation.Type, types.ErrSchema)
	}
	srcPos, err := diff.PositionOf(src.Set, src.Annotation, e.Schema)
	if err != nil {
		return "", fmt.Errorf("merge %s: %w", pos, err)
	}
	if srcPos != pos {
		return "", fmt.Errorf("merge %s: source is at %s: %w", pos, srcPos, types.ErrPositionMismatch)
	}

	idx := diff.Index(merged, e.Schema)
	existing := idx[pos]
	cmp := diff.NewComparer(e.Schema, e.Mode, e.Logger)
	for _, id := range existing {
		cur := diff.Ref{Owner: merged.Owner, Set: merged, Annotation: merged.Get(id)}
		if cmp.Identical(cur, src) {
			return OutcomeAlreadyMerged, fmt.Errorf("merge %s from %s: %w", pos, src.Owner, types.ErrAlreadyMerged)
		}
	}

	candidate, err := e.materialize(merged, idx, src, layer)
	if err != nil {
		return "", fmt.Errorf("merge %s from %s: %w", pos, src.Owner, err)
	}

	if len(existing) == 0 || allowStacking {
		if _, err := merged.Add(candidate); err != nil {
			return "", fmt.Errorf("merge %s from %s: %w", pos, src.Owner, err)
		}
		e.log().Debug("merged annotation", "position", pos.String(), "owner", src.Owner, "outcome", OutcomeCreated)
		return OutcomeCreated, nil
	}

	target := merged.Get(existing[0])
	target.Begin, target.End = candidate.Begin, candidate.End
	target.Features = candidate.Features
	target.Links = candidate.Links
	target.Source, target.Target, target.Next = candidate.Source, candidate.Target, candidate.Next
	e.log().Debug("merged annotation", "position", pos.String(), "owner", src.Owner, "outcome", OutcomeUpdated)
	return OutcomeUpdated, nil
}

// materialize builds the annotation to write into merged without touching
// it: non-technical features are copied and references remapped.
func (e *Engine) materialize(merged *types.AnnotationSet, idx map[diff.Position][]types.ID, src diff.Ref, layer *types.Layer) (*types.Annotation, error) {
	a := src.Annotation
	out := &types.Annotation{Type: a.Type, Begin: a.Begin, End: a.End}

	for _, f := range layer.ComparableFeatures() {
		if f.Type == types.FeatureLink {
			links := a.Links[f.Name]
			if len(links) == 0 {
				continue
			}
			remapped := make([]types.Link, len(links))
			for i, l := range links {
				id, err := e.attach(merged, idx, src.Set, l.Target, "link "+f.Name)
				if err != nil {
					return nil, err
				}
				remapped[i] = types.Link{Role: l.Role, Target: id}
			}
			if out.Links == nil {
				out.Links = make(map[string][]types.Link)
			}
			out.Links[f.Name] = remapped
			continue
		}
		if v := a.Feature(f.Name); v != nil {
			if out.Features == nil {
				out.Features = make(map[string]any)
			}
			out.Features[f.Name] = v
		}
	}

	if err := kinds[layer.Kind](e, merged, idx, src, out); err != nil {
		return nil, err
	}
	return out, nil
}

// kindMerge completes a candidate with what the layer kind adds.
type kindMerge func(e *Engine, merged *types.AnnotationSet, idx map[diff.Position][]types.ID, src diff.Ref, out *types.Annotation) error

var kinds = map[types.LayerKind]kindMerge{
	types.LayerSpan:      func(*Engine, *types.AnnotationSet, map[diff.Position][]types.ID, diff.Ref, *types.Annotation) error { return nil },
	types.LayerAttribute: func(*Engine, *types.AnnotationSet, map[diff.Position][]types.ID, diff.Ref, *types.Annotation) error { return nil },
	types.LayerRelation:  mergeRelation,
	types.LayerChain:     mergeChain,
}

func mergeRelation(e *Engine, merged *types.AnnotationSet, idx map[diff.Position][]types.ID, src diff.Ref, out *types.Annotation) error {
	source, err := e.attach(merged, idx, src.Set, src.Annotation.Source, "source")
	if err != nil {
		return err
	}
	target, err := e.attach(merged, idx, src.Set, src.Annotation.Target, "target")
	if err != nil {
		return err
	}
	t := merged.Get(target)
	out.Source, out.Target = source, target
	out.Begin, out.End = t.Begin, t.End
	return nil
}

// mergeChain links the successor when it is already merged and leaves the
// element unlinked otherwise.
func mergeChain(e *Engine, merged *types.AnnotationSet, idx map[diff.Position][]types.ID, src diff.Ref, out *types.Annotation) error {
	if src.Annotation.Next == 0 {
		return nil
	}
	next, err := e.attach(merged, idx, src.Set, src.Annotation.Next, "next")
	if errors.Is(err, types.ErrAttachmentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	out.Next = next
	return nil
}

// attach finds the annotation in merged at the position of srcSet's
// annotation id. Exactly one must exist.
func (e *Engine) attach(merged *types.AnnotationSet, idx map[diff.Position][]types.ID, srcSet *types.AnnotationSet, id types.ID, what string) (types.ID, error) {
	ref := srcSet.Get(id)
	if ref == nil {
		return 0, fmt.Errorf("%s %d: %w", what, id, types.ErrDanglingReference)
	}
	pos, err := diff.PositionOf(srcSet, ref, e.Schema)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	ids := idx[pos]
	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("%s at %s: %w", what, pos, types.ErrAttachmentNotFound)
	case 1:
		return ids[0], nil
	default:
		return 0, fmt.Errorf("%s at %s has %d candidates: %w", what, pos, len(ids), types.ErrAmbiguousAttachment)
	}
}

// Clear removes every annotation at pos, along with relations attached to
// them. Links targeting them are detached from their holders, which stay, and
// chain references to them are unlinked. It returns the number of
// annotations removed.
func (e *Engine) Clear(merged *types.AnnotationSet, pos diff.Position) int {
	ids := diff.Index(merged, e.Schema)[pos]
	if len(ids) == 0 {
		return 0
	}
	for _, id := range ids {
		merged.Remove(id)
	}
	removed := len(ids) + prune(merged)
	e.log().Debug("cleared position", "position", pos.String(), "removed", removed)
	return removed
}

// prune repairs references after removals until nothing dangles: relations
// with a missing endpoint are removed, link slots with a missing target are
// dropped and chain successors are unlinked. It returns the number of
// annotations removed.
func prune(set *types.AnnotationSet) int {
	removed := 0
	for {
		changed := false
		for _, a := range set.All() {
			if a.Next != 0 && set.Get(a.Next) == nil {
				a.Next = 0
			}
			detachLinks(set, a)
			if danglingRelation(set, a) {
				set.Remove(a.ID)
				removed++
				changed = true
			}
		}
		if !changed {
			return removed
		}
	}
}

func danglingRelation(set *types.AnnotationSet, a *types.Annotation) bool {
	if a.Source == 0 && a.Target == 0 {
		return false
	}
	return set.Get(a.Source) == nil || set.Get(a.Target) == nil
}

// detachLinks drops the link slots of a whose target is gone. A feature left
// without slots is removed from the map.
func detachLinks(set *types.AnnotationSet, a *types.Annotation) {
	for name, links := range a.Links {
		kept := make([]types.Link, 0, len(links))
		for _, l := range links {
			if set.Get(l.Target) != nil {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(a.Links, name)
		} else {
			a.Links[name] = kept
		}
	}
}
