package merge

import (
	"errors"
	"sort"

	"github.com/mesh-intelligence/concord/internal/diff"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// Failure records one automatic merge that did not happen.
type Failure struct {
	Position diff.Position
	Owner    string
	ID       types.ID
	Err      error
}

// Report summarizes a seed or automatic merge pass.
type Report struct {
	// Seed is the owner whose set was copied, empty for AutoMerge alone.
	Seed          string
	Created       int
	Updated       int
	AlreadyMerged int
	// Preserved counts eligible positions left alone because the merged set
	// already holds a different annotation there.
	Preserved int
	// Stripped counts seed annotations removed as ineligible, including
	// dependants left dangling.
	Stripped int
	Failures []Failure
}

func (r *Report) count(o Outcome) {
	switch o {
	case OutcomeCreated:
		r.Created++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeAlreadyMerged:
		r.AlreadyMerged++
	}
}

// ChooseSeedOwner picks the owner whose set seeds a new merged set: the
// smallest finished roster owner, else the smallest roster owner. The
// curator never seeds.
func ChooseSeedOwner(roster []string, finished map[string]bool) string {
	sorted := make([]string, 0, len(roster))
	for _, o := range roster {
		if o != types.CuratorOwner {
			sorted = append(sorted, o)
		}
	}
	sort.Strings(sorted)
	for _, o := range sorted {
		if finished[o] {
			return o
		}
	}
	if len(sorted) == 0 {
		return ""
	}
	return sorted[0]
}

// Seed builds the first merged set of a document. The seed owner's set is
// copied as the curator's, every annotation not at a merge-eligible position
// is stripped, and eligible positions the seed owner left empty are filled
// by AutoMerge. With an empty roster the merged set is empty.
func (e *Engine) Seed(result *diff.Result, sets map[string]*types.AnnotationSet, finished map[string]bool, allowIncomplete bool) (*types.AnnotationSet, *Report) {
	roster := result.Roster()
	seed := ChooseSeedOwner(roster, finished)

	var document string
	for _, s := range sets {
		document = s.Document
		break
	}

	var merged *types.AnnotationSet
	if src, ok := sets[seed]; ok && src != nil {
		merged = src.Clone()
		merged.Owner = types.CuratorOwner
	} else {
		merged = types.NewAnnotationSet(document, types.CuratorOwner)
	}

	rep := &Report{Seed: seed}
	for _, a := range merged.All() {
		pos, err := diff.PositionOf(merged, a, e.Schema)
		if err == nil {
			if cs, ok := result.Get(pos); ok && ShouldMerge(cs, roster, allowIncomplete) {
				continue
			}
		}
		merged.Remove(a.ID)
		rep.Stripped++
	}
	rep.Stripped += prune(merged)

	auto := e.AutoMerge(merged, result, allowIncomplete)
	rep.Created, rep.Updated = auto.Created, auto.Updated
	rep.AlreadyMerged, rep.Preserved = auto.AlreadyMerged, auto.Preserved
	rep.Failures = auto.Failures

	e.log().Info("seeded merged set",
		"document", merged.Document, "seed", seed,
		"kept", merged.Len(), "stripped", rep.Stripped,
		"created", rep.Created, "failures", len(rep.Failures))
	return merged, rep
}

// AutoMerge merges the representative of every merge-eligible position into
// merged. Positions that already hold a different annotation are preserved.
// Annotations that reference others are merged after plain ones, and
// attachment failures are retried while any pass makes progress. Errors are
// collected in the report and never stop the pass.
func (e *Engine) AutoMerge(merged *types.AnnotationSet, result *diff.Result, allowIncomplete bool) *Report {
	rep := &Report{}
	roster := result.Roster()

	var plain, dependent []*diff.ConfigurationSet
	for _, cs := range result.Sets() {
		if !ShouldMerge(cs, roster, allowIncomplete) {
			continue
		}
		if e.references(cs.Configurations[0].Representative) {
			dependent = append(dependent, cs)
		} else {
			plain = append(plain, cs)
		}
	}

	pending := append(plain, dependent...)
	for len(pending) > 0 {
		var retry []*diff.ConfigurationSet
		var last []Failure
		for _, cs := range pending {
			src := cs.Configurations[0].Representative
			if e.occupied(merged, cs.Position, src) {
				rep.Preserved++
				continue
			}
			outcome, err := e.MergeInstance(merged, cs.Position, src, false)
			switch {
			case errors.Is(err, types.ErrAlreadyMerged):
				rep.count(OutcomeAlreadyMerged)
			case errors.Is(err, types.ErrAttachmentNotFound):
				retry = append(retry, cs)
				last = append(last, Failure{Position: cs.Position, Owner: src.Owner, ID: src.ID(), Err: err})
			case err != nil:
				rep.Failures = append(rep.Failures, Failure{Position: cs.Position, Owner: src.Owner, ID: src.ID(), Err: err})
			default:
				rep.count(outcome)
			}
		}
		if len(retry) == len(pending) {
			rep.Failures = append(rep.Failures, last...)
			break
		}
		pending = retry
	}

	for _, f := range rep.Failures {
		e.log().Warn("automatic merge failed", "position", f.Position.String(), "owner", f.Owner, "id", f.ID, "error", f.Err)
	}
	return rep
}

// occupied reports whether merged holds an annotation at pos that differs
// from src.
func (e *Engine) occupied(merged *types.AnnotationSet, pos diff.Position, src diff.Ref) bool {
	ids := diff.Index(merged, e.Schema)[pos]
	if len(ids) == 0 {
		return false
	}
	cmp := diff.NewComparer(e.Schema, e.Mode, e.Logger)
	for _, id := range ids {
		if cmp.Identical(diff.Ref{Owner: merged.Owner, Set: merged, Annotation: merged.Get(id)}, src) {
			return false
		}
	}
	return true
}

// references reports whether merging r depends on other annotations being
// merged first.
func (e *Engine) references(r diff.Ref) bool {
	a := r.Annotation
	if a.Source != 0 || a.Target != 0 || a.Next != 0 {
		return true
	}
	for _, links := range a.Links {
		if len(links) > 0 {
			return true
		}
	}
	return false
}
