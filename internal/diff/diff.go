package diff

import (
	"errors"
	"log/slog"

	"github.com/mesh-intelligence/concord/internal/logging"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// WholeDocument as Request.End selects every annotation after Begin.
const WholeDocument = 0

// Request describes one diff pass.
type Request struct {
	// EntryTypes lists the layers to compare.
	EntryTypes []string
	Schema     *types.Schema
	// Sets maps each owner to its annotation set.
	Sets map[string]*types.AnnotationSet
	// Roster is the expected set of owners. Empty means the keys of Sets.
	// Owners in Sets but not in Roster are ignored.
	Roster []string
	// Begin and End bound the window [Begin, End); End <= 0 is unbounded.
	Begin, End int
	Mode       types.LinkMode
	Logger     *slog.Logger
}

// Diff groups the annotations of every owner by position and buckets each
// position into configurations. Malformed annotations are skipped and
// recorded in Result.Skipped; they never abort the pass. The result does
// not depend on map iteration or roster order.
func Diff(req Request) *Result {
	log := logging.OrNop(req.Logger)

	roster := req.Roster
	if len(roster) == 0 {
		roster = sortedKeys(req.Sets)
	}
	res := newResult(roster)
	if len(req.EntryTypes) == 0 || len(req.Sets) == 0 {
		return res
	}

	entry := make(map[string]bool, len(req.EntryTypes))
	for _, t := range req.EntryTypes {
		entry[t] = true
	}
	active := make(map[string]bool, len(res.roster))
	for _, o := range res.roster {
		active[o] = true
	}

	cmp := NewComparer(req.Schema, req.Mode, log)
	for _, owner := range sortedKeys(req.Sets) {
		if !active[owner] {
			continue
		}
		set := req.Sets[owner]
		if set == nil {
			continue
		}
		for _, a := range set.All() {
			if !entry[a.Type] {
				continue
			}
			// The window applies to the derived position: a relation sits
			// where its target is, whatever its own offsets say.
			pos, err := PositionOf(set, a, req.Schema)
			if errors.Is(err, ErrNoValue) {
				continue
			}
			if err != nil {
				if !types.InWindow(a.Begin, a.End, req.Begin, req.End) {
					continue
				}
				res.skipped = append(res.skipped, Skip{Owner: owner, ID: a.ID, Type: a.Type, Err: err})
				log.Warn("skipping annotation", "owner", owner, "id", a.ID, "type", a.Type, "error", err)
				continue
			}
			if !types.InWindow(pos.Begin, pos.End, req.Begin, req.End) {
				continue
			}
			res.add(pos, Ref{Owner: owner, Set: set, Annotation: a}, cmp)
		}
	}
	return res
}
