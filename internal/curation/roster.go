package curation

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/concord/pkg/types"
)

// Roster is the set of annotators taking part in one curation pass.
type Roster struct {
	Document string
	// Owners lists the annotators whose sets loaded, sorted.
	Owners   []string
	Finished map[string]bool
	Sets     map[string]*types.AnnotationSet
	// Failures lists the owners left out because their set did not load.
	Failures []*types.LoadError
}

func (s *Service) workers() int {
	if s.cfg.Workers > 0 {
		return s.cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// LoadRoster lists doc's annotators and loads their sets. The curator is
// never part of the roster, and with FinishedOnly set unfinished annotators
// are left out. An owner whose set fails to load is logged and excluded;
// only a failure to list the owners is returned.
func (s *Service) LoadRoster(ctx context.Context, doc string) (*Roster, error) {
	owners, err := s.store.ListOwners(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("list owners of %s: %w", doc, err)
	}

	r := &Roster{
		Document: doc,
		Finished: make(map[string]bool),
		Sets:     make(map[string]*types.AnnotationSet),
	}
	var candidates []types.Owner
	seen := make(map[string]bool, len(owners))
	for _, o := range owners {
		if o.ID == types.CuratorOwner || seen[o.ID] {
			continue
		}
		if s.cfg.FinishedOnly && !o.Finished {
			continue
		}
		seen[o.ID] = true
		candidates = append(candidates, o)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for _, o := range candidates {
		o := o
		g.Go(func() error {
			set, err := s.store.ReadAnnotationSet(gctx, doc, o.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.Failures = append(r.Failures, &types.LoadError{Owner: o.ID, Err: err})
				return nil
			}
			r.Sets[o.ID] = set
			r.Finished[o.ID] = o.Finished
			r.Owners = append(r.Owners, o.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(r.Owners)
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].Owner < r.Failures[j].Owner })
	for _, f := range r.Failures {
		s.logger.Warn("annotation set failed to load, owner excluded", "document", doc, "owner", f.Owner, "error", f.Err)
		s.metrics.LoadFailure()
	}
	return r, nil
}
