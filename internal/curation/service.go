package curation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/concord/internal/diff"
	"github.com/mesh-intelligence/concord/internal/logging"
	"github.com/mesh-intelligence/concord/internal/merge"
	"github.com/mesh-intelligence/concord/internal/metrics"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// Service runs curation against a store. It is safe for concurrent use;
// writes to one document's merged set are serialized through the locker.
type Service struct {
	store   types.Store
	cfg     types.CurationConfig
	ttl     time.Duration
	locker  types.Locker
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMetrics records curation metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

// WithLocker replaces the in-process locker, for example with a Redis one
// shared by several replicas.
func WithLocker(l types.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
		s.ttl = ttl
	}
}

// WithConfig sets the curation parameters.
func WithConfig(cfg types.CurationConfig) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// New returns a Service reading from store.
func New(store types.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    types.DefaultLockTTL,
		locker: merge.NewMemoryLocker(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) mode() types.LinkMode {
	return s.cfg.EffectiveLinkMode()
}

func (s *Service) engine(schema *types.Schema) *merge.Engine {
	return merge.NewEngine(schema, s.mode(), s.logger)
}

// Diff compares every annotator's annotations of doc inside [begin, end)
// across all layers. An end <= 0 is unbounded.
func (s *Service) Diff(ctx context.Context, doc string, begin, end int) (*diff.Result, error) {
	schema, err := s.store.LayerSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("load layer schema: %w", err)
	}
	roster, err := s.LoadRoster(ctx, doc)
	if err != nil {
		return nil, err
	}
	return s.diff(schema, roster, begin, end, "document"), nil
}

func (s *Service) diff(schema *types.Schema, roster *Roster, begin, end int, scope string) *diff.Result {
	start := time.Now()
	res := diff.Diff(diff.Request{
		EntryTypes: schema.Names(),
		Schema:     schema,
		Sets:       roster.Sets,
		Roster:     roster.Owners,
		Begin:      begin,
		End:        end,
		Mode:       s.mode(),
		Logger:     s.logger,
	})
	s.metrics.ObserveDiff(scope, start)
	s.metrics.Skipped(len(res.Skipped()))
	return res
}

func lockKey(doc string) string {
	return "merged:" + doc
}

// withLock runs fn while holding doc's merged-set lock.
func (s *Service) withLock(ctx context.Context, doc string, fn func() error) (err error) {
	unlock, err := s.locker.Lock(ctx, lockKey(doc), s.ttl)
	if err != nil {
		return fmt.Errorf("lock document %s: %w", doc, err)
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			s.logger.Warn("failed to release document lock", "document", doc, "error", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()
	return fn()
}

// Open returns a copy of doc's merged set. On first access the merged set is
// seeded from the annotators' sets and persisted.
func (s *Service) Open(ctx context.Context, doc string) (*types.AnnotationSet, error) {
	merged, err := s.store.ReadMergedSet(ctx, doc)
	if err == nil {
		return merged.Clone(), nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("read merged set: %w", err)
	}

	err = s.withLock(ctx, doc, func() error {
		schema, err := s.store.LayerSchema(ctx)
		if err != nil {
			return fmt.Errorf("load layer schema: %w", err)
		}
		merged, err = s.mergedLocked(ctx, doc, schema)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

// mergedLocked reads doc's merged set, seeding and persisting it when absent.
// The caller holds the document lock.
func (s *Service) mergedLocked(ctx context.Context, doc string, schema *types.Schema) (*types.AnnotationSet, error) {
	merged, err := s.store.ReadMergedSet(ctx, doc)
	if err == nil {
		return merged, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("read merged set: %w", err)
	}

	roster, err := s.LoadRoster(ctx, doc)
	if err != nil {
		return nil, err
	}
	res := s.diff(schema, roster, 0, diff.WholeDocument, "document")
	merged, rep := s.engine(schema).Seed(res, roster.Sets, roster.Finished, s.cfg.AllowIncompleteMerge)
	merged.Document = doc
	for i := 0; i < rep.Created; i++ {
		s.metrics.Merge(string(merge.OutcomeCreated))
	}

	if err := s.store.WriteMergedSet(ctx, doc, merged); err != nil {
		return nil, fmt.Errorf("write merged set: %w", err)
	}
	s.logger.Info("curation started", "document", doc, "seed", rep.Seed, "annotations", merged.Len())
	return merged, nil
}

// Merge adopts annotation id of owner into doc's merged set. The merge runs
// on a copy and is persisted only when it succeeds, so a failed merge leaves
// the stored set unchanged.
func (s *Service) Merge(ctx context.Context, doc, owner string, id types.ID) (merge.Outcome, error) {
	if owner == types.CuratorOwner {
		return "", fmt.Errorf("merge from %s: %w", owner, types.ErrInvalidData)
	}
	var outcome merge.Outcome
	err := s.withLock(ctx, doc, func() error {
		schema, err := s.store.LayerSchema(ctx)
		if err != nil {
			return fmt.Errorf("load layer schema: %w", err)
		}
		src, err := s.store.ReadAnnotationSet(ctx, doc, owner)
		if err != nil {
			return &types.LoadError{Owner: owner, Err: err}
		}
		a := src.Get(id)
		if a == nil {
			return fmt.Errorf("annotation %d of %s: %w", id, owner, types.ErrNotFound)
		}
		layer, ok := schema.Layer(a.Type)
		if !ok {
			return fmt.Errorf("layer %q: %w", a.Type, types.ErrSchema)
		}
		pos, err := diff.PositionOf(src, a, schema)
		if err != nil {
			return err
		}

		merged, err := s.mergedLocked(ctx, doc, schema)
		if err != nil {
			return err
		}
		work := merged.Clone()
		outcome, err = s.engine(schema).MergeInstance(work, pos, diff.Ref{Owner: owner, Set: src, Annotation: a}, layer.AllowStacking)
		if err != nil {
			return err
		}
		if err := s.store.WriteMergedSet(ctx, doc, work); err != nil {
			outcome = ""
			return fmt.Errorf("write merged set: %w", err)
		}
		s.logger.Info("merged annotation", "document", doc, "owner", owner, "id", id, "position", pos.String(), "outcome", outcome)
		return nil
	})

	switch {
	case errors.Is(err, types.ErrAlreadyMerged):
		s.metrics.Merge(string(merge.OutcomeAlreadyMerged))
	case err != nil:
		s.metrics.Merge("error")
	default:
		s.metrics.Merge(string(outcome))
	}
	return outcome, err
}

// Clear removes every annotation at pos from doc's merged set, together with
// relations attached to them. Links to them are detached. It returns the
// number removed.
func (s *Service) Clear(ctx context.Context, doc string, pos diff.Position) (int, error) {
	var removed int
	err := s.withLock(ctx, doc, func() error {
		schema, err := s.store.LayerSchema(ctx)
		if err != nil {
			return fmt.Errorf("load layer schema: %w", err)
		}
		merged, err := s.mergedLocked(ctx, doc, schema)
		if err != nil {
			return err
		}
		work := merged.Clone()
		removed = s.engine(schema).Clear(work, pos)
		if removed == 0 {
			return nil
		}
		if err := s.store.WriteMergedSet(ctx, doc, work); err != nil {
			removed = 0
			return fmt.Errorf("write merged set: %w", err)
		}
		s.logger.Info("cleared position", "document", doc, "position", pos.String(), "removed", removed)
		return nil
	})
	return removed, err
}
