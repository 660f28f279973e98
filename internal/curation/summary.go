package curation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/concord/internal/diff"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// State is the agreement state of one segment.
type State string

// Segment states.
const (
	StateAgree    State = "AGREE"
	StateDisagree State = "DISAGREE"
)

// SegmentSummary is the agreement state of one segment.
type SegmentSummary struct {
	Segment types.Segment `json:"segment"`
	State   State         `json:"state"`
	// Positions is the number of positions annotated inside the segment.
	Positions int `json:"positions"`
	// Differing is the number of positions that block agreement.
	Differing int `json:"differing"`
}

// Summary is the per-segment agreement of one document.
type Summary struct {
	Document string           `json:"document"`
	Roster   []string         `json:"roster"`
	Excluded []string         `json:"excluded,omitempty"`
	Segments []SegmentSummary `json:"segments"`
}

// Disagreeing returns the segments in DISAGREE state.
func (s *Summary) Disagreeing() []SegmentSummary {
	var out []SegmentSummary
	for _, seg := range s.Segments {
		if seg.State == StateDisagree {
			out = append(out, seg)
		}
	}
	return out
}

// Classify returns DISAGREE when any position is stacked, holds more than
// one configuration, or lacks an owner of the roster; otherwise AGREE.
func Classify(res *diff.Result) (State, int) {
	differing := 0
	for _, cs := range res.Sets() {
		if cs.Stacked || !cs.Agreement() || !cs.Complete(res.Roster()) {
			differing++
		}
	}
	if differing > 0 {
		return StateDisagree, differing
	}
	return StateAgree, 0
}

// Summarize diffs every segment of doc and classifies it. Segments are
// diffed concurrently and reported in their stored order. A document without
// stored segments is summarized as a single segment.
func (s *Service) Summarize(ctx context.Context, doc string) (*Summary, error) {
	schema, err := s.store.LayerSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("load layer schema: %w", err)
	}
	segments, err := s.store.SegmentBoundaries(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("load segments of %s: %w", doc, err)
	}
	if len(segments) == 0 {
		segments = []types.Segment{{Begin: 0, End: diff.WholeDocument}}
	}
	roster, err := s.LoadRoster(ctx, doc)
	if err != nil {
		return nil, err
	}

	out := &Summary{
		Document: doc,
		Roster:   roster.Owners,
		Segments: make([]SegmentSummary, len(segments)),
	}
	for _, f := range roster.Failures {
		out.Excluded = append(out.Excluded, f.Owner)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := s.diff(schema, roster, seg.Begin, seg.End, "segment")
			state, differing := Classify(res)
			out.Segments[i] = SegmentSummary{Segment: seg, State: state, Positions: res.Len(), Differing: differing}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, seg := range out.Segments {
		s.metrics.Segment(string(seg.State))
	}
	s.logger.Debug("summarized document", "document", doc, "segments", len(out.Segments), "disagreeing", len(out.Disagreeing()))
	return out, nil
}
