package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/concord/internal/curation"
	"github.com/mesh-intelligence/concord/internal/diff"
	"github.com/mesh-intelligence/concord/internal/merge"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// Position states reported by the diff command.
const (
	stateAgree      = "agree"
	stateDisagree   = "disagree"
	stateIncomplete = "incomplete"
	stateStacked    = "stacked"
)

// diffEntry is the output shape of one position.
type diffEntry struct {
	Position       string        `json:"position"`
	State          string        `json:"state"`
	Owners         []string      `json:"owners"`
	Missing        []string      `json:"missing,omitempty"`
	Configurations []configEntry `json:"configurations"`
}

type configEntry struct {
	Owners  []string              `json:"owners"`
	Members map[string][]types.ID `json:"members"`
}

func positionState(cs *diff.ConfigurationSet, roster []string) string {
	switch {
	case cs.Stacked:
		return stateStacked
	case !cs.Agreement():
		return stateDisagree
	case !cs.Complete(roster):
		return stateIncomplete
	default:
		return stateAgree
	}
}

func newDiffEntry(cs *diff.ConfigurationSet, roster []string) diffEntry {
	e := diffEntry{
		Position: cs.Position.String(),
		State:    positionState(cs, roster),
		Owners:   cs.Owners(),
	}
	for _, o := range roster {
		if !cs.HasOwner(o) {
			e.Missing = append(e.Missing, o)
		}
	}
	for _, c := range cs.Configurations {
		e.Configurations = append(e.Configurations, configEntry{Owners: c.Owners(), Members: c.Members})
	}
	return e
}

func newDiffCmd(a *app) *cobra.Command {
	var begin, end int
	var differing bool
	cmd := &cobra.Command{
		Use:   "diff <document>",
		Short: "Compare the annotators' annotations of a document",
		Long: `Diff groups every annotator's annotations by position and reports, for
each position, whether the annotators agree.

States: agree, disagree (differing configurations), incomplete (some
annotators did not annotate the position) and stacked (one annotator placed
several annotations at the position).

Example:
  concord diff doc1
  concord diff doc1 --begin 40 --end 95 --differing`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := args[0]
			return a.withService(func(svc *curation.Service) error {
				res, err := svc.Diff(cmd.Context(), doc, begin, end)
				if err != nil {
					return classify(err)
				}

				roster := res.Roster()
				entries := make([]diffEntry, 0, res.Len())
				for _, cs := range res.Sets() {
					e := newDiffEntry(cs, roster)
					if differing && e.State == stateAgree {
						continue
					}
					entries = append(entries, e)
				}

				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"document":  doc,
						"roster":    roster,
						"positions": entries,
						"skipped":   len(res.Skipped()),
					})
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "POSITION\tSTATE\tCONFIGS\tOWNERS\tMISSING")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Position, e.State, len(e.Configurations),
						strings.Join(e.Owners, ","), strings.Join(e.Missing, ","))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&begin, "begin", 0, "start offset of the compared window")
	cmd.Flags().IntVar(&end, "end", diff.WholeDocument, "end offset of the compared window (0: end of document)")
	cmd.Flags().BoolVar(&differing, "differing", false, "list only positions that block agreement")
	return cmd
}

func newSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <document>",
		Short: "Report the agreement state of every segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := args[0]
			return a.withService(func(svc *curation.Service) error {
				sum, err := svc.Summarize(cmd.Context(), doc)
				if err != nil {
					return classify(err)
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), sum)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Roster: %s\n", strings.Join(sum.Roster, ", "))
				if len(sum.Excluded) > 0 {
					fmt.Fprintf(out, "Excluded: %s\n", strings.Join(sum.Excluded, ", "))
				}
				tw := newTable(out)
				fmt.Fprintln(tw, "SEGMENT\tSTATE\tPOSITIONS\tDIFFERING")
				for _, s := range sum.Segments {
					fmt.Fprintf(tw, "[%d,%d)\t%s\t%d\t%d\n", s.Segment.Begin, s.Segment.End, s.State, s.Positions, s.Differing)
				}
				return tw.Flush()
			})
		},
	}
}

func newCurateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "curate <document>",
		Short: "Open the merged set of a document",
		Long: `Curate prints the curated annotations of document. On first use the merged
set is seeded from the annotators: every position they agree on is merged
automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := args[0]
			return a.withService(func(svc *curation.Service) error {
				merged, err := svc.Open(cmd.Context(), doc)
				if err != nil {
					return classify(err)
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), merged)
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tTYPE\tBEGIN\tEND\tFEATURES")
				for _, ann := range merged.All() {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", ann.ID, ann.Type, ann.Begin, ann.End, formatFeatures(ann))
				}
				return tw.Flush()
			})
		},
	}
}

// formatFeatures renders scalar features as sorted key=value pairs.
func formatFeatures(ann *types.Annotation) string {
	keys := make([]string, 0, len(ann.Features))
	for k := range ann.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ann.Features[k]))
	}
	return strings.Join(parts, ",")
}

func newMergeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <document> <owner> <id>",
		Short: "Merge one annotator's annotation into the merged set",
		Long: `Merge adopts annotation id of owner into the merged set of document. It
prints CREATED, UPDATED or ALREADY_MERGED.

Example:
  concord merge doc1 alice 12`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, owner := args[0], args[1]
			id, err := parseID(args[2])
			if err != nil {
				return err
			}
			return a.withService(func(svc *curation.Service) error {
				outcome, err := svc.Merge(cmd.Context(), doc, owner, id)
				if err != nil && !errors.Is(err, types.ErrAlreadyMerged) {
					return classify(err)
				}
				if errors.Is(err, types.ErrAlreadyMerged) {
					outcome = merge.OutcomeAlreadyMerged
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"document": doc,
						"owner":    owner,
						"id":       id,
						"outcome":  outcome,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), outcome)
				return nil
			})
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <document> <position>",
		Short: "Remove a position from the merged set",
		Long: `Clear removes every merged annotation at position, together with relations
attached to them. Links pointing at them are detached. Positions use the form
printed by diff.

Example:
  concord clear doc1 'NE[0,5)'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := args[0]
			pos, err := diff.ParsePosition(args[1])
			if err != nil {
				return exitError(exitUserError, err)
			}
			return a.withService(func(svc *curation.Service) error {
				removed, err := svc.Clear(cmd.Context(), doc, pos)
				if err != nil {
					return classify(err)
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"document": doc,
						"position": pos.String(),
						"removed":  removed,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d annotations at %s\n", removed, pos)
				return nil
			})
		},
	}
}
