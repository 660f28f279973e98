package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/concord/pkg/sqlite"
	"github.com/mesh-intelligence/concord/pkg/types"
)

func newImportCmd(a *app) *cobra.Command {
	var finished bool
	cmd := &cobra.Command{
		Use:   "import <document> <owner> <file.json>",
		Short: "Import one annotator's annotation set",
		Long: `Import stores the annotation set in file.json as owner's annotations of
document, replacing any set the owner had before. The file holds an object
with an "annotations" array; ids inside the file must be unique.

Example:
  concord import doc1 alice alice.json --finished`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, owner, file := args[0], args[1], args[2]

			data, err := os.ReadFile(file)
			if err != nil {
				return exitError(exitUserError, fmt.Errorf("read %s: %w", file, err))
			}
			var set types.AnnotationSet
			if err := json.Unmarshal(data, &set); err != nil {
				return exitError(exitUserError, fmt.Errorf("parse %s: %w", file, err))
			}
			set.Document = doc
			set.Owner = owner

			return a.withBackend(func(b *sqlite.Backend) error {
				if err := b.PutAnnotationSet(cmd.Context(), doc, owner, finished, &set); err != nil {
					return classify(fmt.Errorf("import %s for %s: %w", doc, owner, err))
				}
				rev, err := b.Revision(cmd.Context(), doc, owner)
				if err != nil {
					return classify(err)
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"document":    doc,
						"owner":       owner,
						"finished":    finished,
						"annotations": set.Len(),
						"revision":    rev,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d annotations of %s for %s (revision %s)\n", set.Len(), doc, owner, rev)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&finished, "finished", false, "mark the owner as finished with the document")
	return cmd
}

func newSegmentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "segments <document> [begin:end...]",
		Short: "Set or list the display segments of a document",
		Long: `Segments replaces the segmentation of document with the given windows.
Without windows it lists the stored segments.

Example:
  concord segments doc1 0:40 40:95 95:160
  concord segments doc1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := args[0]
			segments := make([]types.Segment, 0, len(args)-1)
			for _, arg := range args[1:] {
				s, err := parseSegment(arg)
				if err != nil {
					return exitError(exitUserError, err)
				}
				segments = append(segments, s)
			}

			return a.withBackend(func(b *sqlite.Backend) error {
				if len(segments) > 0 {
					if err := b.PutSegments(cmd.Context(), doc, segments); err != nil {
						return classify(fmt.Errorf("set segments of %s: %w", doc, err))
					}
				} else {
					var err error
					segments, err = b.SegmentBoundaries(cmd.Context(), doc)
					if err != nil {
						return classify(fmt.Errorf("list segments of %s: %w", doc, err))
					}
				}

				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), segments)
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "#\tBEGIN\tEND")
				for i, s := range segments {
					fmt.Fprintf(tw, "%d\t%d\t%d\n", i, s.Begin, s.End)
				}
				return tw.Flush()
			})
		},
	}
}

// parseSegment parses "begin:end".
func parseSegment(s string) (types.Segment, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return types.Segment{}, fmt.Errorf("invalid segment %q (expected begin:end)", s)
	}
	begin, err := strconv.Atoi(parts[0])
	if err != nil {
		return types.Segment{}, fmt.Errorf("invalid segment %q: begin: %w", s, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return types.Segment{}, fmt.Errorf("invalid segment %q: end: %w", s, err)
	}
	return types.Segment{Begin: begin, End: end}, nil
}

func newLayersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layers [file.yaml]",
		Short: "Set or list the layer schema",
		Long: `Layers validates file.yaml and stores it as the layer schema. Without a
file it lists the stored layers.

Example:
  concord layers layers.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var schema *types.Schema
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return exitError(exitUserError, fmt.Errorf("read %s: %w", args[0], err))
				}
				schema, err = sqlite.ParseLayers(data)
				if err != nil {
					return exitError(exitUserError, fmt.Errorf("parse %s: %w", args[0], err))
				}
			}

			return a.withBackend(func(b *sqlite.Backend) error {
				var err error
				if schema != nil {
					err = b.PutLayers(cmd.Context(), schema)
				} else {
					schema, err = b.LayerSchema(cmd.Context())
				}
				if err != nil {
					return classify(err)
				}

				layers := schema.Layers()
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), layers)
				}
				if len(args) == 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "Stored %d layers in %s\n", len(layers), a.dirs.LayersFile())
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "NAME\tKIND\tSTACKING\tFEATURES")
				for _, l := range layers {
					names := make([]string, 0, len(l.Features))
					for _, f := range l.Features {
						names = append(names, f.Name+":"+string(f.Type))
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", l.Name, l.Kind, l.AllowStacking, strings.Join(names, ","))
				}
				return tw.Flush()
			})
		},
	}
}
