// Package cli implements the concord command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/concord/internal/logging"
	"github.com/mesh-intelligence/concord/internal/metrics"
	"github.com/mesh-intelligence/concord/internal/paths"
	"github.com/mesh-intelligence/concord/pkg/concord"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir   string
	dataDir     string
	jsonMode    bool
	logLevel    string
	metricsFile string
}

// app is the state shared by one invocation of the command tree.
type app struct {
	flags rootFlags

	dirs     paths.Dirs
	cfg      types.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	// stderr receives log records; tests replace it.
	stderr io.Writer
}

// NewRootCmd creates the top-level "concord" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{stderr: os.Stderr}

	root := &cobra.Command{
		Use:     "concord",
		Short:   "Compare and curate annotations from several annotators",
		Long:    "Concord diffs the annotation sets of several annotators of one document,\nreports where they agree, and curates them into a merged set.",
		Version: concord.Version,
		// Errors are printed by Execute with the exit code they carry.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.writeMetrics()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $(CWD)/.concord if present, else the per-user config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.concord-db)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output as JSON")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error (default: config log_level, else info)")
	pf.StringVar(&a.flags.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newSegmentsCmd(a))
	root.AddCommand(newLayersCmd(a))
	root.AddCommand(newDiffCmd(a))
	root.AddCommand(newSummaryCmd(a))
	root.AddCommand(newCurateCmd(a))
	root.AddCommand(newMergeCmd(a))
	root.AddCommand(newClearCmd(a))

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	err := root.Execute()
	if err == nil {
		os.Exit(exitSuccess)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitCode(err))
}

// setup resolves directories, loads config.yaml and builds the logger and
// metrics shared by the subcommands.
func (a *app) setup() error {
	var cfg types.Config
	dirs, err := paths.Resolve(a.flags.configDir, a.flags.dataDir, func(configDir string) (string, error) {
		v, err := loadConfig(configDir)
		if err != nil {
			return "", err
		}
		cfg, err = decodeConfig(v)
		return cfg.DataDir, err
	})
	if err != nil {
		return exitError(exitUserError, err)
	}
	cfg.DataDir = dirs.Data
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return exitError(exitUserError, err)
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitUserError, fmt.Errorf("invalid config: %w", err))
	}

	a.dirs = dirs
	a.cfg = cfg
	a.logger = logging.NewWriter(a.stderr, level)
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	return nil
}

// writeMetrics dumps the registry in the Prometheus text format when
// --metrics-file is set.
func (a *app) writeMetrics() error {
	if a.flags.metricsFile == "" || a.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.flags.metricsFile, a.registry); err != nil {
		return exitError(exitSysError, fmt.Errorf("write metrics: %w", err))
	}
	return nil
}

// codedError carries the process exit code of a failed command.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

// exitError tags err with the exit code Execute should use.
func exitError(code int, err error) error {
	return &codedError{code: code, err: err}
}

// exitCode maps a command error to a process exit code. Untagged errors,
// such as flag parsing failures, are user errors.
func exitCode(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitUserError
}

// classify tags a store or curation error: bad input and missing entities
// are user errors, everything else is a system error.
func classify(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidData),
		errors.Is(err, types.ErrSchema),
		errors.Is(err, types.ErrPositionMismatch),
		errors.Is(err, types.ErrAttachmentNotFound),
		errors.Is(err, types.ErrAmbiguousAttachment):
		return exitError(exitUserError, err)
	default:
		return exitError(exitSysError, err)
	}
}
