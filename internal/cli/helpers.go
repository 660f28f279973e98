package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/mesh-intelligence/concord/internal/curation"
	"github.com/mesh-intelligence/concord/internal/redis"
	"github.com/mesh-intelligence/concord/pkg/sqlite"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// withBackend attaches a SQLite backend for the duration of fn. A detach
// failure is reported only when fn succeeded.
func (a *app) withBackend(fn func(b *sqlite.Backend) error) (err error) {
	b, err := sqlite.Open(a.cfg, a.logger)
	if err != nil {
		return exitError(exitSysError, fmt.Errorf("attach backend: %w", err))
	}
	defer func() {
		if derr := b.Detach(); derr != nil && err == nil {
			err = exitError(exitSysError, fmt.Errorf("detach backend: %w", derr))
		}
	}()
	return fn(b)
}

// withService runs fn with a curation service over an attached backend.
// The lock backend follows the lock section of config.yaml.
func (a *app) withService(fn func(svc *curation.Service) error) error {
	return a.withBackend(func(b *sqlite.Backend) error {
		opts := []curation.Option{
			curation.WithLogger(a.logger),
			curation.WithMetrics(a.metrics),
			curation.WithConfig(a.cfg.Curation),
		}
		if a.cfg.Lock.Backend == types.LockRedis {
			l := redis.New(a.cfg.Lock.RedisAddr)
			defer l.Close()
			opts = append(opts, curation.WithLocker(l, a.cfg.Lock.EffectiveTTL()))
		} else {
			opts = append(opts, curation.WithLocker(nil, a.cfg.Lock.EffectiveTTL()))
		}
		return fn(curation.New(b, opts...))
	})
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitError(exitSysError, fmt.Errorf("marshal output: %w", err))
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// newTable returns a tabwriter for aligned text output. Callers must Flush.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// parseID parses an annotation id argument.
func parseID(s string) (types.ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, exitError(exitUserError, fmt.Errorf("invalid annotation id %q: %w", s, types.ErrInvalidID))
	}
	return types.ID(n), nil
}
