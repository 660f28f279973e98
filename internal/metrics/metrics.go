// Package metrics instruments curation with Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "concord"

// Recorder holds the curation collectors. A nil *Recorder records nothing.
type Recorder struct {
	merges       *prometheus.CounterVec
	segments     *prometheus.CounterVec
	loadFailures prometheus.Counter
	skipped      prometheus.Counter
	diffDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests independent of the default one.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Merge attempts by outcome.",
		}, []string{"outcome"}),
		segments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Summarized segments by state.",
		}, []string{"state"}),
		loadFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Annotation sets that failed to load and were left out of the roster.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_annotations_total",
			Help:      "Annotations left out of a diff because their position could not be derived.",
		}),
		diffDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diff_duration_seconds",
			Help:      "Diff duration by scope.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"scope"}),
	}
}

// Merge counts one merge outcome. Failed merges use the "error" outcome.
func (r *Recorder) Merge(outcome string) {
	if r == nil {
		return
	}
	r.merges.WithLabelValues(outcome).Inc()
}

// Segment counts one summarized segment.
func (r *Recorder) Segment(state string) {
	if r == nil {
		return
	}
	r.segments.WithLabelValues(state).Inc()
}

// LoadFailure counts one annotation set that failed to load.
func (r *Recorder) LoadFailure() {
	if r == nil {
		return
	}
	r.loadFailures.Inc()
}

// Skipped counts n annotations left out of a diff.
func (r *Recorder) Skipped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.skipped.Add(float64(n))
}

// ObserveDiff records how long a diff of the given scope took since start.
func (r *Recorder) ObserveDiff(scope string, start time.Time) {
	if r == nil {
		return
	}
	r.diffDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
}
