// Package metrics counts trial outcomes in a Prometheus registry and writes
// them in the node_exporter textfile format for CI scraping.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalnine/stopprobe/internal/result"
)

type Recorder struct {
	reg        *prometheus.Registry
	outcomes   *prometheus.CounterVec
	failures   prometheus.Counter
	latency    prometheus.Histogram
	tokens     *prometheus.CounterVec
	reproduced prometheus.Gauge
}

func NewRecorder(model string) *Recorder {
	labels := prometheus.Labels{"model": model}
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stopprobe_trials_total",
			Help:        "Classified trials by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stopprobe_trial_failures_total",
			Help:        "Trials that returned no classifiable response.",
			ConstLabels: labels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "stopprobe_trial_latency_seconds",
			Help:        "Round-trip latency of classified trials.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "stopprobe_tokens_total",
			Help:        "Tokens consumed by direction.",
			ConstLabels: labels,
		}, []string{"direction"}),
		reproduced: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "stopprobe_bug_reproduced",
			Help:        "1 if the last run observed a marker mismatch.",
			ConstLabels: labels,
		}),
	}
	r.reg.MustRegister(r.outcomes, r.failures, r.latency, r.tokens, r.reproduced)
	for _, o := range []result.Outcome{result.OutcomeMarkerMismatch, result.OutcomeMarkerHonored, result.OutcomeNoMarker} {
		r.outcomes.WithLabelValues(string(o))
	}
	return r
}

func (r *Recorder) ObserveTrial(rec *result.TrialRecord) {
	if rec.Failed() {
		r.failures.Inc()
		return
	}
	r.outcomes.WithLabelValues(string(rec.Outcome)).Inc()
	r.latency.Observe(float64(rec.LatencyMS) / 1000)
	r.tokens.WithLabelValues("input").Add(float64(rec.InputTokens))
	r.tokens.WithLabelValues("output").Add(float64(rec.OutputTokens))
}

func (r *Recorder) ObserveSummary(s *result.Summary) {
	if s.BugReproduced() {
		r.reproduced.Set(1)
		return
	}
	r.reproduced.Set(0)
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

func (r *Recorder) Outcomes() *prometheus.CounterVec {
	return r.outcomes
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
