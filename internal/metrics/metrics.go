// metrics.go - Metrics collection for note evaluation, proving and the ledger.
//
// A Collector owns its registry, so independent nodes (and tests) never share series. Every
// method is safe on a nil Collector, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "noted"

// Outcome labels.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
	OutcomeRejected  = "rejected"
	OutcomePending   = "pending"
)

// Predefined metric names, without the namespace.
const (
	MetricEvaluationCount     = "evaluations_total"
	MetricEvaluationTime      = "evaluation_seconds"
	MetricEvaluationCycles    = "evaluation_cycles"
	MetricNotesConsumed       = "notes_consumed_total"
	MetricProofGenerationTime = "proof_generation_seconds"
	MetricCircuitCompileTime  = "circuit_compile_seconds"
	MetricCommitCount         = "commits_total"
	MetricRequestCount        = "http_requests_total"
	MetricErrorCount          = "errors_total"
	MetricAccounts            = "accounts"
)

// Collector manages metrics collection.
type Collector struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	evalTime      prometheus.Histogram
	evalCycles    prometheus.Histogram
	notesConsumed prometheus.Counter
	proofTime     prometheus.Histogram
	compileTime   prometheus.Histogram
	commits       *prometheus.CounterVec
	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	accounts      prometheus.Gauge
}

// NewCollector creates a collector with its own registry, including the Go runtime and process
// collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricEvaluationCount,
			Help:      "Transaction evaluations by outcome",
		}, []string{"outcome"}),
		evalTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricEvaluationTime,
			Help:      "Time spent evaluating a transaction",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		evalCycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricEvaluationCycles,
			Help:      "Instructions executed per transaction",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}),
		notesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricNotesConsumed,
			Help:      "Input notes consumed by committed evaluations",
		}),
		proofTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricProofGenerationTime,
			Help:      "Time spent proving a transaction",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		compileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricCircuitCompileTime,
			Help:      "Time spent compiling circuits and running setup",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricCommitCount,
			Help:      "Ledger commits by outcome",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRequestCount,
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricErrorCount,
			Help:      "Errors by type",
		}, []string{"type"}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricAccounts,
			Help:      "Accounts known to the ledger",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.evaluations, c.evalTime, c.evalCycles, c.notesConsumed,
		c.proofTime, c.compileTime, c.commits, c.requests, c.errors, c.accounts,
	)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordEvaluation records one transaction evaluation.
func (c *Collector) RecordEvaluation(outcome string, d time.Duration, cycles, notes int) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(outcome).Inc()
	c.evalTime.Observe(d.Seconds())
	if outcome == OutcomeCommitted {
		c.evalCycles.Observe(float64(cycles))
		c.notesConsumed.Add(float64(notes))
	}
}

// RecordProofGeneration records the time taken to prove a transaction.
func (c *Collector) RecordProofGeneration(d time.Duration) {
	if c == nil {
		return
	}
	c.proofTime.Observe(d.Seconds())
}

// RecordCircuitCompile records the time taken by circuit compilation and setup.
func (c *Collector) RecordCircuitCompile(d time.Duration) {
	if c == nil {
		return
	}
	c.compileTime.Observe(d.Seconds())
}

// RecordCommit records a ledger commit attempt.
func (c *Collector) RecordCommit(outcome string) {
	if c == nil {
		return
	}
	c.commits.WithLabelValues(outcome).Inc()
}

// RecordRequest records a served API request.
func (c *Collector) RecordRequest(route string, code int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordError counts an error by type.
func (c *Collector) RecordError(errorType string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(errorType).Inc()
}

// SetAccounts sets the number of accounts known to the ledger.
func (c *Collector) SetAccounts(n int) {
	if c == nil {
		return
	}
	c.accounts.Set(float64(n))
}

// Summary returns the current value of every counter and gauge in the namespace, keyed by
// series, for the health endpoint.
func (c *Collector) Summary() (map[string]float64, error) {
	out := make(map[string]float64)
	if c == nil {
		return out, nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, namespace+"_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := name
			for _, lp := range m.GetLabel() {
				key += "_" + lp.GetName() + "_" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
				out[key+"_sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return out, nil
}
