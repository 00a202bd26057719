package analyzer

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are per-analyzer Prometheus collectors. They live in a private
// registry so that several analyzers never collide and the values can be
// written to a textfile after a batch run.
type metrics struct {
	registry *prometheus.Registry

	runs          prometheus.Counter
	stageDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec

	files      prometheus.Gauge
	functions  prometheus.Gauge
	endpoints  prometheus.Gauge
	points     prometheus.Gauge
	gaps       *prometheus.GaugeVec
	violations prometheus.Gauge
	coverage   prometheus.Gauge
	graphNodes prometheus.Gauge
	graphEdges prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "instrument",
			Subsystem: "analysis",
			Name:      name,
			Help:      help,
		})
	}

	return &metrics{
		registry: reg,
		runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "instrument",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Number of completed analysis runs.",
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instrument",
			Subsystem: "analysis",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"stage"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrument",
			Subsystem: "analysis",
			Name:      "file_failures_total",
			Help:      "Files that could not be analyzed, by failure kind.",
		}, []string{"kind"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrument",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Walk cache lookups by result.",
		}, []string{"result"}),
		files:      gauge("files", "Source files analyzed in the last run."),
		functions:  gauge("functions", "Functions found in the last run."),
		endpoints:  gauge("endpoints", "Endpoints found in the last run."),
		points:     gauge("instrumentation_points", "Recommended instrumentation points in the last run."),
		violations: gauge("rule_violations", "Rule violations in the last run."),
		coverage:   gauge("coverage_percent", "Instrumentation coverage of the last run in percent."),
		graphNodes: gauge("callgraph_nodes", "Call graph nodes in the last run."),
		graphEdges: gauge("callgraph_edges", "Call graph edges in the last run."),
		gaps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "instrument",
			Subsystem: "analysis",
			Name:      "gaps",
			Help:      "Instrumentation gaps in the last run, by severity.",
		}, []string{"severity"}),
	}
}

func (m *metrics) observe(r *Result) {
	m.runs.Inc()
	m.files.Set(float64(r.Stats.TotalFiles))
	m.functions.Set(float64(r.Stats.TotalFunctions))
	m.endpoints.Set(float64(r.Stats.EndpointsCount))
	m.points.Set(float64(r.Stats.InstrumentationPoints))
	m.violations.Set(float64(r.Stats.RuleViolationsCount))
	m.coverage.Set(r.Stats.CoveragePercent)
	m.graphNodes.Set(float64(r.GraphStats.TotalNodes))
	m.graphEdges.Set(float64(r.GraphStats.TotalEdges))

	m.gaps.Reset()
	for _, g := range r.Gaps {
		m.gaps.WithLabelValues(string(g.Severity)).Inc()
	}
	for _, f := range r.Failures {
		m.failures.WithLabelValues(f.Kind).Inc()
	}
}

// Registry exposes the analyzer's metrics for scraping or inspection.
func (a *Analyzer) Registry() *prometheus.Registry {
	return a.metrics.registry
}

// WriteMetrics writes the current metric values to path in the Prometheus
// text format, for node_exporter's textfile collector.
func (a *Analyzer) WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, a.metrics.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
