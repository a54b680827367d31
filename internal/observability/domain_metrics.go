package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featurestream_pipeline_runs_total",
			Help: "Total number of query pipeline runs by format and outcome.",
		},
		[]string{"format", "outcome"},
	)
	pipelineRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featurestream_pipeline_rows_total",
			Help: "Total number of rows written to response sinks.",
		},
		[]string{"format"},
	)
	pipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "featurestream_pipeline_duration_seconds",
			Help:    "Query pipeline run duration from envelope open to close.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"format", "outcome"},
	)
	pipelineTruncatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featurestream_pipeline_truncated_total",
			Help: "Total number of runs cut short by the pipeline timeout.",
		},
		[]string{"format"},
	)
	pipelineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featurestream_pipeline_errors_total",
			Help: "Total number of failed runs by error kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineRowsTotal,
		pipelineDurationSeconds,
		pipelineTruncatedTotal,
		pipelineErrorsTotal,
	)
}

func ObservePipelineRun(format, outcome string, rows int, elapsed time.Duration) {
	pipelineRunsTotal.WithLabelValues(format, outcome).Inc()
	if rows > 0 {
		pipelineRowsTotal.WithLabelValues(format).Add(float64(rows))
	}
	pipelineDurationSeconds.WithLabelValues(format, outcome).Observe(elapsed.Seconds())
}

func IncPipelineTruncated(format string) {
	pipelineTruncatedTotal.WithLabelValues(format).Inc()
}

func IncPipelineError(kind string) {
	pipelineErrorsTotal.WithLabelValues(kind).Inc()
}
