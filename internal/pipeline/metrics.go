package pipeline

import (
	"time"

	"github.com/fidde/songplay_lake/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the run-level Prometheus instruments.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	rowsWritten *prometheus.CounterVec
	inputs      *prometheus.CounterVec
	unmatched   prometheus.Counter
	matchRate   prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewMetrics creates the pipeline metrics and registers them with registerer,
// or with the default registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "songplay_runs_total",
			Help: "Pipeline runs by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "songplay_run_duration_seconds",
			Help:    "Wall time of pipeline runs.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "songplay_rows_written_total",
			Help: "Rows published per output table.",
		}, []string{"table"}),
		inputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "songplay_input_records_total",
			Help: "Records read per input dataset.",
		}, []string{"source"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "songplay_unmatched_events_total",
			Help: "Song plays that matched no song record.",
		}),
		matchRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "songplay_last_match_rate",
			Help: "Share of song plays matched in the last successful run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "songplay_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
	}

	registerer.MustRegister(m.runs, m.duration, m.rowsWritten, m.inputs, m.unmatched, m.matchRate, m.lastSuccess)
	return m
}

func (m *Metrics) observe(report *models.RunReport) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(report.Status).Inc()
	m.duration.Observe(report.Duration().Seconds())
	m.inputs.WithLabelValues("song_data").Add(float64(report.Input.SongRecords))
	m.inputs.WithLabelValues("log_data").Add(float64(report.Input.LogEvents))

	if report.Status != models.RunStatusSucceeded {
		return
	}
	for table, n := range report.Tables {
		m.rowsWritten.WithLabelValues(table).Add(float64(n))
	}
	m.unmatched.Add(float64(report.Join.UnmatchedEvents))
	m.matchRate.Set(report.Join.MatchRate())
	m.lastSuccess.Set(float64(time.Now().Unix()))
}
