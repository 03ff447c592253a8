package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CollectorMetrics defines metrics operations needed by the CVE collector.
type CollectorMetrics interface {
	IncRecords(outcome string)
	TrackRun(f func() error) error
}

// Metrics implements CollectorMetrics on Prometheus collectors.
type Metrics struct {
	Records     *prometheus.CounterVec
	RunTime     prometheus.Histogram
	ActiveRuns  prometheus.Gauge
	FailedRuns  prometheus.Counter
	LastSuccess prometheus.Gauge
}

var _ CollectorMetrics = (*Metrics)(nil)

func (m *Metrics) IncRecords(outcome string) { m.Records.WithLabelValues(outcome).Inc() }

// TrackRun tracks the duration of a collector run and updates the metrics.
func (m *Metrics) TrackRun(f func() error) error {
	m.ActiveRuns.Inc()
	defer m.ActiveRuns.Dec()

	start := time.Now()
	err := f()
	m.RunTime.Observe(time.Since(start).Seconds())
	if err != nil {
		m.FailedRuns.Inc()
		return err
	}
	m.LastSuccess.SetToCurrentTime()
	return nil
}

// New creates a new Metrics instance registered with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "CVE records processed, by outcome",
		}, []string{"outcome"}),
		RunTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time taken by a collector run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Indicates if a collector run is in progress",
		}),
		FailedRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_runs_total",
			Help:      "Collector runs that returned an error",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server.
func StartServer(addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return http.ListenAndServe(addr, mux)
}
