package jobs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "restreamer"

// Metrics holds the orchestrator's Prometheus instruments on a private
// registry. All methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	starts        *prometheus.CounterVec
	startFailures *prometheus.CounterVec
	stops         *prometheus.CounterVec
	crashes       prometheus.Counter
	runSeconds    prometheus.Histogram
}

// NewMetrics creates and registers the instruments, plus the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_starts_total",
			Help:      "Jobs that went live, by encoder",
		}, []string{"encoder"}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_start_failures_total",
			Help:      "Start attempts that failed, by reason",
		}, []string{"reason"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_stops_total",
			Help:      "Jobs stopped on purpose, by reason",
		}, []string{"reason"}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "job_crashes_total",
			Help:      "Encoder processes found dead by the monitor",
		}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_run_seconds",
			Help:      "How long jobs stayed live",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}),
	}
	reg.MustRegister(
		m.starts, m.startFailures, m.stops, m.crashes, m.runSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry so other collectors can join it.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) started(encoder string) {
	if m == nil {
		return
	}
	if encoder == "" {
		encoder = "unknown"
	}
	m.starts.WithLabelValues(encoder).Inc()
}

func (m *Metrics) startFailed(reason string) {
	if m == nil {
		return
	}
	m.startFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) stopped(reason string, runSeconds uint64) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(reason).Inc()
	m.runSeconds.Observe(float64(runSeconds))
}

func (m *Metrics) crashed(runSeconds uint64) {
	if m == nil {
		return
	}
	m.crashes.Inc()
	m.runSeconds.Observe(float64(runSeconds))
}

// liveCollector reads the process table at scrape time.
type liveCollector struct {
	m     *Manager
	live  *prometheus.Desc
	fps   *prometheus.Desc
	speed *prometheus.Desc
}

func newLiveCollector(m *Manager) *liveCollector {
	return &liveCollector{
		m: m,
		live: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "jobs_live"),
			"Jobs whose encoder has passed its start grace window", nil, nil),
		fps: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "encoder", "fps"),
			"Current encoder frames per second", []string{"job_id", "encoder"}, nil),
		speed: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "encoder", "speed"),
			"Current encoder speed (1.0 = realtime)", []string{"job_id", "encoder"}, nil),
	}
}

func (c *liveCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.live
	ch <- c.fps
	ch <- c.speed
}

func (c *liveCollector) Collect(ch chan<- prometheus.Metric) {
	c.m.procMu.RLock()
	defer c.m.procMu.RUnlock()
	live := 0
	for id, p := range c.m.procs {
		if c.m.starting[id] == p {
			continue
		}
		live++
		s := p.Stats()
		enc := p.Encoder()
		ch <- prometheus.MustNewConstMetric(c.fps, prometheus.GaugeValue, s.FPS, id, enc)
		ch <- prometheus.MustNewConstMetric(c.speed, prometheus.GaugeValue, s.Speed, id, enc)
	}
	ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(live))
}
