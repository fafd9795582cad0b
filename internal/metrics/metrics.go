// Package metrics exposes prometheus collectors for the supervisor, the
// registry fan-out and the installer. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blockyard/internal/domain"
)

const namespace = "blockyard"

// Metrics holds every collector blockyard records into.
type Metrics struct {
	state           *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	cpuPercent      prometheus.Gauge
	rssBytes        prometheus.Gauge
	diskBytes       prometheus.Gauge
	players         prometheus.Gauge
	tps             prometheus.Gauge
	logLines        *prometheus.CounterVec
	startDuration   prometheus.Histogram
	installs        *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
	searchDurations *prometheus.HistogramVec
}

// New creates an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "state",
			Help: "Current supervisor state (1 = current, 0 = not).",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "state_transitions_total",
			Help: "Supervisor state transitions.",
		}, []string{"from", "to"}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "cpu_percent",
			Help: "CPU usage of the managed process at the last status sample.",
		}),
		rssBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "memory_rss_bytes",
			Help: "Resident memory of the managed process at the last status sample.",
		}),
		diskBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "disk_bytes",
			Help: "Size of the server working directory at the last status sample.",
		}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "players_online",
			Help: "Players seen online in the server log.",
		}),
		tps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "tps",
			Help: "Last reported ticks per second.",
		}),
		logLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "log_lines_total",
			Help: "Captured server output lines.",
		}, []string{"severity"}),
		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "server", Name: "start_duration_seconds",
			Help:    "Time from launch to readiness.",
			Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180, 300},
		}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plugins", Name: "installs_total",
			Help: "Plugin install outcomes.",
		}, []string{"result"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registry", Name: "source_failures_total",
			Help: "Failed registry calls per source.",
		}, []string{"source", "op"}),
		searchDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "registry", Name: "request_duration_seconds",
			Help:    "Registry call latency per source.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source", "op"}),
	}
}

// Register registers all collectors, ignoring ones already registered.
func (m *Metrics) Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{
		m.state, m.transitions, m.cpuPercent, m.rssBytes, m.diskBytes,
		m.players, m.tps, m.logLines, m.startDuration,
		m.installs, m.sourceFailures, m.searchDurations,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics of gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordTransition marks to as the current state.
func (m *Metrics) RecordTransition(from, to domain.State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
	for _, s := range []domain.State{
		domain.StateStopped, domain.StateStarting, domain.StateRunning,
		domain.StateStopping, domain.StateCrashed,
	} {
		v := 0.0
		if s == to {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveResources records a status sample.
func (m *Metrics) ObserveResources(r domain.Resources) {
	if m == nil {
		return
	}
	m.cpuPercent.Set(r.CPUPercent)
	m.rssBytes.Set(float64(r.RSSBytes))
	m.diskBytes.Set(float64(r.DiskBytes))
}

// SetPlayers records the online player count.
func (m *Metrics) SetPlayers(n int) {
	if m == nil {
		return
	}
	m.players.Set(float64(n))
}

// SetTPS records the last reported TPS.
func (m *Metrics) SetTPS(v float64) {
	if m == nil {
		return
	}
	m.tps.Set(v)
}

// IncLogLine counts one captured line.
func (m *Metrics) IncLogLine(sev domain.Severity) {
	if m == nil {
		return
	}
	m.logLines.WithLabelValues(string(sev)).Inc()
}

// ObserveStart records time to readiness.
func (m *Metrics) ObserveStart(seconds float64) {
	if m == nil {
		return
	}
	m.startDuration.Observe(seconds)
}

// IncInstall counts a plugin install outcome.
func (m *Metrics) IncInstall(result string) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(result).Inc()
}

// ObserveSource records a registry call and its outcome.
func (m *Metrics) ObserveSource(source, op string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.searchDurations.WithLabelValues(source, op).Observe(seconds)
	if err != nil {
		m.sourceFailures.WithLabelValues(source, op).Inc()
	}
}
