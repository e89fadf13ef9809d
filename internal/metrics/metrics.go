package metrics

import (
	"net/http"
	"time"

	"imo-relay/internal/imo"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imo_relay"

// Metrics is nil-safe: every method is a no-op on a nil receiver.
type Metrics struct {
	registry     *prometheus.Registry
	pollCycles   prometheus.Counter
	pollDuration prometheus.Histogram
	readErrors   *prometheus.CounterVec
	entityState  *prometheus.GaugeVec
	deviceOnline prometheus.Gauge
	commands     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Number of completed poll cycles.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Failed state reads per entity.",
		}, []string{"entity"}),
		entityState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entity_state",
			Help:      "Last known entity state (1 = on, 0 = off).",
		}, []string{"entity", "kind"}),
		deviceOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_online",
			Help:      "Whether the automaton answered the last poll.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands sent to the automaton by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.pollCycles,
		m.pollDuration,
		m.readErrors,
		m.entityState,
		m.deviceOnline,
		m.commands,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveSnapshot(snap *imo.Snapshot, took time.Duration) {
	if m == nil || snap == nil {
		return
	}

	m.pollCycles.Inc()
	m.pollDuration.Observe(took.Seconds())

	if snap.Online {
		m.deviceOnline.Set(1)
	} else {
		m.deviceOnline.Set(0)
	}

	for _, e := range snap.Entities {
		if e.Error != "" {
			m.readErrors.WithLabelValues(e.ID).Inc()
		}
		if e.State == nil {
			continue
		}
		v := 0.0
		if *e.State {
			v = 1
		}
		m.entityState.WithLabelValues(e.ID, string(e.Kind)).Set(v)
	}
}

func (m *Metrics) ObserveCommand(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
