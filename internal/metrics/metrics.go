// Package metrics exposes room and game counters for Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	roomsActive        prometheus.Gauge
	connectionsActive  prometheus.Gauge
	gamesStarted       prometheus.Counter
	scoreFlushes       prometheus.Counter
	scoreFlushFailures prometheus.Counter
	eventsTotal        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signroom",
			Name:      "rooms_active",
			Help:      "Rooms currently held in memory.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signroom",
			Name:      "connections_active",
			Help:      "Open WebSocket connections.",
		}),
		gamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signroom",
			Name:      "games_started_total",
			Help:      "Game instances persisted by a successful start.",
		}),
		scoreFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signroom",
			Name:      "score_flushes_total",
			Help:      "Games whose final scores were written.",
		}),
		scoreFlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signroom",
			Name:      "score_flush_failures_total",
			Help:      "Score flushes abandoned on a persistence error.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signroom",
			Name:      "events_total",
			Help:      "Inbound events dispatched, by event name.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		m.roomsActive,
		m.connectionsActive,
		m.gamesStarted,
		m.scoreFlushes,
		m.scoreFlushFailures,
		m.eventsTotal,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.roomsActive.Set(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) GameStarted() {
	if m == nil {
		return
	}
	m.gamesStarted.Inc()
}

func (m *Metrics) ScoresFlushed() {
	if m == nil {
		return
	}
	m.scoreFlushes.Inc()
}

func (m *Metrics) ScoreFlushFailed() {
	if m == nil {
		return
	}
	m.scoreFlushFailures.Inc()
}

func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(name).Inc()
}
