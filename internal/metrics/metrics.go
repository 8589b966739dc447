// Package metrics exposes Prometheus collectors for both services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardtable/internal/resilience"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	calls         *prometheus.CounterVec
	inFlight      prometheus.Gauge
	breakerState  *prometheus.GaugeVec
	activeGames   prometheus.Gauge
	lobbies       prometheus.Gauge
	wsConnections prometheus.Gauge
}

// New registers every collector under namespace (e.g. "cardtable_accounts").
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Failed requests by route and error kind.",
	}, []string{"route", "kind"})

	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"route"})

	m.calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invocations_total",
		Help:      "Guarded invocations by breaker class and outcome.",
	}, []string{"breaker", "outcome"})

	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "requests_in_flight",
		Help:      "Admitted requests currently executing.",
	})

	m.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit state per class (0=closed, 1=open, 2=half-open).",
	}, []string{"breaker"})

	m.activeGames = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_games",
		Help:      "Games started by this process.",
	})

	m.lobbies = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lobbies",
		Help:      "Lobbies currently held in memory.",
	})

	m.wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Live real-time connections.",
	})

	m.registry.MustRegister(
		m.requests, m.errors, m.duration, m.calls, m.inFlight,
		m.breakerState, m.activeGames, m.lobbies, m.wsConnections,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, http.StatusText(code)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveError(route, kind string) {
	m.errors.WithLabelValues(route, kind).Inc()
}

// ObserveCall implements resilience.Observer.
func (m *Metrics) ObserveCall(breaker, outcome string, elapsed time.Duration) {
	m.calls.WithLabelValues(breaker, outcome).Inc()
}

// BreakerStateChanged matches resilience.BreakerConfig.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, from, to resilience.CircuitState) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

func (m *Metrics) SetInFlight(n int) { m.inFlight.Set(float64(n)) }
func (m *Metrics) GameStarted()      { m.activeGames.Inc() }
func (m *Metrics) SetLobbies(n int)  { m.lobbies.Set(float64(n)) }
func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }
