// v0
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nrgchamp/ecsmonitor/internal/circuitbreaker"
	"nrgchamp/ecsmonitor/internal/control"
	"nrgchamp/ecsmonitor/internal/health"
	"nrgchamp/ecsmonitor/internal/registry"
)

const namespace = "ecs"

// Metrics holds the monitor collectors on a private registry so tests and multiple
// instances do not clash on the global one.
type Metrics struct {
	reg *prometheus.Registry

	cycles        prometheus.Counter
	messages      *prometheus.CounterVec
	parseErrors   *prometheus.CounterVec
	staleWarnings *prometheus.CounterVec
	rotations     *prometheus.CounterVec
	sendFailures  prometheus.Counter
	fetchFailures prometheus.Counter
	activeNode    *prometheus.GaugeVec
	misses        *prometheus.GaugeVec
	reading       *prometheus.GaugeVec
	actuator      *prometheus.GaugeVec
	cbState       *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Control cycles completed.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Inbound messages by classification.",
		}, []string{"kind"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "parse_errors_total",
			Help: "Sensor payloads that did not parse, by role.",
		}, []string{"role"}),
		staleWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_warnings_total",
			Help: "Staleness warnings emitted, by role.",
		}, []string{"role"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rotations_total",
			Help: "Node rotations performed, by role.",
		}, []string{"role"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "Actuator commands the bus rejected.",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_failures_total",
			Help: "Cycles whose inbound fetch failed.",
		}),
		activeNode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_node",
			Help: "Node id currently active for the role.",
		}, []string{"role"}),
		misses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consecutive_misses",
			Help: "Consecutive stale evaluations for the role.",
		}, []string{"role"}),
		reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reading",
			Help: "Latest reading by quantity (F or %RH).",
		}, []string{"quantity"}),
		actuator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "actuator_on",
			Help: "Requested actuator state (1 on, 0 off).",
		}, []string{"actuator"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		m.cycles, m.messages, m.parseErrors, m.staleWarnings, m.rotations,
		m.sendFailures, m.fetchFailures, m.activeNode, m.misses, m.reading,
		m.actuator, m.cbState, m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry exposes the private registry for testutil and custom exposition.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleDone() { m.cycles.Inc() }

func (m *Metrics) Message(kind string, n int) { m.messages.WithLabelValues(kind).Add(float64(n)) }

func (m *Metrics) ParseError(r registry.Role) { m.parseErrors.WithLabelValues(r.Key()).Inc() }

func (m *Metrics) SendFailures(n int) { m.sendFailures.Add(float64(n)) }

func (m *Metrics) FetchFailure() { m.fetchFailures.Inc() }

// HealthEvent counts a tracker event.
func (m *Metrics) HealthEvent(ev health.Event) {
	if ev.Kind == health.EventSwitched {
		m.rotations.WithLabelValues(ev.Role.Key()).Inc()
		return
	}
	m.staleWarnings.WithLabelValues(ev.Role.Key()).Inc()
}

// Channels mirrors the tracker state into gauges.
func (m *Metrics) Channels(states [registry.RoleCount]health.ChannelState) {
	for _, s := range states {
		m.activeNode.WithLabelValues(s.Role.Key()).Set(float64(s.Active))
		m.misses.WithLabelValues(s.Role.Key()).Set(float64(s.Misses))
	}
}

// Readings records known samples; unknown ones keep their previous value.
func (m *Metrics) Readings(temperature, humidity control.Sample) {
	if temperature.Known {
		m.reading.WithLabelValues(control.Temperature.String()).Set(temperature.Value)
	}
	if humidity.Known {
		m.reading.WithLabelValues(control.Humidity.String()).Set(humidity.Value)
	}
}

func (m *Metrics) Decision(d control.Decision) {
	m.actuator.WithLabelValues("heater").Set(b2f(d.Heater))
	m.actuator.WithLabelValues("chiller").Set(b2f(d.Chiller))
	m.actuator.WithLabelValues("humidifier").Set(b2f(d.Humidifier))
	m.actuator.WithLabelValues("dehumidifier").Set(b2f(d.Dehumidifier))
}

// BreakerState is suitable as a circuitbreaker.Breaker transition callback.
func (m *Metrics) BreakerState(target string) func(from, to circuitbreaker.State) {
	m.cbState.WithLabelValues(target).Set(0)
	return func(_, to circuitbreaker.State) {
		m.cbState.WithLabelValues(target).Set(float64(to))
	}
}

// Instrument wraps an HTTP handler with request count and latency.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
