package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors of the console engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	eventsRouted  *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	pollFailures  *prometheus.CounterVec
	messagesSent  *prometheus.CounterVec
	reconnects    prometheus.Counter
	soundsPlayed  prometheus.Counter
	realtimeUp    prometheus.Gauge
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		eventsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicforge_events_routed_total",
				Help: "Real-time events applied by the router.",
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicforge_events_dropped_total",
				Help: "Real-time events ignored by the router or the decoder.",
			},
			[]string{"reason"},
		),
		pollFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicforge_store_refresh_failures_total",
				Help: "Failed summary refreshes per store.",
			},
			[]string{"store"},
		),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicforge_messages_sent_total",
				Help: "Operator messages sent, by source and result.",
			},
			[]string{"source", "result"},
		),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicforge_realtime_reconnects_total",
			Help: "Reconnection attempts of the real-time channel.",
		}),
		soundsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinicforge_notification_sounds_total",
			Help: "Notification sounds played.",
		}),
		realtimeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clinicforge_realtime_connected",
			Help: "1 while the real-time channel is connected.",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicforge_http_requests_total",
				Help: "Total count of console API requests received.",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinicforge_http_request_duration_seconds",
				Help:    "Histogram of console API request durations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.eventsRouted,
		m.eventsDropped,
		m.pollFailures,
		m.messagesSent,
		m.reconnects,
		m.soundsPlayed,
		m.realtimeUp,
		m.requests,
		m.duration,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) EventRouted(eventType string) {
	if m == nil {
		return
	}
	m.eventsRouted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RefreshFailed(store string) {
	if m == nil {
		return
	}
	m.pollFailures.WithLabelValues(store).Inc()
}

func (m *Metrics) MessageSent(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messagesSent.WithLabelValues(source, result).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) SoundPlayed() {
	if m == nil {
		return
	}
	m.soundsPlayed.Inc()
}

func (m *Metrics) RealtimeConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.realtimeUp.Set(1)
		return
	}
	m.realtimeUp.Set(0)
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
