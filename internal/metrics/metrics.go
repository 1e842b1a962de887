package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus collectors.
// It satisfies core.Recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	wsActiveConnections prometheus.Gauge
	wsAdmissionsTotal   prometheus.Counter
	wsRejectionsTotal   *prometheus.CounterVec
	wsEventsTotal       *prometheus.CounterVec
	wsDroppedTotal      *prometheus.CounterVec

	presenceTransitions   *prometheus.CounterVec
	presenceWriteFailures prometheus.Counter
	amqpPublishErrors     prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaychat_http_requests_total",
				Help: "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaychat_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		wsActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_ws_active_connections",
			Help: "Number of admitted websocket connections.",
		}),
		wsAdmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_ws_admissions_total",
			Help: "Total number of admitted websocket connections.",
		}),
		wsRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaychat_ws_rejections_total",
				Help: "Total number of rejected admissions.",
			},
			[]string{"reason"},
		),
		wsEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaychat_ws_events_total",
				Help: "Total number of events enqueued to connections.",
			},
			[]string{"event"},
		),
		wsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaychat_ws_dropped_total",
				Help: "Total number of deliveries dropped on full or closed queues.",
			},
			[]string{"event"},
		),
		presenceTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaychat_presence_transitions_total",
				Help: "Total number of online/offline transitions.",
			},
			[]string{"status"},
		),
		presenceWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_presence_write_failures_total",
			Help: "Total number of presence writes that were dropped or abandoned.",
		}),
		amqpPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.wsActiveConnections,
		m.wsAdmissionsTotal,
		m.wsRejectionsTotal,
		m.wsEventsTotal,
		m.wsDroppedTotal,
		m.presenceTransitions,
		m.presenceWriteFailures,
		m.amqpPublishErrors,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latencies per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ConnectionAdmitted() {
	m.wsAdmissionsTotal.Inc()
	m.wsActiveConnections.Inc()
}

func (m *Metrics) ConnectionDismissed() {
	m.wsActiveConnections.Dec()
}

func (m *Metrics) AdmissionRejected(reason string) {
	m.wsRejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) PresenceChanged(status string) {
	m.presenceTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) PresenceWriteFailed() {
	m.presenceWriteFailures.Inc()
}

func (m *Metrics) EventsDelivered(kind string, n int) {
	m.wsEventsTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) DeliveryDropped(kind string) {
	m.wsDroppedTotal.WithLabelValues(kind).Inc()
}

// AuditPublishFailed counts a failed AMQP publish.
func (m *Metrics) AuditPublishFailed() {
	m.amqpPublishErrors.Inc()
}
