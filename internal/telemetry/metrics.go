package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the delivery subsystem registers.
// Components receive this struct at construction time rather than reaching
// for package-level globals, so tests can spin up isolated registries.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec

	QueueDepth              *prometheus.GaugeVec
	QueueEnqueuedTotal      *prometheus.CounterVec
	QueueDequeuedTotal      *prometheus.CounterVec
	QueueClaimConflictTotal prometheus.Counter

	DeliveryAttemptsTotal   *prometheus.CounterVec
	DeliverySuccessTotal    *prometheus.CounterVec
	DeliveryFailureTotal    *prometheus.CounterVec
	DeliveryLatency         *prometheus.HistogramVec
	DeliveryDeadLetterTotal *prometheus.CounterVec

	CircuitStateGauge   *prometheus.GaugeVec
	CircuitTripsTotal   *prometheus.CounterVec
	HealthCheckDuration *prometheus.HistogramVec

	SecretRotationsTotal prometheus.Counter
	SecretAgeSeconds     *prometheus.GaugeVec

	TemplateRenderDuration *prometheus.HistogramVec
	TemplateRenderErrors   *prometheus.CounterVec

	DownloadLinkAccessTotal *prometheus.CounterVec
}

// NewMetricsRegistry builds a Prometheus registry pre-populated with the
// delivery subsystem's collectors plus any extra collectors the caller
// wants registered alongside them (e.g. Go runtime collectors).
func NewMetricsRegistry(extra ...prometheus.Collector) (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auditdelivery",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests served by the admin API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "auditdelivery",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of queue items currently pending, by status.",
		}, []string{"status"}),

		QueueEnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total queue items enqueued, by destination type.",
		}, []string{"destination_type"}),

		QueueDequeuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "queue",
			Name:      "dequeued_total",
			Help:      "Total queue items claimed for processing, by destination type.",
		}, []string{"destination_type"}),

		QueueClaimConflictTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "queue",
			Name:      "claim_conflict_total",
			Help:      "Total claim attempts that lost a SKIP LOCKED race to another worker.",
		}),

		DeliveryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total delivery attempts, by destination type and outcome.",
		}, []string{"destination_type", "outcome"}),

		DeliverySuccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "delivery",
			Name:      "success_total",
			Help:      "Total successful deliveries, by destination type.",
		}, []string{"destination_type"}),

		DeliveryFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "delivery",
			Name:      "failure_total",
			Help:      "Total failed deliveries, by destination type and error class.",
		}, []string{"destination_type", "error_class"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auditdelivery",
			Subsystem: "delivery",
			Name:      "latency_seconds",
			Help:      "End-to-end handler latency per delivery attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"destination_type"}),

		DeliveryDeadLetterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "delivery",
			Name:      "dead_letter_total",
			Help:      "Total queue items moved to the dead-letter state.",
		}, []string{"destination_type"}),

		CircuitStateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "auditdelivery",
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Circuit breaker state per destination (0=closed, 1=half_open, 2=open).",
		}, []string{"destination_id", "destination_type"}),

		CircuitTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "circuit",
			Name:      "trips_total",
			Help:      "Total transitions into the open state, by destination type.",
		}, []string{"destination_type"}),

		HealthCheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auditdelivery",
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of destination health probes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"destination_type"}),

		SecretRotationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "secret",
			Name:      "rotations_total",
			Help:      "Total webhook secret rotations performed.",
		}),

		SecretAgeSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "auditdelivery",
			Subsystem: "secret",
			Name:      "age_seconds",
			Help:      "Age of the active signing secret per destination.",
		}, []string{"destination_id"}),

		TemplateRenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auditdelivery",
			Subsystem: "template",
			Name:      "render_duration_seconds",
			Help:      "Duration of template rendering per destination type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"destination_type"}),

		TemplateRenderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "template",
			Name:      "render_errors_total",
			Help:      "Total template rendering failures, by reason.",
		}, []string{"reason"}),

		DownloadLinkAccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditdelivery",
			Subsystem: "download",
			Name:      "link_access_total",
			Help:      "Total download link access attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.HTTPRequestDuration,
		m.QueueDepth,
		m.QueueEnqueuedTotal,
		m.QueueDequeuedTotal,
		m.QueueClaimConflictTotal,
		m.DeliveryAttemptsTotal,
		m.DeliverySuccessTotal,
		m.DeliveryFailureTotal,
		m.DeliveryLatency,
		m.DeliveryDeadLetterTotal,
		m.CircuitStateGauge,
		m.CircuitTripsTotal,
		m.HealthCheckDuration,
		m.SecretRotationsTotal,
		m.SecretAgeSeconds,
		m.TemplateRenderDuration,
		m.TemplateRenderErrors,
		m.DownloadLinkAccessTotal,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}

	return reg, m
}
