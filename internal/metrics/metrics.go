// Package metrics defines the Prometheus collectors of the realtime service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of registered streaming connections",
		},
	)

	ConnectionsByTenant = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connections_by_tenant",
			Help: "Registered streaming connections per tenant",
		},
		[]string{"tenant"},
	)

	AuthRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_auth_rejections_total",
			Help: "Connection attempts rejected during authentication, by reason",
		},
		[]string{"reason"},
	)

	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Broadcasts issued, by event",
		},
		[]string{"event"},
	)

	BroadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_broadcast_dropped_total",
			Help: "Per-socket sends that failed and were swallowed",
		},
	)

	StaleEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_stale_evictions_total",
			Help: "Connections force-disconnected by the stale sweep",
		},
	)

	HealthStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_health_status",
			Help: "Gateway health (0 = healthy, 1 = degraded, 2 = critical)",
		},
	)

	// Notification metrics
	NotificationRecordsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_records_created_total",
			Help: "Notification records created, by channel",
		},
		[]string{"channel"},
	)

	NotificationDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Delivery attempts, by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Channel provider latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	JobRequeues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_job_requeues_total",
			Help: "Jobs requeued after their handler failed, by queue",
		},
		[]string{"queue"},
	)

	// Webhook metrics
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts, by resulting status",
		},
		[]string{"status"},
	)

	// Ingestion metrics
	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_consumed_total",
			Help: "Domain events consumed, by topic and result",
		},
		[]string{"topic", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsByTenant,
		AuthRejections,
		BroadcastsTotal,
		BroadcastDropped,
		StaleEvictions,
		HealthStatus,
		NotificationRecordsCreated,
		NotificationDeliveries,
		DeliveryDuration,
		JobRequeues,
		WebhookDeliveries,
		EventsConsumed,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
