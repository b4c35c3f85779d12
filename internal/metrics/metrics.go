// Package metrics holds the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdesk_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botdesk_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	ingestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdesk_ingest_events_total",
			Help: "Inbound bot events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdesk_broadcast_deliveries_total",
			Help: "Broadcast delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	campaignsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botdesk_broadcast_campaigns_total",
			Help: "Broadcast campaigns that reached the done state",
		},
	)

	stuckCampaigns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botdesk_broadcast_stuck_campaigns",
			Help: "Campaigns left in the sending state past the stuck threshold",
		},
	)
)

// ObserveIngest counts one ingested event.
func ObserveIngest(eventType, outcome string) {
	ingestEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveDelivery counts one delivery attempt as sent or failed.
func ObserveDelivery(sent bool) {
	outcome := "failed"
	if sent {
		outcome = "sent"
	}
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCampaignCompleted counts a campaign that reached done.
func ObserveCampaignCompleted() {
	campaignsTotal.Inc()
}

// SetStuckCampaigns records the latest number of stuck campaigns.
func SetStuckCampaigns(count int) {
	stuckCampaigns.Set(float64(count))
}

// Middleware records request counts and latencies keyed by the matched route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
