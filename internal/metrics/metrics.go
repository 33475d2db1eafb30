package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_appended_total",
		Help: "Total number of messages accepted into room logs",
	})
	MessagesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_rejected_total",
		Help: "Total number of messages rejected as invalid",
	})
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_rooms",
		Help: "Number of rooms with a running in-memory channel",
	})
	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_room_subscriptions",
		Help: "Current number of room subscriptions",
	})
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_reports_total",
		Help: "Reports by outcome (submitted, duplicate, toxic, clean, unavailable)",
	}, []string{"outcome"})
	ClassifierDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_classifier_duration_seconds",
		Help:    "Content classifier call duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	DiscoveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_discovery_duration_seconds",
		Help:    "Nearby room query duration in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
	IndexedRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_indexed_rooms",
		Help: "Number of rooms in the geo index",
	})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	}, []string{"path"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, MessagesAppended, MessagesRejected, ActiveRooms, Subscriptions,
		ReportsTotal, ClassifierDuration, DiscoveryDuration, IndexedRooms,
		RateLimited, HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
