package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gigchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_messages_sent_total",
			Help: "Total messages persisted",
		},
		[]string{"context_type"}, // "job" or "general"
	)

	MessagesMarkedRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigchat_messages_marked_read_total",
			Help: "Total messages flipped to read",
		},
	)

	// Realtime metrics
	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_fanout_deliveries_total",
			Help: "Frames handed to subscriber connections",
		},
		[]string{"event"},
	)

	BrokerPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigchat_broker_publish_errors_total",
			Help: "Fan-out publishes the broker rejected",
		},
	)

	WebsocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gigchat_websocket_connections",
			Help: "Open websocket connections",
		},
		[]string{"channel"}, // "messages" or "notifications"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	RateLimitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_rate_limit_errors_total",
			Help: "Rate limiter Redis failures; the request was allowed",
		},
		[]string{"op"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gigchat_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"backend", "op"},
	)
)
