package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockd_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	ChatsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_chats_created_total",
		Help: "Chats created (existing mints excluded)",
	})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lockd_messages_sent_total",
		Help: "Messages persisted",
	})

	AccessDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockd_access_decisions_total",
		Help: "Access evaluations by result and reason",
	}, []string{"result", "reason"})

	OracleLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lockd_oracle_request_duration_seconds",
		Help:    "Chain RPC latency by method and outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "outcome"})

	ImageLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lockd_token_image_lookups_total",
		Help: "Token image resolutions by source",
	}, []string{"source"})

	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lockd_ws_active_connections",
		Help: "Active websocket connections",
	})
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequests,
			ChatsCreated,
			MessagesSent,
			AccessDecisions,
			OracleLatency,
			ImageLookups,
			Connections,
		)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
