package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// REST metrics
	RESTRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_rest_requests_total",
			Help: "Total number of exchange REST requests",
		},
		[]string{"method", "endpoint", "outcome"}, // outcome: ok|transport|rejected
	)

	RESTLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_rest_latency_seconds",
			Help:    "Exchange REST latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Streaming metrics
	StreamConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_stream_connects_total",
			Help: "Total number of successful market stream connections",
		},
	)

	StreamReconnectWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_stream_reconnect_waits_total",
			Help: "Total number of back-off waits before reconnecting the market stream",
		},
	)

	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_stream_messages_total",
			Help: "Total number of market stream messages by event type",
		},
		[]string{"event"},
	)

	DispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_dispatch_errors_total",
			Help: "Total number of errors raised while dispatching stream events",
		},
		[]string{"event"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RESTRequests)
		prometheus.MustRegister(RESTLatency)
		prometheus.MustRegister(StreamConnects)
		prometheus.MustRegister(StreamReconnectWaits)
		prometheus.MustRegister(StreamMessages)
		prometheus.MustRegister(DispatchErrors)
	})
}

// RegisterOpenTrades exposes the number of open strategy trades, read from
// fn at scrape time.
func RegisterOpenTrades(fn func() float64) error {
	return prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "trader_open_trades",
			Help: "Current number of open strategy trades",
		},
		fn,
	))
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRESTCall(method, endpoint, outcome string, latency time.Duration) {
	RESTRequests.WithLabelValues(method, endpoint, outcome).Inc()
	RESTLatency.WithLabelValues(method, endpoint).Observe(latency.Seconds())
}
