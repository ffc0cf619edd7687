package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics records outcomes of cart API calls. A nil *ClientMetrics is a no-op.
type ClientMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Retries   *prometheus.CounterVec
}

func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcart",
		Subsystem: "cart",
		Name:      "requests_total",
		Help:      "Total number of cart API requests by outcome.",
	}, []string{"op", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fitcart",
		Subsystem: "cart",
		Name:      "request_duration_ms",
		Help:      "Cart API request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"op"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcart",
		Subsystem: "cart",
		Name:      "retries_total",
		Help:      "Rate-limit retries issued by the cart client.",
	}, []string{"op"})

	if reg != nil {
		reg.MustRegister(requests, latency, retries)
	}
	return &ClientMetrics{Requests: requests, LatencyMS: latency, Retries: retries}
}

// ObserveRequest records one HTTP attempt. status is 0 when no response arrived.
func (m *ClientMetrics) ObserveRequest(op string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, outcome(status)).Inc()
	m.LatencyMS.WithLabelValues(op).Observe(float64(elapsed.Milliseconds()))
}

func (m *ClientMetrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}

func outcome(status int) string {
	switch {
	case status == 0:
		return "network_error"
	case status >= 200 && status < 300:
		return "ok"
	default:
		return strconv.Itoa(status)
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
