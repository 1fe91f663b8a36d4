// Package telemetry exports the engine's Prometheus metrics, grounded on the pack's prometheus/client_golang
// usage pattern: a single registry, a Metrics struct of collector handles,
// and an HTTP handler that main mounts on the metrics port.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the engine updates.
type Metrics struct {
	TradesTotal           *prometheus.CounterVec
	OpportunitiesDetected prometheus.Counter
	OpportunitiesExecuted prometheus.Counter
	OpportunitiesSkipped  *prometheus.CounterVec
	CircuitBreakerTrips   prometheus.Counter
	CircuitBreakerActive  prometheus.Gauge
	WSConnected           *prometheus.GaugeVec
	WSReconnects          prometheus.Counter
	ActiveMarkets         prometheus.Gauge
	DailyPnLUSD           prometheus.Gauge
	DailyExposureUSD      prometheus.Gauge
	DailyTradesTotal      prometheus.Counter
	BestPrice             *prometheus.GaugeVec
	VenueRequestDuration  *prometheus.HistogramVec
}

// New registers and returns every collector on a dedicated registry, so the
// metrics endpoint only ever serves this engine's series.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_total",
			Help: "Total submitted dual-leg trades.",
		}, []string{"market", "side", "mode"}),
		OpportunitiesDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "opportunities_detected_total",
			Help: "Total spread opportunities synthesized by the book tracker.",
		}),
		OpportunitiesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "opportunities_executed_total",
			Help: "Total opportunities that passed the risk gate.",
		}),
		OpportunitiesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opportunities_skipped_total",
			Help: "Total opportunities rejected or dropped, by reason.",
		}, []string{"reason"}),
		CircuitBreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total times the daily-loss circuit breaker tripped.",
		}),
		CircuitBreakerActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circuit_breaker_active",
			Help: "1 if the circuit breaker is currently tripped.",
		}),
		WSConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_connected",
			Help: "1 if the named WebSocket feed is currently connected.",
		}, []string{"feed"}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total successful WebSocket connections across all feeds, the first connect included.",
		}),
		ActiveMarkets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_markets",
			Help: "Number of markets currently tracked.",
		}),
		DailyPnLUSD: factory.NewGauge(prometheus.GaugeOpts{
			Name: "daily_pnl_usd",
			Help: "Today's realized PnL in USD.",
		}),
		DailyExposureUSD: factory.NewGauge(prometheus.GaugeOpts{
			Name: "daily_exposure_usd",
			Help: "Today's cumulative trade exposure in USD.",
		}),
		DailyTradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "daily_trades_total",
			Help: "Total trades recorded since process start; not reset at the daily rollover.",
		}),
		BestPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "best_price",
			Help: "Best observed ask for a market side.",
		}, []string{"market", "side"}),
		VenueRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venue_request_duration_seconds",
			Help:    "Venue HTTP request duration by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}, reg
}

// Handler returns the HTTP handler serving this registry's metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
