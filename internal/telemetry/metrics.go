package telemetry

// metrics.go exposes the operational counters/gauges the spec's
// telemetry layer promises over Prometheus: ticks ingested, bars
// emitted, orders placed, risk rejections, and storage contention
// retries. Registered at package init and served by promhttp.Handler()
// the same way the chidi150c-coinbase bot exposes /metrics.

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ticksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_ticks_ingested_total",
			Help: "Raw ticks appended to the live buffer, by symbol.",
		},
		[]string{"symbol"},
	)

	barsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_bars_emitted_total",
			Help: "OHLCV bars finalized by the aggregator/resampler, by symbol and timeframe.",
		},
		[]string{"symbol", "timeframe"},
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_orders_placed_total",
			Help: "Orders dispatched by the execution engine, by mode and side.",
		},
		[]string{"mode", "side"},
	)

	riskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_risk_rejections_total",
			Help: "Signals rejected by the risk gate, by the rule that rejected them.",
		},
		[]string{"rule"},
	)

	storageRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_storage_retries_total",
			Help: "Retry attempts against a storage partition under lock contention, by operation.",
		},
		[]string{"op"},
	)

	subscriberBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_telemetry_subscribers",
			Help: "Number of active telemetry bus subscribers.",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksIngested, barsEmitted, ordersPlaced, riskRejections, storageRetries, subscriberBacklog)
}

// IncTicksIngested records one tick appended to the live buffer.
func IncTicksIngested(symbol string) { ticksIngested.WithLabelValues(symbol).Inc() }

// IncBarsEmitted records one bar finalized for symbol at timeframe.
func IncBarsEmitted(symbol, timeframe string) { barsEmitted.WithLabelValues(symbol, timeframe).Inc() }

// IncOrderPlaced records one order dispatched in mode (DRY_RUN/PAPER/LIVE) on side (BUY/SELL).
func IncOrderPlaced(mode, side string) { ordersPlaced.WithLabelValues(mode, side).Inc() }

// IncRiskRejection records one signal rejected by the named risk rule.
func IncRiskRejection(rule string) { riskRejections.WithLabelValues(rule).Inc() }

// IncStorageRetry records one retry attempt against a storage partition for op.
func IncStorageRetry(op string) { storageRetries.WithLabelValues(op).Inc() }

// SetSubscriberGauge reports the bus's current subscriber count.
func SetSubscriberGauge(n int) { subscriberBacklog.Set(float64(n)) }

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a best-effort HTTP server exposing /metrics on addr. It
// blocks until the server stops and returns that error; callers typically
// launch it in its own goroutine and let it run for the process lifetime.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
