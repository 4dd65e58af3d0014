// Package metrics registers and serves Prometheus metrics for the
// momentum pipeline.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	TicksTotal    prometheus.Counter
	InvalidTicks  *prometheus.CounterVec // labels: reason
	CandlesTotal  *prometheus.CounterVec // labels: tf
	GapsRecorded  *prometheus.CounterVec // labels: tf
	CandleRejects *prometheus.CounterVec // labels: reason
	WSReconnects  prometheus.Counter

	RefreshDur      prometheus.Histogram
	RefreshFailures prometheus.Counter

	ScoreRequests *prometheus.CounterVec // labels: signal
	ScoreDur      prometheus.Histogram

	QuarantinedSeries prometheus.Gauge
}

// New registers and returns all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "momentum_ticks_total",
			Help: "Total ticks received from the provider WebSocket",
		}),
		InvalidTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_invalid_ticks_total",
			Help: "Ticks dropped by validation (by reason)",
		}, []string{"reason"}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_candles_total",
			Help: "Closed candles appended to the store (by timeframe)",
		}, []string{"tf"}),
		GapsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_gaps_total",
			Help: "Expected-but-missing candle slots recorded (by timeframe)",
		}, []string{"tf"}),
		CandleRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_candle_rejects_total",
			Help: "Candles rejected by the store (by reason)",
		}, []string{"reason"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "momentum_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		RefreshDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "momentum_rest_refresh_duration_seconds",
			Help:    "REST candle fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "momentum_rest_refresh_failures_total",
			Help: "REST candle fetches that failed",
		}),
		ScoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momentum_score_requests_total",
			Help: "Score requests served (by resulting signal)",
		}, []string{"signal"}),
		ScoreDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "momentum_score_duration_seconds",
			Help:    "Score computation latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		QuarantinedSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "momentum_quarantined_series",
			Help: "Series quarantined after an invariant violation",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal, m.InvalidTicks, m.CandlesTotal, m.GapsRecorded,
		m.CandleRejects, m.WSReconnects, m.RefreshDur, m.RefreshFailures,
		m.ScoreRequests, m.ScoreDur, m.QuarantinedSeries,
	)
	return m
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server failed", "err", err)
	}
}
