package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ladder_ws_frames_total", Help: "Websocket frames received by venue",
	}, []string{"venue"})
	FrameDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ladder_ws_frame_drops_total", Help: "Frames dropped by venue and reason",
	}, []string{"venue", "reason"})
	WSReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ladder_ws_reconnects_total", Help: "Websocket reconnects by venue",
	}, []string{"venue"})
	ResyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ladder_resyncs_total", Help: "Snapshot resyncs by venue and result",
	}, []string{"venue", "result"})
	EmitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ladder_emits_total", Help: "Ladder messages written by kind",
	}, []string{"kind"})
	BookLevels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ladder_book_levels", Help: "Cached price levels per book side",
	}, []string{"side"})
	RESTRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ladder_rest_requests_total", Help: "REST requests by host and outcome",
	}, []string{"host", "outcome"})
	RESTLatencyMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ladder_rest_latency_ms", Help: "REST round trip latency",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"host"})
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ladder_circuit_breaker_state", Help: "0 closed, 1 open, 2 half-open",
	}, []string{"name"})
)

// InitMetrics registers every collector on a fresh registry.
func InitMetrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		FramesTotal, FrameDropsTotal, WSReconnectsTotal, ResyncsTotal,
		EmitsTotal, BookLevels, RESTRequestsTotal, RESTLatencyMs, BreakerState,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler serves the registry in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ServeMetrics blocks serving /metrics on addr until ctx is done.
// An empty addr disables the endpoint.
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("📈 Metrics listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
