package main

import (
	"net/http"

	"github.com/angeloszaimis/dispatcher/internal/healthcheck"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
)

func setupRouter(dispatchHandler http.Handler, metricsCollector *metrics.Collector, monitor *healthcheck.Monitor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", dispatchHandler)
	mux.HandleFunc("GET /metrics", metricsCollector.Handler())
	mux.Handle("GET /metrics/prometheus", metricsCollector.PrometheusHandler())

	if monitor != nil {
		mux.HandleFunc("GET /healthz", monitor.Handler())
	} else {
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"healthy":true}` + "\n"))
		})
	}

	return mux
}
