// Package metrics collects dispatch metrics off the request path.
//
// The dispatcher emits events on a buffered channel without blocking; a
// single goroutine folds them into:
//   - attempts, transport failures and exclusions per target
//   - status code distribution per target
//   - response times with percentile calculations (P50, P95, P99)
//
// The same events feed a Prometheus registry. Snapshots are served as JSON
// by Handler and in exposition format by PrometheusHandler.
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.EventChannel() <- metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Service:    "user",
//		Target:     "http://10.0.0.1:8080",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	}
//
// On shutdown the collector drains pending events before returning.
package metrics
