// Package metrics collects per-worker request metrics and exports the live
// status store.
//
// The Collector runs a channel-based event pipeline in its own goroutine:
// request, election, completion and worker state events are sent without
// blocking the request path and aggregated into counts, status codes and
// latency percentiles (P50, P95, P99), served as JSON.
//
// StoreCollector is a Prometheus collector that reads the shared status
// records on every scrape, so the exported counters are the ones all
// processes sharing the store contribute to.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	ctrl := proxy.New(proxy.Options{
//		OnElect:    collector.OnElect,
//		OnFinalize: collector.OnFinalize,
//	})
//
//	mux.Handle("/metrics", collector.Handler())
package metrics
