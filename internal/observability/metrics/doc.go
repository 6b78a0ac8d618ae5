// Package metrics provides the Prometheus collectors shared by the API and worker.
//
// All collectors are registered with the default registry via promauto and
// exposed on /metrics. Record* helpers keep label handling in one place.
//
//	start := time.Now()
//	// ... send batch ...
//	metrics.RecordChannelDispatch("EMAIL", sent, failed, time.Since(start))
package metrics
