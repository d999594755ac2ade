// Package progress carries crawl lifecycle events from the dispatcher to
// observers. The Hub buffers events without blocking the crawl and delivers
// them in batches to sinks such as Prometheus collectors or the debug log.
package progress
