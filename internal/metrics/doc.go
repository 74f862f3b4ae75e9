/*
Package metrics exports cache activity to Prometheus.

Collector keeps its series on a private registry so that several engines, or tests, can coexist in
one process. Handler returns the exposition endpoint for the host application to mount; the
package itself never listens on a port.

Series (namespace defaults to "tiercache"):

	requests_total{result,tier}           hits by serving tier, misses with tier="none"
	evictions_total{reason}               expired, capacity, invalidated
	entries{tier}                         live entries, refreshed after batch operations
	size_bytes{tier}                      stored value bytes
	persistence_failures_total{kind}      swallowed persistent write failures by error code
	loader_failures_total{category}       failed warm loads
	operation_duration_seconds{operation} warm, optimize, invalidate, sweep

A disabled Collector, and the Nop recorder, discard everything.
*/
package metrics
