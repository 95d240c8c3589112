/*
Package metrics exposes Prometheus instrumentation: state gauges
refreshed from instance snapshots and lifecycle counters driven by
broker events.
*/
package metrics
