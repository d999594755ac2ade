// Package sinks implements progress consumers: Prometheus collectors and a
// structured log sink. Every sink satisfies progress.Sink.
package sinks
