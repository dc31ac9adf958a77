// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, live observer fan-out, message-bus publishing and
// run-history persistence. Each sink satisfies progress.Sink and is safe for
// repeated Consume/Close cycles.
package sinks
