// Package sinks implements progress consumers: Prometheus counters,
// structured logging and the persisted run ledger.
package sinks
