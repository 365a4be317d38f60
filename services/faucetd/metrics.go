package faucetd

import "viafaucet/observability"

// Metrics exposes Prometheus collectors for faucetd instrumentation.
type Metrics = observability.FaucetdMetrics

// NewMetrics returns a lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Faucetd() }
