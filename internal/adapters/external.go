// Package adapters defines the narrow interface external collaborators
// implement against this engine's candle stream. The options Greeks
// aggregator and depth heatmap named in spec.md §1 are out of scope;
// ExternalConsumer exists only so the core's shape toward them is visible.
package adapters

import "orderflow-engine/internal/footprint"

// ExternalConsumer receives a footprint snapshot whenever a symbol's
// engine state changes, the same event that drives the broadcaster.
// Implementations (an options Greeks aggregator, a depth-heatmap
// accumulator) live outside this module.
type ExternalConsumer interface {
	OnSnapshot(symbol string, snapshot footprint.State)
}
