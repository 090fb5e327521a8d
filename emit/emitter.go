// Package emit provides structured event emission for the dispatch
// pipeline: logging, buffering, and OpenTelemetry tracing backends behind
// one interface, adapted from the teacher engine's node-execution emitter.
package emit

import "context"

// Emitter receives observability events from the dispatch pipeline.
// Implementations must not block dispatch and must not panic; Emit itself
// returns nothing; failures are an emitter-internal concern.
type Emitter interface {
	Emit(event Event)
	// EmitBatch sends multiple events in one call, preserving order.
	EmitBatch(ctx context.Context, events []Event) error
	// Flush blocks until all buffered events are delivered or ctx expires.
	Flush(ctx context.Context) error
}
