package emit

import "context"

// NullEmitter discards every event. Useful in tests and for deployments
// that have no observability backend configured.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that discards everything.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }
