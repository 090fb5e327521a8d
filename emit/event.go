package emit

// Kind classifies an Event for emitters that branch on severity (the
// OTelEmitter's span status).
type Kind string

const (
	KindInfo      Kind = "info"
	KindError     Kind = "error"
	KindFatal     Kind = "fatal"
	KindSkipped   Kind = "skipped"
	KindDuplicate Kind = "duplicate"
	KindRetry     Kind = "retry"
)

// Event is an observability event emitted during dispatch pipeline
// execution. Field names follow the dispatch domain (correlation_id,
// machine_name, step) rather than the generic run/node vocabulary a
// general workflow engine would use.
type Event struct {
	// CorrelationID identifies the FSM instance this event concerns.
	// Empty for process-level events (startup, config validation).
	CorrelationID string
	// MachineName is the FSM definition's name.
	MachineName string
	// Step is the dispatch step number this event occurred during.
	Step int
	// Kind classifies the event's severity/category.
	Kind Kind
	// Message is a short human-readable description.
	Message string
	// Fields carries structured detail specific to this event.
	Fields map[string]any
}
