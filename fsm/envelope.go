// Package fsm implements the state machine interpreter, envelope codec, and
// dispatch pipeline that together advance one FSM by one step per
// invocation (spec §4.5, §4.9).
package fsm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultVersion is the envelope's wire version when the caller doesn't
// set one (spec §6: "version (default \"0.1\")").
const DefaultVersion = "0.1"

// PseudoInit and PseudoFinal are the two reserved pseudo-states spec §6
// carves out of every machine's state namespace.
const (
	PseudoInit  = "pseudo_init"
	PseudoFinal = "pseudo_final"
)

// SystemContext is the pipeline-owned half of an envelope: everything the
// interpreter needs to resume an FSM at exactly the point it last left off
// (spec §3's data model).
type SystemContext struct {
	MachineName   string    `json:"machine_name"`
	CurrentState  string    `json:"current_state"`
	CurrentEvent  string    `json:"current_event"`
	Steps         int       `json:"steps"`
	Retries       int       `json:"retries"`
	MaxRetries    int       `json:"max_retries"`
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"started_at"`
	// RestartedAt is stamped by the interpreter whenever a step resumes a
	// previously-checkpointed correlation id after a retry, so actions can
	// tell cold-start idle time from redelivery idle time.
	RestartedAt time.Time `json:"restarted_at,omitempty"`
	// FinishedAt is stamped when a step transitions into a final state.
	FinishedAt time.Time `json:"finished_at,omitempty"`
	// Stream, Table, Topic, and Metrics are this machine's resource
	// pointers (spec §3), copied from its Definition so any consumer that
	// only has the envelope in hand can still resolve where it dispatches.
	Stream  string `json:"stream,omitempty"`
	Table   string `json:"table,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Metrics string `json:"metrics,omitempty"`
	// LeasePrimary records which failover side currently owns the lease
	// for this step.
	LeasePrimary bool `json:"lease_primary,omitempty"`
}

// Envelope is the wire format passed between pipeline invocations (spec
// §6). UserContext is left as raw JSON so the pipeline never needs to know
// an FSM's user-context schema; actions decode/encode it themselves.
type Envelope struct {
	Version       string          `json:"version"`
	SystemContext SystemContext   `json:"system_context"`
	UserContext   json.RawMessage `json:"user_context"`
}

// Encode canonically serializes e: object keys are sorted so two envelopes
// differing only in key insertion order produce byte-identical output
// (spec §8 property 4). encoding/json already emits struct fields in
// declaration order and map keys sorted, so this only needs to guard
// UserContext, which arrives as arbitrary caller-supplied JSON.
func Encode(e Envelope) ([]byte, error) {
	if e.Version == "" {
		e.Version = DefaultVersion
	}
	canonicalUser, err := canonicalizeJSON(e.UserContext)
	if err != nil {
		return nil, fmt.Errorf("fsm: canonicalize user_context: %w", err)
	}
	e.UserContext = canonicalUser
	return json.Marshal(e)
}

// Decode parses payload into an Envelope, round-tripping with Encode for
// any well-formed envelope (spec §8 property 3).
func Decode(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("fsm: decode envelope: %w", err)
	}
	if e.Version == "" {
		e.Version = DefaultVersion
	}
	if e.UserContext == nil {
		e.UserContext = json.RawMessage("{}")
	}
	return e, nil
}

// canonicalizeJSON re-serializes raw through a generic map/slice/scalar
// walk so nested object keys sort deterministically, matching Go's own
// map-key-sorting behavior at every nesting level rather than just the top.
func canonicalizeJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// CorrelationIDSteps formats the retry/checkpoint composite key spec §6
// calls "correlation_id_steps".
func (s SystemContext) CorrelationIDSteps() string {
	return fmt.Sprintf("%s-%d", s.CorrelationID, s.Steps)
}
