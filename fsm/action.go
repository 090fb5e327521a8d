package fsm

import (
	"encoding/json"
	"fmt"
)

// ActionContext is what spec §4.5 step 4 calls "a context object giving
// read/write on user_context, read-only system metadata, and a send_event
// method that defers the next event to the end of the step."
type ActionContext struct {
	System      SystemContext
	userContext json.RawMessage
	deferred    string
	hasDeferred bool
}

// newActionContext builds an ActionContext for one action invocation.
func newActionContext(sys SystemContext, userContext json.RawMessage) *ActionContext {
	return &ActionContext{System: sys, userContext: userContext}
}

// UnmarshalUserContext decodes the envelope's user_context into dst, which
// should be a pointer to the FSM's own user-context struct.
func (c *ActionContext) UnmarshalUserContext(dst any) error {
	if len(c.userContext) == 0 {
		return nil
	}
	return json.Unmarshal(c.userContext, dst)
}

// SetUserContext replaces user_context with the JSON encoding of v.
func (c *ActionContext) SetUserContext(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("fsm: encode user_context: %w", err)
	}
	c.userContext = encoded
	return nil
}

// SendEvent defers the interpreter's next-event selection (spec §4.5 step
// 4): the last SendEvent call in a step wins over a do_action's own return
// value only if do_action itself returns no opinion.
func (c *ActionContext) SendEvent(event string) {
	c.deferred = event
	c.hasDeferred = true
}

// UserContext returns the current raw user_context JSON.
func (c *ActionContext) UserContext() json.RawMessage { return c.userContext }

// ActionRegistry maps the wire-level action names a Definition references
// (entry_action, do_action, exit_action, transition action) to the Go
// functions that implement them. One registry is shared across all
// machines a process dispatches.
type ActionRegistry struct {
	actions map[string]Action
}

// NewActionRegistry returns an empty ActionRegistry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: map[string]Action{}}
}

// Register adds name to the registry. Registering the same name twice
// panics, since that is always a programmer error at process-wiring time,
// not a runtime condition the pipeline must recover from.
func (r *ActionRegistry) Register(name string, action Action) *ActionRegistry {
	if _, exists := r.actions[name]; exists {
		panic(fmt.Sprintf("fsm: action %q registered twice", name))
	}
	r.actions[name] = action
	return r
}

func (r *ActionRegistry) lookup(name string) (Action, error) {
	if name == "" {
		return nil, nil
	}
	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return action, nil
}
