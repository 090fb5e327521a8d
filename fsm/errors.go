package fsm

import "errors"

// ErrInvalidDefinition is returned by LoadDefinition/Validate when a
// machine definition violates the loader's uniqueness or
// referential-integrity rules (spec §6).
var ErrInvalidDefinition = errors.New("fsm: invalid machine definition")

// ErrUnknownAction is returned when a transition/state names an action that
// was never registered with an ActionRegistry.
var ErrUnknownAction = errors.New("fsm: unknown action")

// ErrUnknownMachine is returned when the pipeline is asked to dispatch an
// envelope whose machine_name isn't in the loaded Definition.
var ErrUnknownMachine = errors.New("fsm: unknown machine")

// ErrUnknownState is returned when an envelope's current_state isn't a
// state of its machine.
var ErrUnknownState = errors.New("fsm: unknown state")
