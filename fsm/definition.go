package fsm

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Action is the user-supplied code run for an entry_action, do_action,
// exit_action, or transition action (spec §6). It receives an ActionContext
// for read/write access to user_context and a deferred send_event, and
// returns the next event name to emit (empty means "no opinion"; do_action's
// return is what the interpreter actually uses to pick the next event).
type Action func(ctx *ActionContext) (nextEvent string, err error)

// Transition is one outbound edge of a State, fired when CurrentEvent
// matches Event.
type Transition struct {
	Event  string `yaml:"event"`
	Target string `yaml:"target"`
	Action string `yaml:"action,omitempty"`
}

// State is one node of a Machine's state graph (spec §6).
type State struct {
	Name        string       `yaml:"name"`
	Initial     bool         `yaml:"initial,omitempty"`
	Final       bool         `yaml:"final,omitempty"`
	EntryAction string       `yaml:"entry_action,omitempty"`
	DoAction    string       `yaml:"do_action,omitempty"`
	ExitAction  string       `yaml:"exit_action,omitempty"`
	Transitions []Transition `yaml:"transitions,omitempty"`
}

// Machine is one FSM's static definition: its states, transitions, and the
// backend ARNs/limits it dispatches through (spec §6).
type Machine struct {
	Name       string  `yaml:"name"`
	Stream     string  `yaml:"stream"`
	Table      string  `yaml:"table"`
	Topic      string  `yaml:"topic"`
	Metrics    string  `yaml:"metrics"`
	MaxRetries int     `yaml:"max_retries"`
	States     []State `yaml:"states"`
}

// Definition is the top-level FSM definition document (spec §6's "external
// collaborator input").
type Definition struct {
	Machines []Machine `yaml:"machines"`
}

// DefaultMaxRetries is used when a Machine doesn't set max_retries (spec
// §4.8: "max_retries from config; default 5").
const DefaultMaxRetries = 5

// LoadDefinition parses and validates a YAML FSM definition document,
// checking the uniqueness and referential-integrity rules spec §6 requires
// of the loader.
func LoadDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("fsm: parse definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks machine-name uniqueness, state-name uniqueness within
// each machine, exactly one initial state, and that every transition
// target and the pseudo-states resolve to a real or reserved state name.
func (d *Definition) Validate() error {
	names := map[string]bool{}
	for i := range d.Machines {
		m := &d.Machines[i]
		if m.Name == "" {
			return fmt.Errorf("%w: machine at index %d has no name", ErrInvalidDefinition, i)
		}
		if names[m.Name] {
			return fmt.Errorf("%w: duplicate machine name %q", ErrInvalidDefinition, m.Name)
		}
		names[m.Name] = true
		if m.MaxRetries <= 0 {
			m.MaxRetries = DefaultMaxRetries
		}
		if err := m.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) validate() error {
	stateNames := map[string]bool{PseudoInit: true, PseudoFinal: true}
	initialCount := 0
	for _, s := range m.States {
		if s.Name == "" {
			return fmt.Errorf("%w: machine %q has an unnamed state", ErrInvalidDefinition, m.Name)
		}
		if stateNames[s.Name] && s.Name != PseudoInit && s.Name != PseudoFinal {
			return fmt.Errorf("%w: machine %q has duplicate state %q", ErrInvalidDefinition, m.Name, s.Name)
		}
		stateNames[s.Name] = true
		if s.Initial {
			initialCount++
		}
	}
	if initialCount != 1 {
		return fmt.Errorf("%w: machine %q must have exactly one initial state, found %d", ErrInvalidDefinition, m.Name, initialCount)
	}
	for _, s := range m.States {
		for _, t := range s.Transitions {
			if !stateNames[t.Target] {
				return fmt.Errorf("%w: machine %q state %q transitions to undefined state %q", ErrInvalidDefinition, m.Name, s.Name, t.Target)
			}
		}
	}
	return nil
}

// StateByName returns the named state, or ok=false if it doesn't exist.
func (m *Machine) StateByName(name string) (State, bool) {
	for _, s := range m.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

// InitialState returns the machine's single initial state.
func (m *Machine) InitialState() State {
	for _, s := range m.States {
		if s.Initial {
			return s
		}
	}
	return State{}
}
