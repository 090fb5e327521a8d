package fsm

import (
	"fmt"
	"time"
)

// Interpreter executes one FSM step at a time against a Definition and an
// ActionRegistry (spec §4.5).
type Interpreter struct {
	definition *Definition
	actions    *ActionRegistry
}

// NewInterpreter returns an Interpreter for definition, resolving action
// names through actions.
func NewInterpreter(definition *Definition, actions *ActionRegistry) *Interpreter {
	return &Interpreter{definition: definition, actions: actions}
}

// StepResult is what one interpreter.Step call produces: the envelope's
// system_context as it should be persisted/re-emitted, and whether the FSM
// has an event to emit next (false means "no-op transition" or "waiting").
type StepResult struct {
	SystemContext SystemContext
	UserContext   []byte
	Emit          bool
}

// machine looks up e's machine by name.
func (i *Interpreter) machine(name string) (*Machine, error) {
	for idx := range i.definition.Machines {
		if i.definition.Machines[idx].Name == name {
			return &i.definition.Machines[idx], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMachine, name)
}

// Step runs exactly one FSM transition for e, per spec §4.5's six-step
// algorithm. A non-nil error means the step is a failure: callers must not
// checkpoint or emit, and must route the envelope to the retry scheduler
// instead (spec §4.5: "If any action raises, the step is a failure").
func (i *Interpreter) Step(e Envelope) (StepResult, error) {
	m, err := i.machine(e.SystemContext.MachineName)
	if err != nil {
		return StepResult{}, err
	}

	e.SystemContext.MaxRetries = m.MaxRetries
	e.SystemContext.Stream = m.Stream
	e.SystemContext.Table = m.Table
	e.SystemContext.Topic = m.Topic
	e.SystemContext.Metrics = m.Metrics
	if e.SystemContext.Retries > 0 {
		// Resuming a previously-checkpointed correlation id after a
		// retry, not a fresh step (spec §3).
		e.SystemContext.RestartedAt = time.Now().UTC()
	}

	current, ok := m.StateByName(e.SystemContext.CurrentState)
	if !ok {
		if e.SystemContext.CurrentState == PseudoInit {
			current = State{Name: PseudoInit}
		} else {
			return StepResult{}, fmt.Errorf("%w: %q", ErrUnknownState, e.SystemContext.CurrentState)
		}
	}

	transition, matched := matchTransition(current, e.SystemContext.CurrentEvent)
	if !matched {
		// spec §4.5 step 2: no matching transition is a no-op that just
		// increments retries, not a failure.
		next := e.SystemContext
		next.Retries++
		return StepResult{SystemContext: next, UserContext: e.UserContext, Emit: false}, nil
	}

	target, ok := m.StateByName(transition.Target)
	if !ok && transition.Target == PseudoFinal {
		target, ok = State{Name: PseudoFinal, Final: true}, true
	}
	if !ok {
		return StepResult{}, fmt.Errorf("%w: %q", ErrUnknownState, transition.Target)
	}

	ctx := newActionContext(e.SystemContext, e.UserContext)

	if err := i.runAction(current.ExitAction, ctx); err != nil {
		return StepResult{}, err
	}
	if err := i.runAction(transition.Action, ctx); err != nil {
		return StepResult{}, err
	}
	if err := i.runAction(target.EntryAction, ctx); err != nil {
		return StepResult{}, err
	}
	doEvent, err := i.runActionCapturingEvent(target.DoAction, ctx)
	if err != nil {
		return StepResult{}, err
	}

	nextEvent, emit := selectNextEvent(doEvent, ctx, target)
	next := e.SystemContext
	next.CurrentState = target.Name
	if !emit {
		return StepResult{SystemContext: next, UserContext: ctx.UserContext(), Emit: false}, nil
	}

	next.CurrentEvent = nextEvent
	next.Steps++
	next.Retries = 0
	if target.Final {
		next.FinishedAt = time.Now().UTC()
	}
	return StepResult{SystemContext: next, UserContext: ctx.UserContext(), Emit: true}, nil
}

// matchTransition finds current's outbound transition whose Event equals
// event, per spec §4.5 step 2.
func matchTransition(current State, event string) (Transition, bool) {
	for _, t := range current.Transitions {
		if t.Event == event {
			return t, true
		}
	}
	return Transition{}, false
}

// selectNextEvent implements spec §4.5 step 5: do_action's returned event
// wins; else a deferred send_event call; else pseudo_final if target is
// terminal; else the FSM is waiting (no emission).
func selectNextEvent(doEvent string, ctx *ActionContext, target State) (string, bool) {
	if doEvent != "" {
		return doEvent, true
	}
	if ctx.hasDeferred {
		return ctx.deferred, true
	}
	if target.Final {
		return PseudoFinal, true
	}
	return "", false
}

func (i *Interpreter) runAction(name string, ctx *ActionContext) error {
	_, err := i.runActionCapturingEvent(name, ctx)
	return err
}

func (i *Interpreter) runActionCapturingEvent(name string, ctx *ActionContext) (string, error) {
	action, err := i.actions.lookup(name)
	if err != nil {
		return "", err
	}
	if action == nil {
		return "", nil
	}
	return action(ctx)
}
