package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderYAML = `
machines:
  - name: order
    states:
      - name: pseudo_init
        initial: true
        transitions:
          - event: pseudo_init
            target: pending
      - name: pending
        do_action: charge_card
        transitions:
          - event: paid
            target: shipped
      - name: shipped
        final: true
`

func newOrderInterpreter(t *testing.T, actions *ActionRegistry) *Interpreter {
	t.Helper()
	def, err := LoadDefinition([]byte(orderYAML))
	require.NoError(t, err)
	return NewInterpreter(def, actions)
}

func TestStepColdStartEmitsNextEvent(t *testing.T) {
	actions := NewActionRegistry().Register("charge_card", func(ctx *ActionContext) (string, error) {
		return "paid", nil
	})
	interp := newOrderInterpreter(t, actions)

	envelope := Envelope{SystemContext: SystemContext{
		MachineName:  "order",
		CurrentState: PseudoInit,
		CurrentEvent: PseudoInit,
	}}

	result, err := interp.Step(envelope)
	require.NoError(t, err)
	assert.True(t, result.Emit)
	assert.Equal(t, "pending", result.SystemContext.CurrentState)
	assert.Equal(t, 1, result.SystemContext.Steps)
}

func TestStepRunsDoActionAndEmitsReturnedEvent(t *testing.T) {
	actions := NewActionRegistry().Register("charge_card", func(ctx *ActionContext) (string, error) {
		return "paid", nil
	})
	interp := newOrderInterpreter(t, actions)

	envelope := Envelope{SystemContext: SystemContext{
		MachineName:  "order",
		CurrentState: "pseudo_init",
		CurrentEvent: "pseudo_init",
		Steps:        0,
	}}
	first, err := interp.Step(envelope)
	require.NoError(t, err)

	envelope.SystemContext = first.SystemContext
	second, err := interp.Step(envelope)
	require.NoError(t, err)
	assert.True(t, second.Emit)
	assert.Equal(t, "shipped", second.SystemContext.CurrentState)
	assert.Equal(t, "pseudo_final", second.SystemContext.CurrentEvent)
	assert.Equal(t, 0, second.SystemContext.Retries)
}

func TestStepNoMatchingTransitionIncrementsRetries(t *testing.T) {
	actions := NewActionRegistry()
	interp := newOrderInterpreter(t, actions)

	envelope := Envelope{SystemContext: SystemContext{
		MachineName:  "order",
		CurrentState: "pending",
		CurrentEvent: "unrelated_event",
		Retries:      2,
	}}
	result, err := interp.Step(envelope)
	require.NoError(t, err)
	assert.False(t, result.Emit)
	assert.Equal(t, 3, result.SystemContext.Retries)
	assert.Equal(t, "pending", result.SystemContext.CurrentState)
}

func TestStepActionErrorIsAFailure(t *testing.T) {
	boom := errors.New("card declined")
	actions := NewActionRegistry().Register("charge_card", func(ctx *ActionContext) (string, error) {
		return "", boom
	})
	interp := newOrderInterpreter(t, actions)

	envelope := Envelope{SystemContext: SystemContext{
		MachineName:  "order",
		CurrentState: "pseudo_init",
		CurrentEvent: "pseudo_init",
	}}
	_, err := interp.Step(envelope)
	require.ErrorIs(t, err, boom)
}

func TestStepUnknownActionNameErrors(t *testing.T) {
	actions := NewActionRegistry()
	interp := newOrderInterpreter(t, actions)

	envelope := Envelope{SystemContext: SystemContext{
		MachineName:  "order",
		CurrentState: "pseudo_init",
		CurrentEvent: "pseudo_init",
	}}
	_, err := interp.Step(envelope)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestStepUnknownMachineErrors(t *testing.T) {
	interp := newOrderInterpreter(t, NewActionRegistry())
	_, err := interp.Step(Envelope{SystemContext: SystemContext{MachineName: "missing"}})
	assert.ErrorIs(t, err, ErrUnknownMachine)
}

const entryExitYAML = `
machines:
  - name: widget
    states:
      - name: pseudo_init
        initial: true
        transitions:
          - event: pseudo_init
            target: pending
            action: on_transition
      - name: pending
        entry_action: on_entry
        exit_action: on_exit
        transitions:
          - event: go
            target: pseudo_final
`

func TestStepRunsActionsInOrder(t *testing.T) {
	var order []string
	record := func(name string) Action {
		return func(ctx *ActionContext) (string, error) {
			order = append(order, name)
			return "", nil
		}
	}
	actions := NewActionRegistry().
		Register("on_transition", record("transition")).
		Register("on_entry", record("entry"))

	def, err := LoadDefinition([]byte(entryExitYAML))
	require.NoError(t, err)
	interp := NewInterpreter(def, actions)

	_, err = interp.Step(Envelope{SystemContext: SystemContext{
		MachineName:  "widget",
		CurrentState: PseudoInit,
		CurrentEvent: PseudoInit,
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"transition", "entry"}, order)
}

func TestSendEventOverridesWhenDoActionHasNoOpinion(t *testing.T) {
	actions := NewActionRegistry().Register("charge_card", func(ctx *ActionContext) (string, error) {
		ctx.SendEvent("paid")
		return "", nil
	})
	interp := newOrderInterpreter(t, actions)

	envelope := Envelope{SystemContext: SystemContext{
		MachineName:  "order",
		CurrentState: "pseudo_init",
		CurrentEvent: "pseudo_init",
	}}
	first, err := interp.Step(envelope)
	require.NoError(t, err)

	envelope.SystemContext = first.SystemContext
	second, err := interp.Step(envelope)
	require.NoError(t, err)
	assert.True(t, second.Emit)
	assert.Equal(t, "shipped", second.SystemContext.CurrentState)
}
