package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
machines:
  - name: order
    stream: arn:aws:kinesis:us-east-1:123456789012:stream/orders
    table: arn:aws:dynamodb:us-east-1:123456789012:table/orders
    max_retries: 3
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

func TestLoadDefinitionValid(t *testing.T) {
	def, err := LoadDefinition([]byte(validYAML))
	require.NoError(t, err)
	require.Len(t, def.Machines, 1)
	assert.Equal(t, "order", def.Machines[0].Name)
	assert.Equal(t, 3, def.Machines[0].MaxRetries)
}

func TestLoadDefinitionAppliesDefaultMaxRetries(t *testing.T) {
	const yaml = `
machines:
  - name: order
    states:
      - name: pseudo_init
        initial: true
`
	def, err := LoadDefinition([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, def.Machines[0].MaxRetries)
}

func TestLoadDefinitionRejectsDuplicateMachineNames(t *testing.T) {
	const yaml = `
machines:
  - name: order
    states: [{name: pseudo_init, initial: true}]
  - name: order
    states: [{name: pseudo_init, initial: true}]
`
	_, err := LoadDefinition([]byte(yaml))
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestLoadDefinitionRejectsMissingInitialState(t *testing.T) {
	const yaml = `
machines:
  - name: order
    states:
      - name: pending
`
	_, err := LoadDefinition([]byte(yaml))
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestLoadDefinitionRejectsTransitionToUndefinedState(t *testing.T) {
	const yaml = `
machines:
  - name: order
    states:
      - name: pseudo_init
        initial: true
        transitions:
          - event: go
            target: nowhere
`
	_, err := LoadDefinition([]byte(yaml))
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestStateByNameAndInitialState(t *testing.T) {
	def, err := LoadDefinition([]byte(validYAML))
	require.NoError(t, err)
	m := &def.Machines[0]

	state, ok := m.StateByName("pending")
	require.True(t, ok)
	assert.Equal(t, "charge_card", state.DoAction)

	assert.Equal(t, "pseudo_init", m.InitialState().Name)
}
