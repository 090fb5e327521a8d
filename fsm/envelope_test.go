package fsm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := Envelope{
		Version: "0.1",
		SystemContext: SystemContext{
			MachineName:   "order",
			CurrentState:  "pending",
			CurrentEvent:  "paid",
			Steps:         2,
			Retries:       0,
			CorrelationID: "cid1",
		},
		UserContext: json.RawMessage(`{"b":2,"a":1}`),
	}
	encoded, err := Encode(e)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, e.SystemContext, decoded.SystemContext)

	var userContext map[string]int
	require.NoError(t, json.Unmarshal(decoded.UserContext, &userContext))
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, userContext)
}

func TestEncodeCanonicalKeyOrderIsByteIdentical(t *testing.T) {
	a := Envelope{SystemContext: SystemContext{CorrelationID: "cid1"}, UserContext: json.RawMessage(`{"z":1,"a":2}`)}
	b := Envelope{SystemContext: SystemContext{CorrelationID: "cid1"}, UserContext: json.RawMessage(`{"a":2,"z":1}`)}

	encodedA, err := Encode(a)
	require.NoError(t, err)
	encodedB, err := Encode(b)
	require.NoError(t, err)
	assert.Equal(t, encodedA, encodedB)
}

func TestDecodeDefaultsVersion(t *testing.T) {
	decoded, err := Decode([]byte(`{"system_context":{"correlation_id":"cid1"}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, decoded.Version)
}

func TestDecodeMalformedJSONErrors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestCorrelationIDSteps(t *testing.T) {
	sys := SystemContext{CorrelationID: "cid1", Steps: 3}
	assert.Equal(t, "cid1-3", sys.CorrelationIDSteps())
}
