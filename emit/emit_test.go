package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEmitterTextMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	e.Emit(Event{CorrelationID: "c1", MachineName: "order", Step: 2, Kind: KindInfo, Message: "dispatched"})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "[info] correlation_id=c1 machine_name=order step=2 dispatched"))
}

func TestLogEmitterJSONMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)
	e.Emit(Event{CorrelationID: "c1", Kind: KindError, Message: "boom", Fields: map[string]any{"error": "timeout"}})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "c1", decoded["correlation_id"])
	assert.Equal(t, "error", decoded["kind"])
}

func TestLogEmitterEmitBatch(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	require.NoError(t, e.EmitBatch(context.Background(), []Event{
		{Message: "one"},
		{Message: "two"},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestNullEmitterDiscardsEverything(t *testing.T) {
	e := NewNullEmitter()
	e.Emit(Event{Message: "noop"})
	assert.NoError(t, e.EmitBatch(context.Background(), []Event{{Message: "noop"}}))
	assert.NoError(t, e.Flush(context.Background()))
}

func TestBufferedEmitterHistoryByCorrelationID(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{CorrelationID: "a", Message: "one"})
	e.Emit(Event{CorrelationID: "b", Message: "two"})
	e.Emit(Event{CorrelationID: "a", Message: "three"})

	history := e.History("a")
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Message)
	assert.Equal(t, "three", history[1].Message)

	assert.Empty(t, e.History("missing"))
}

func TestBufferedEmitterClear(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{CorrelationID: "a", Message: "one"})
	e.Emit(Event{CorrelationID: "b", Message: "two"})

	e.Clear("a")
	assert.Empty(t, e.History("a"))
	assert.Len(t, e.History("b"), 1)

	e.Clear("")
	assert.Empty(t, e.History("b"))
}
