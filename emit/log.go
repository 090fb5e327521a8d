package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes structured event output to a writer, in text or JSON
// (JSONL) mode.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter writing to writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		CorrelationID string         `json:"correlation_id"`
		MachineName   string         `json:"machine_name"`
		Step          int            `json:"step"`
		Kind          Kind           `json:"kind"`
		Message       string         `json:"message"`
		Fields        map[string]any `json:"fields,omitempty"`
	}{event.CorrelationID, event.MachineName, event.Step, event.Kind, event.Message, event.Fields})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] correlation_id=%s machine_name=%s step=%d %s",
		event.Kind, event.CorrelationID, event.MachineName, event.Step, event.Message)
	if len(event.Fields) > 0 {
		if fieldsJSON, err := json.Marshal(event.Fields); err == nil {
			_, _ = fmt.Fprintf(l.writer, " fields=%s", fieldsJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal
// buffer. Wrap writer in a bufio.Writer and flush that directly if needed.
func (l *LogEmitter) Flush(context.Context) error { return nil }
