package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lambdafsm/dispatcher/failover"
)

// StartMachine builds the canonical cold-start envelope for machineName
// (spec §6's Kickoff API) and dispatches it to the primary stream,
// partitioned by correlation id. If correlationID is empty, a fresh UUID is
// generated.
func StartMachine(ctx context.Context, router *failover.Router, machineName string, initialUserContext any, correlationID string) (Envelope, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	userContext, err := json.Marshal(initialUserContext)
	if err != nil {
		return Envelope{}, fmt.Errorf("fsm: encode initial user_context: %w", err)
	}

	envelope := Envelope{
		Version: DefaultVersion,
		SystemContext: SystemContext{
			MachineName:   machineName,
			CurrentState:  PseudoInit,
			CurrentEvent:  PseudoInit,
			Steps:         0,
			Retries:       0,
			CorrelationID: correlationID,
			StartedAt:     time.Now().UTC(),
		},
		UserContext: userContext,
	}

	payload, err := Encode(envelope)
	if err != nil {
		return Envelope{}, err
	}

	conn, ok := router.Resolve(ctx, failover.RoleStream, true)
	if !ok {
		return Envelope{}, fmt.Errorf("fsm: no primary stream connection available for %q", machineName)
	}
	stream, ok := conn.(streamConn)
	if !ok {
		return Envelope{}, fmt.Errorf("fsm: stream role connection for %q does not implement Stream", machineName)
	}
	if err := stream.PutRecord(ctx, correlationID, payload); err != nil {
		return Envelope{}, fmt.Errorf("fsm: dispatch kickoff envelope: %w", err)
	}
	return envelope, nil
}

// StartMachines builds and dispatches one kickoff envelope per
// (correlationID, initialUserContext) pair using the stream's batched send,
// per spec §6's "bulk variant uses a batched send" (mirrors the original
// client.py's start_state_machines).
func StartMachines(ctx context.Context, router *failover.Router, machineName string, seeds map[string]any) ([]Envelope, error) {
	conn, ok := router.Resolve(ctx, failover.RoleStream, true)
	if !ok {
		return nil, fmt.Errorf("fsm: no primary stream connection available for %q", machineName)
	}
	stream, ok := conn.(streamConn)
	if !ok {
		return nil, fmt.Errorf("fsm: stream role connection for %q does not implement Stream", machineName)
	}

	envelopes := make([]Envelope, 0, len(seeds))
	records := make(map[string][]byte, len(seeds))
	for correlationID, userContext := range seeds {
		encoded, err := json.Marshal(userContext)
		if err != nil {
			return nil, fmt.Errorf("fsm: encode initial user_context for %q: %w", correlationID, err)
		}
		envelope := Envelope{
			Version: DefaultVersion,
			SystemContext: SystemContext{
				MachineName:   machineName,
				CurrentState:  PseudoInit,
				CurrentEvent:  PseudoInit,
				CorrelationID: correlationID,
				StartedAt:     time.Now().UTC(),
			},
			UserContext: encoded,
		}
		payload, err := Encode(envelope)
		if err != nil {
			return nil, err
		}
		records[correlationID] = payload
		envelopes = append(envelopes, envelope)
	}

	if err := stream.PutRecords(ctx, records); err != nil {
		return nil, fmt.Errorf("fsm: dispatch kickoff batch: %w", err)
	}
	return envelopes, nil
}

// streamConn is the subset of transport.Stream a broker.Conn must satisfy
// for the kickoff API; declared locally so fsm doesn't need to import
// transport just for this type assertion's shape.
type streamConn interface {
	PutRecord(ctx context.Context, partitionKey string, payload []byte) error
	PutRecords(ctx context.Context, records map[string][]byte) error
}
