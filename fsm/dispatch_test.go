package fsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
	"github.com/lambdafsm/dispatcher/emit"
	"github.com/lambdafsm/dispatcher/failover"
	"github.com/lambdafsm/dispatcher/idempotency"
	"github.com/lambdafsm/dispatcher/lease"
	"github.com/lambdafsm/dispatcher/retry"
	"github.com/lambdafsm/dispatcher/transport"
)

const widgetYAML = `
machines:
  - name: widget
    max_retries: 2
    states:
      - name: pseudo_init
        initial: true
        transitions:
          - event: pseudo_init
            target: pending
      - name: pending
        do_action: process
        transitions:
          - event: done
            target: pseudo_final
`

type testHarness struct {
	dispatcher *Dispatcher
	stream     *transport.MemoryStream
	cache      *transport.MemoryCache
	docStore   *transport.MemoryDocumentStore
	router     *failover.Router
	buf        *emit.BufferedEmitter
}

func newTestHarness(t *testing.T, doAction Action) *testHarness {
	t.Helper()
	def, err := LoadDefinition([]byte(widgetYAML))
	require.NoError(t, err)
	actions := NewActionRegistry().Register("process", doAction)
	interp := NewInterpreter(def, actions)

	stream := transport.NewMemoryStream()
	cache := transport.NewMemoryCache()
	docStore := transport.NewMemoryDocumentStore()

	streamARN := arn.MustParse("arn:aws:kinesis:us-east-1:123456789012:stream/widget")
	cacheARN := arn.MustParse("arn:aws:elasticache:us-east-1:123456789012:cluster/widget")

	b := broker.New(map[arn.Service]broker.Factory{
		arn.ServiceKinesis: func(_ context.Context, _ arn.ARN, _, _ time.Duration) (broker.Conn, error) {
			return stream, nil
		},
		arn.ServiceElastiCache: func(_ context.Context, _ arn.ARN, _, _ time.Duration) (broker.Conn, error) {
			return cache, nil
		},
	})
	buf := emit.NewBufferedEmitter()
	router := failover.New(b, map[failover.Role]failover.Sides{
		failover.RoleStream: {Primary: streamARN},
		failover.RoleCache:  {Primary: cacheARN},
	}, broker.Options{}, buf)

	d := &Dispatcher{
		Interpreter:    interp,
		Router:         router,
		LeasePrimary:   lease.NewCacheDialect(cache, "lease:"),
		Idempotency:    idempotency.New(cache, "idem:"),
		RetryScheduler: retry.New(docStore),
		Checkpoints:    NewCheckpointStore(docStore),
		Emit:           buf,
		RetryPolicy:    RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}

	return &testHarness{dispatcher: d, stream: stream, cache: cache, docStore: docStore, router: router, buf: buf}
}

func coldStartPayload(t *testing.T, correlationID string) []byte {
	t.Helper()
	envelope := Envelope{SystemContext: SystemContext{
		MachineName:   "widget",
		CurrentState:  PseudoInit,
		CurrentEvent:  PseudoInit,
		CorrelationID: correlationID,
	}}
	payload, err := Encode(envelope)
	require.NoError(t, err)
	return payload
}

func TestDispatchColdStartEmitsToStream(t *testing.T) {
	h := newTestHarness(t, func(ctx *ActionContext) (string, error) { return "done", nil })
	ctx := context.Background()

	err := h.dispatcher.Dispatch(ctx, coldStartPayload(t, "cid1"))
	require.NoError(t, err)

	records := h.stream.Records["cid1"]
	require.Len(t, records, 1)

	next, err := Decode(records[0])
	require.NoError(t, err)
	assert.Equal(t, "pending", next.SystemContext.CurrentState)
	assert.Equal(t, 1, next.SystemContext.Steps)

	sent, ok, err := NewCheckpointStore(h.docStore).LastCheckpoint(ctx, "cid1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, sent)
}

func TestDispatchDuplicateIsSuppressedOnSecondRun(t *testing.T) {
	h := newTestHarness(t, func(ctx *ActionContext) (string, error) { return "done", nil })
	ctx := context.Background()
	payload := coldStartPayload(t, "cid1")

	require.NoError(t, h.dispatcher.Dispatch(ctx, payload))
	require.Len(t, h.stream.Records["cid1"], 1)

	require.NoError(t, h.dispatcher.Dispatch(ctx, payload))
	assert.Len(t, h.stream.Records["cid1"], 1, "second run must not publish again")

	var duplicateSeen bool
	for _, event := range h.buf.History("cid1") {
		if event.Kind == emit.KindDuplicate {
			duplicateSeen = true
		}
	}
	assert.True(t, duplicateSeen)
}

// TestDispatchFailureSchedulesRetryThenFatal drives the real redelivery
// loop: it dispatches, then re-dispatches, the payload the retry scheduler
// actually persisted (the way the sweeper would), instead of hand-stamping
// retries onto a fresh envelope, so a regression of the retries-never-
// advance bug (spec §8 S5, §3's monotonic-retries invariant) would show up
// as this test looping forever rather than passing.
func TestDispatchFailureSchedulesRetryThenFatal(t *testing.T) {
	boom := errors.New("downstream unavailable")
	h := newTestHarness(t, func(ctx *ActionContext) (string, error) { return "", boom })
	ctx := context.Background()

	payload := coldStartPayload(t, "cid1")

	require.NoError(t, h.dispatcher.Dispatch(ctx, payload))
	record, ok, err := h.dispatcher.RetryScheduler.Get(ctx, "cid1", "cid1-0")
	require.NoError(t, err)
	require.True(t, ok, "first failure should schedule a retry")
	assert.Equal(t, 1, record.Retries)

	redelivered, err := Decode(record.Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, redelivered.SystemContext.Retries, "the stored retry payload must carry the bumped retry count")

	var fatalSeen bool
	for _, event := range h.buf.History("cid1") {
		if event.Kind == emit.KindFatal {
			fatalSeen = true
		}
	}
	assert.False(t, fatalSeen)

	require.NoError(t, h.dispatcher.Dispatch(ctx, record.Payload))
	fatalSeen = false
	for _, event := range h.buf.History("cid1") {
		if event.Kind == emit.KindFatal {
			fatalSeen = true
		}
	}
	assert.False(t, fatalSeen, "second failure is still within max_retries")

	record, ok, err = h.dispatcher.RetryScheduler.Get(ctx, "cid1", "cid1-0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, record.Retries)

	require.NoError(t, h.dispatcher.Dispatch(ctx, record.Payload))
	fatalSeen = false
	for _, event := range h.buf.History("cid1") {
		if event.Kind == emit.KindFatal {
			fatalSeen = true
		}
	}
	assert.True(t, fatalSeen, "exceeding max_retries should route to the fatal sink")
}

func TestDispatchCacheUnavailableReturnsErrorForRedelivery(t *testing.T) {
	def, err := LoadDefinition([]byte(widgetYAML))
	require.NoError(t, err)
	interp := NewInterpreter(def, NewActionRegistry())

	d := &Dispatcher{
		Interpreter: interp,
		Emit:        emit.NewNullEmitter(),
		RetryPolicy: DefaultRetryPolicy(),
	}
	err = d.Dispatch(context.Background(), coldStartPayload(t, "cid1"))
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestDispatchMalformedEnvelopeIsDroppedNotErrored(t *testing.T) {
	h := newTestHarness(t, func(ctx *ActionContext) (string, error) { return "done", nil })
	err := h.dispatcher.Dispatch(context.Background(), []byte("not json"))
	assert.NoError(t, err)
}
