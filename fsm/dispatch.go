package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lambdafsm/dispatcher/emit"
	"github.com/lambdafsm/dispatcher/failover"
	"github.com/lambdafsm/dispatcher/idempotency"
	"github.com/lambdafsm/dispatcher/lease"
	"github.com/lambdafsm/dispatcher/retry"
)

// ErrCacheUnavailable is returned by Dispatch when neither the primary nor
// secondary lease backend could be reached (spec §4.9 step 4, §8 S6). It is
// the one failure mode the pipeline deliberately lets escape to the
// runtime, so the event-delivery system redelivers the record naturally —
// every other per-record failure is absorbed internally.
var ErrCacheUnavailable = errors.New("fsm: lease backends unavailable")

// Dispatcher runs the full per-invocation pipeline spec §4.9 describes:
// decode, dedupe, lease, interpret, checkpoint, emit, release.
type Dispatcher struct {
	Interpreter         *Interpreter
	Router              *failover.Router
	LeasePrimary        lease.Dialect
	LeaseSecondary      lease.Dialect
	Idempotency         *idempotency.Cache
	RetryScheduler      *retry.Scheduler
	Checkpoints         *CheckpointStore // primary
	CheckpointsFallback *CheckpointStore // tried on primary failure (spec §4.9 step 6)
	Metrics             *Metrics
	Emit                emit.Emitter
	RetryPolicy         RetryPolicy
}

// Dispatch processes a single record's payload. A non-nil return value
// means the caller's event-delivery runtime should redeliver the record;
// every other outcome (duplicate, decode error, interpreter failure routed
// to the retry scheduler) is absorbed and returns nil, per spec §7's
// propagation rule.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) error {
	envelope, err := Decode(payload)
	if err != nil {
		d.emit(emit.KindError, SystemContext{}, "decode_error: dropping malformed envelope", err)
		return nil
	}
	sys := envelope.SystemContext
	corrSteps := sys.CorrelationIDSteps()

	if d.Idempotency != nil {
		seen, err := d.Idempotency.Seen(ctx, sys.CorrelationID, sys.Steps)
		if err == nil && seen {
			d.metric(ctx, MetricDuplicate, sys)
			d.emit(emit.KindDuplicate, sys, "idempotency cache hit, skipping", nil)
			return nil
		}
	}

	outcome, dialect := d.acquireLease(ctx, sys.CorrelationID, sys.Steps, sys.Retries)
	switch outcome.Kind {
	case lease.Contended:
		d.metric(ctx, MetricDuplicate, sys)
		d.emit(emit.KindDuplicate, sys, "lease contended, skipping", nil)
		return nil
	case lease.Unavailable:
		d.metric(ctx, MetricCache, sys)
		d.emit(emit.KindError, sys, "both lease backends unavailable, allowing redelivery", outcome.Err)
		return ErrCacheUnavailable
	}
	fence := outcome.Fence
	defer func() {
		d.release(ctx, dialect, sys.CorrelationID, sys.Steps, sys.Retries, fence)
	}()

	result, stepErr := d.Interpreter.Step(envelope)
	if stepErr != nil {
		d.handleFailure(ctx, corrSteps, sys, payload, stepErr)
		return nil
	}

	result.SystemContext.LeasePrimary = dialect == d.LeasePrimary
	d.handleSuccess(ctx, corrSteps, sys, result)
	return nil
}

// acquireLease implements spec §4.9 step 4: try primary, fall back to
// secondary only when primary's backend is unreachable (Unavailable), not
// when the lease is merely contended.
func (d *Dispatcher) acquireLease(ctx context.Context, correlationID string, steps, retries int) (lease.Outcome, lease.Dialect) {
	if d.LeasePrimary != nil {
		out := d.LeasePrimary.Acquire(ctx, correlationID, steps, retries)
		if out.Kind != lease.Unavailable {
			return out, d.LeasePrimary
		}
	}
	if d.LeaseSecondary != nil {
		out := d.LeaseSecondary.Acquire(ctx, correlationID, steps, retries)
		return out, d.LeaseSecondary
	}
	return lease.Outcome{Kind: lease.Unavailable}, nil
}

func (d *Dispatcher) release(ctx context.Context, dialect lease.Dialect, correlationID string, steps, retries int, fence int64) {
	if dialect == nil {
		return
	}
	dialect.Release(ctx, correlationID, steps, retries, fence)
}

// handleSuccess implements spec §4.9 step 6.
func (d *Dispatcher) handleSuccess(ctx context.Context, corrSteps string, sys SystemContext, result StepResult) {
	if d.Idempotency != nil {
		_, _ = d.Idempotency.MarkDone(ctx, sys.CorrelationID, sys.Steps)
	}

	if !result.Emit {
		d.emit(emit.KindInfo, result.SystemContext, "step produced no emission, fsm waiting", nil)
		return
	}

	if d.Checkpoints != nil {
		if err := d.storeCheckpoint(ctx, sys.CorrelationID, result.SystemContext.CurrentEvent); err != nil {
			d.emit(emit.KindError, result.SystemContext, "checkpoint store failed on both sides", err)
		}
	}

	nextEnvelope := Envelope{SystemContext: result.SystemContext, UserContext: result.UserContext}
	nextPayload, err := Encode(nextEnvelope)
	if err != nil {
		d.emit(emit.KindError, result.SystemContext, "failed to encode next envelope", err)
		return
	}

	if !d.sendNext(ctx, result.SystemContext.CorrelationID, nextPayload, true, false) &&
		!d.sendNext(ctx, result.SystemContext.CorrelationID, nextPayload, false, false) {
		d.sendNext(ctx, result.SystemContext.CorrelationID, nextPayload, true, true)
	}

	if d.RetryScheduler != nil {
		_ = d.RetryScheduler.Stop(ctx, sys.CorrelationID, corrSteps)
	}
	d.emit(emit.KindInfo, result.SystemContext, "step emitted next event", nil)
}

// storeCheckpoint writes to the primary checkpoint backend, falling back to
// the secondary on failure (spec §4.9 step 6: "store_checkpoint on primary
// (secondary on failure)").
func (d *Dispatcher) storeCheckpoint(ctx context.Context, correlationID, sentEvent string) error {
	err := d.Checkpoints.StoreCheckpoint(ctx, correlationID, sentEvent)
	if err == nil || d.CheckpointsFallback == nil {
		return err
	}
	return d.CheckpointsFallback.StoreCheckpoint(ctx, correlationID, sentEvent)
}

// sendNext resolves the stream role, or the retry role when recovering is
// true (spec §4.4's ResolveDispatchSource), on the side selected by
// primary, and publishes payload, partitioned by correlationID. It returns
// whether the publish succeeded. handleSuccess tries the primary stream,
// then the secondary stream, then the primary retry source.
func (d *Dispatcher) sendNext(ctx context.Context, correlationID string, payload []byte, primary, recovering bool) bool {
	conn, ok := d.Router.ResolveDispatchSource(ctx, primary, recovering)
	if !ok {
		return false
	}
	stream, ok := conn.(streamConn)
	if !ok {
		return false
	}
	if err := stream.PutRecord(ctx, correlationID, payload); err != nil {
		return false
	}
	return true
}

// handleFailure implements spec §4.9 step 7.
func (d *Dispatcher) handleFailure(ctx context.Context, corrSteps string, sys SystemContext, payload []byte, stepErr error) {
	if d.RetryPolicy.Exceeded(sys.Retries) {
		d.metric(ctx, MetricFatal, sys)
		d.emit(emit.KindFatal, sys, fmt.Sprintf("retries exhausted: %v", stepErr), stepErr)
		return
	}

	if d.RetryScheduler != nil {
		nextRetries := sys.Retries + 1
		retryPayload, err := bumpRetries(payload, nextRetries)
		if err != nil {
			d.emit(emit.KindError, sys, "failed to stamp retries onto retry payload", err)
			retryPayload = payload
		}
		runAt := time.Now().Add(d.RetryPolicy.Backoff(sys.Retries))
		if err := d.RetryScheduler.Start(ctx, sys.CorrelationID, corrSteps, runAt, retryPayload, nextRetries); err != nil {
			d.emit(emit.KindError, sys, "failed to persist retry record on both backends", err)
		}
	}
	d.metric(ctx, MetricRetry, sys)
	d.emit(emit.KindRetry, sys, fmt.Sprintf("step failed, scheduled retry: %v", stepErr), stepErr)
}

// bumpRetries decodes payload and re-encodes it with system_context.retries
// set to retries, so a redelivered retry record carries the same attempt
// count the scheduler stored it under. Without this, a resubmitted payload's
// retries field never advances and RetryPolicy.Exceeded can never trip
// (spec §4.5: "retries is not incremented by the interpreter (the retry
// scheduler does that)").
func bumpRetries(payload []byte, retries int) ([]byte, error) {
	envelope, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	envelope.SystemContext.Retries = retries
	return Encode(envelope)
}

func (d *Dispatcher) metric(ctx context.Context, kind string, sys SystemContext) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.Increment(ctx, kind, sys.MachineName, sys.CurrentState, sys.CurrentEvent)
}

func (d *Dispatcher) emit(kind emit.Kind, sys SystemContext, message string, err error) {
	if d.Emit == nil {
		return
	}
	fields := map[string]any{}
	if err != nil {
		fields["error"] = err.Error()
	}
	d.Emit.Emit(emit.Event{
		CorrelationID: sys.CorrelationID,
		MachineName:   sys.MachineName,
		Step:          sys.Steps,
		Kind:          kind,
		Message:       message,
		Fields:        fields,
	})
}
