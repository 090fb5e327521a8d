// Package failover selects between a primary and secondary ARN per logical
// role, and silently skips an operation when neither side has a connection
// available, so the dispatch pipeline can continue and fail over cleanly
// on the next step (spec §4.4).
package failover

import (
	"context"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
	"github.com/lambdafsm/dispatcher/emit"
)

// Role names a logical backend slot in the dispatch pipeline.
type Role string

const (
	RoleStream      Role = "stream"
	RoleRetry       Role = "retry"
	RoleCheckpoint  Role = "checkpoint"
	RoleCache       Role = "cache"
	RoleEnvironment Role = "environment"
	RoleMetrics     Role = "metrics"
)

// Sides is one role's primary/secondary ARN pair. Either field may be the
// zero ARN, meaning that side is not configured for this role.
type Sides struct {
	Primary   arn.ARN
	Secondary arn.ARN
}

// Router resolves a Role plus a primary/secondary selection into a live
// broker.Conn, or reports that none is available. A single Router is
// shared process-wide; it holds no per-call state.
type Router struct {
	roles  map[Role]Sides
	broker *broker.Broker
	opts   broker.Options
	emit   emit.Emitter
}

// New returns a Router backed by b. roles maps each logical role to its
// configured ARN pair; a role absent from the map behaves as if both sides
// were unconfigured. emitter receives a "skipped" event whenever Resolve
// cannot find a connection (never an error, per spec §4.4).
func New(b *broker.Broker, roles map[Role]Sides, opts broker.Options, emitter emit.Emitter) *Router {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Router{roles: roles, broker: b, opts: opts, emit: emitter}
}

// Resolve returns the connection for role's primary or secondary ARN
// (selected by primary), or ok=false if that side has no ARN configured or
// the broker failed to construct a client. A false result is deliberately
// not an error — spec §4.4 requires the caller to treat it as "skip this
// operation, try again next step".
func (r *Router) Resolve(ctx context.Context, role Role, primary bool) (broker.Conn, bool) {
	sides, configured := r.roles[role]
	if !configured {
		r.skip(role, primary, "role not configured")
		return nil, false
	}

	a := sides.Secondary
	if primary {
		a = sides.Primary
	}
	if a.IsZero() {
		r.skip(role, primary, "side has no arn configured")
		return nil, false
	}

	conn, err := r.broker.Get(ctx, a, r.opts)
	if err != nil {
		r.emit.Emit(emit.Event{
			Kind:    emit.KindSkipped,
			Message: "failover: broker could not construct connection, skipping",
			Fields: map[string]any{
				"role":    string(role),
				"primary": primary,
				"arn":     a.Format(),
				"error":   err.Error(),
			},
		})
		return nil, false
	}
	return conn, true
}

// ResolveDispatchSource picks between the stream and retry roles for the
// dispatch pipeline's next-event send: recovering=true routes into the
// retry backend instead of the hot stream path (spec §4.4).
func (r *Router) ResolveDispatchSource(ctx context.Context, primary, recovering bool) (broker.Conn, bool) {
	role := RoleStream
	if recovering {
		role = RoleRetry
	}
	return r.Resolve(ctx, role, primary)
}

func (r *Router) skip(role Role, primary bool, reason string) {
	r.emit.Emit(emit.Event{
		Kind:    emit.KindSkipped,
		Message: "failover: no connection available, skipping",
		Fields: map[string]any{
			"role":    string(role),
			"primary": primary,
			"reason":  reason,
		},
	})
}
