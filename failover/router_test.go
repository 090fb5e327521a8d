package failover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
	"github.com/lambdafsm/dispatcher/emit"
)

type fakeConn struct{ service arn.Service }

func (f *fakeConn) Service() arn.Service { return f.service }

func newTestBroker() *broker.Broker {
	return broker.New(map[arn.Service]broker.Factory{
		arn.ServiceKinesis: func(_ context.Context, a arn.ARN, _, _ time.Duration) (broker.Conn, error) {
			return &fakeConn{service: arn.ServiceKinesis}, nil
		},
		arn.ServiceDynamoDB: func(_ context.Context, a arn.ARN, _, _ time.Duration) (broker.Conn, error) {
			return &fakeConn{service: arn.ServiceDynamoDB}, nil
		},
	})
}

func TestRouterResolvesPrimary(t *testing.T) {
	b := newTestBroker()
	primaryARN := arn.MustParse("arn:aws:kinesis:us-east-1:123456789012:stream/primary")
	secondaryARN := arn.MustParse("arn:aws:kinesis:us-west-2:123456789012:stream/secondary")

	r := New(b, map[Role]Sides{
		RoleStream: {Primary: primaryARN, Secondary: secondaryARN},
	}, broker.Options{}, nil)

	conn, ok := r.Resolve(context.Background(), RoleStream, true)
	require.True(t, ok)
	assert.Equal(t, arn.ServiceKinesis, conn.Service())
}

func TestRouterResolvesSecondaryWhenRequested(t *testing.T) {
	b := newTestBroker()
	primaryARN := arn.MustParse("arn:aws:kinesis:us-east-1:123456789012:stream/primary")
	secondaryARN := arn.MustParse("arn:aws:kinesis:us-west-2:123456789012:stream/secondary")

	r := New(b, map[Role]Sides{
		RoleStream: {Primary: primaryARN, Secondary: secondaryARN},
	}, broker.Options{}, nil)

	conn, ok := r.Resolve(context.Background(), RoleStream, false)
	require.True(t, ok)
	assert.Equal(t, arn.ServiceKinesis, conn.Service())
}

func TestRouterSkipsWhenSideUnconfigured(t *testing.T) {
	b := newTestBroker()
	primaryARN := arn.MustParse("arn:aws:kinesis:us-east-1:123456789012:stream/primary")
	buf := emit.NewBufferedEmitter()

	r := New(b, map[Role]Sides{
		RoleStream: {Primary: primaryARN},
	}, broker.Options{}, buf)

	conn, ok := r.Resolve(context.Background(), RoleStream, false)
	assert.False(t, ok)
	assert.Nil(t, conn)

	history := buf.History("")
	require.Len(t, history, 1)
	assert.Equal(t, emit.KindSkipped, history[0].Kind)
}

func TestRouterSkipsWhenRoleUnconfigured(t *testing.T) {
	b := newTestBroker()
	r := New(b, map[Role]Sides{}, broker.Options{}, nil)
	_, ok := r.Resolve(context.Background(), RoleCheckpoint, true)
	assert.False(t, ok)
}

func TestResolveDispatchSourceRoutesRecoveringToRetry(t *testing.T) {
	b := newTestBroker()
	streamARN := arn.MustParse("arn:aws:kinesis:us-east-1:123456789012:stream/primary")
	retryARN := arn.MustParse("arn:aws:dynamodb:us-east-1:123456789012:table/retries")

	r := New(b, map[Role]Sides{
		RoleStream: {Primary: streamARN},
		RoleRetry:  {Primary: retryARN},
	}, broker.Options{}, nil)

	conn, ok := r.ResolveDispatchSource(context.Background(), true, false)
	require.True(t, ok)
	assert.Equal(t, arn.ServiceKinesis, conn.Service())

	conn, ok = r.ResolveDispatchSource(context.Background(), true, true)
	require.True(t, ok)
	assert.Equal(t, arn.ServiceDynamoDB, conn.Service())
}
