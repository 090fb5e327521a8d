package arn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	s := "arn:aws:dynamodb:us-east-1:123456789012:table/fsm-retries"
	a, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, ARN{
		Partition: "aws",
		Service:   ServiceDynamoDB,
		Region:    "us-east-1",
		Account:   "123456789012",
		Resource:  "table/fsm-retries",
	}, a)
	assert.Equal(t, s, a.Format())
}

func TestParseShortInputsDoNotError(t *testing.T) {
	a, err := Parse("arn:aws:sqs")
	require.NoError(t, err)
	assert.Equal(t, "aws", a.Partition)
	assert.Equal(t, ServiceSQS, a.Service)
	assert.Equal(t, "", a.Region)
	assert.Equal(t, "", a.Account)
	assert.Equal(t, "", a.Resource)
}

func TestParseRejectsNonARN(t *testing.T) {
	_, err := Parse("not-an-arn")
	assert.True(t, errors.Is(err, ErrInvalidARN))
}

func TestLastSegments(t *testing.T) {
	a := MustParse("arn:aws:dynamodb:us-east-1:123456789012:table/fsm-retries")
	assert.Equal(t, "fsm-retries", a.LastSlashSegment())

	b := MustParse("arn:aws:kinesis:us-east-1:123456789012:stream:fsm-events")
	assert.Equal(t, "fsm-events", b.LastColonSegment())
}

func TestRegistryResolvePrecedence(t *testing.T) {
	a := MustParse("arn:aws:sqs:us-east-1:123456789012:queue/fsm")

	r := NewRegistry()
	r.EnvLookup[ServiceSQS] = "TEST_SQS_ENDPOINT"
	t.Setenv("TEST_SQS_ENDPOINT", "https://env-endpoint")
	assert.Equal(t, "https://env-endpoint", r.Resolve(a))

	r.PerServiceRegion["us-east-1"] = map[Service]string{ServiceSQS: "https://region-endpoint"}
	assert.Equal(t, "https://region-endpoint", r.Resolve(a))

	r.PerARN[a.Format()] = "https://per-arn-endpoint"
	assert.Equal(t, "https://per-arn-endpoint", r.Resolve(a))
}

func TestRegistryResolveFallsThroughToRegion(t *testing.T) {
	a := MustParse("arn:aws:sqs:us-west-2:123456789012:queue/fsm")
	r := NewRegistry()
	assert.Equal(t, "us-west-2", r.Resolve(a))
}

type fakeDescriber struct {
	calls int
	ep    Endpoint
	err   error
}

func (f *fakeDescriber) DescribeCacheCluster(_ context.Context, _ string) (Endpoint, error) {
	f.calls++
	return f.ep, f.err
}

func TestRegistryResolveCachePrecedence(t *testing.T) {
	a := MustParse("arn:aws:elasticache:us-east-1:123456789012:cluster/fsm-lease")
	r := NewRegistry()
	r.ElastiCacheEndpoints[a.Format()] = Endpoint{Address: "explicit:11211", Engine: EngineMemcached}

	ep, ok := r.ResolveCache(context.Background(), a)
	require.True(t, ok)
	assert.Equal(t, "explicit:11211", ep.Address)

	b := MustParse("arn:aws:elasticache:us-east-1:123456789012:cluster/legacy")
	r.LegacyMemcachedEndpoints[b.Format()] = "legacy:11211"
	ep, ok = r.ResolveCache(context.Background(), b)
	require.True(t, ok)
	assert.Equal(t, EngineMemcached, ep.Engine)
}

func TestRegistryResolveCacheDescribeIsCachedOnce(t *testing.T) {
	c := MustParse("arn:aws:elasticache:us-east-1:123456789012:cluster/described")
	r := NewRegistry()
	d := &fakeDescriber{ep: Endpoint{Address: "described:6379", Engine: EngineRedis}}
	r.Describer = d

	ep1, ok := r.ResolveCache(context.Background(), c)
	require.True(t, ok)
	ep2, ok := r.ResolveCache(context.Background(), c)
	require.True(t, ok)

	assert.Equal(t, ep1, ep2)
	assert.Equal(t, 1, d.calls)
}

func TestRegistryResolveCacheMissReturnsNoEndpoint(t *testing.T) {
	c := MustParse("arn:aws:elasticache:us-east-1:123456789012:cluster/missing")
	r := NewRegistry()
	_, ok := r.ResolveCache(context.Background(), c)
	assert.False(t, ok)
}
