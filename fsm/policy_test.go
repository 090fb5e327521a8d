package fsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	d0 := p.Backoff(0)
	assert.GreaterOrEqual(t, d0, time.Second)
	assert.Less(t, d0, 2*time.Second)

	d3 := p.Backoff(3)
	assert.GreaterOrEqual(t, d3, 8*time.Second)

	dCap := p.Backoff(10)
	assert.LessOrEqual(t, dCap, 11*time.Second)
}

func TestExceededUsesDefaultWhenUnset(t *testing.T) {
	p := RetryPolicy{}
	assert.False(t, p.Exceeded(DefaultMaxRetries-1))
	assert.True(t, p.Exceeded(DefaultMaxRetries))
}

func TestExceededRespectsConfiguredMax(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	assert.False(t, p.Exceeded(1))
	assert.True(t, p.Exceeded(2))
}
