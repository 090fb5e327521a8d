package broker

import (
	"math/rand"
	"sync"

	"github.com/lambdafsm/dispatcher/arn"
)

// Rule is one configured fault-injection tuple: for every call matching
// Service (and Method, when set), draw a uniform [0,1) and, if the draw is
// strictly less than Probability, produce Err or Value instead of invoking
// the real backend call (spec §4.2). Method == "" matches any method on
// the service.
type Rule struct {
	Service     arn.Service
	Method      string
	Probability float64
	Err         error
	Value       any
}

// ChaosConfig is the process-wide fault-injection configuration. The zero
// value has no rules and never fires.
type ChaosConfig struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewChaosConfig returns a ChaosConfig seeded with rules.
func NewChaosConfig(rules ...Rule) *ChaosConfig {
	return &ChaosConfig{rules: append([]Rule(nil), rules...)}
}

// Add appends a rule to the configuration.
func (c *ChaosConfig) Add(r Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, r)
}

// IsEmpty reports whether no rules are configured, the gate spec §4.2 uses
// to decide whether to wrap a connection at all.
func (c *ChaosConfig) IsEmpty() bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules) == 0
}

// draw rolls the dice for each rule matching service/method, in
// configuration order, and returns the first rule that fires. A returned
// ok=false means no rule fired and the real call should proceed.
func (c *ChaosConfig) draw(service arn.Service, method string) (Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.Service != service {
			continue
		}
		if r.Method != "" && r.Method != method {
			continue
		}
		if rand.Float64() < r.Probability {
			return r, true
		}
	}
	return Rule{}, false
}

// ChaosConnection decorates a real Conn with fault injection. Transport
// backends call Intercept around each SDK invocation instead of calling the
// SDK client directly, which is the Go-idiomatic equivalent of the dynamic
// method interception spec §4.2 describes (Go has no runtime proxy for
// arbitrary interfaces).
type ChaosConnection struct {
	real   Conn
	config *ChaosConfig
}

// WrapChaos wraps real in a ChaosConnection bound to cfg. Callers that
// already hold a Conn obtained through Broker.Get never need to call this
// directly; Broker does it automatically when chaos is enabled.
func WrapChaos(real Conn, cfg *ChaosConfig) *ChaosConnection {
	return &ChaosConnection{real: real, config: cfg}
}

// Service satisfies Conn.
func (c *ChaosConnection) Service() arn.Service { return c.real.Service() }

// Real returns the wrapped connection, for code that needs the concrete
// backend type after a type assertion.
func (c *ChaosConnection) Real() Conn { return c.real }

// Intercept runs call unless a configured rule fires for method first, in
// which case it returns the rule's outcome instead — never both. The real
// call is never suppressed when no rule fires, per spec §4.2.
func (c *ChaosConnection) Intercept(method string, call func() (any, error)) (any, error) {
	if rule, fired := c.config.draw(c.real.Service(), method); fired {
		if rule.Err != nil {
			return nil, rule.Err
		}
		return rule.Value, nil
	}
	return call()
}

// Pipeline returns a ChaosPipeline scoped to this connection's service and
// chaos config, for cache backends that expose a transactional pipeline
// (spec §4.2's pipeline() passthrough requirement). real is the backend's
// native pipeline handle, opaque to this package.
func (c *ChaosConnection) Pipeline(real any) *ChaosPipeline {
	return &ChaosPipeline{real: real, service: c.real.Service(), config: c.config}
}

// ChaosPipeline is the pipeline-scoped equivalent of ChaosConnection: every
// method a cache dialect invokes on a pipeline goes through Intercept too,
// so fault injection applies equally inside a WATCH/MULTI/EXEC or
// CAS-in-pipeline sequence.
type ChaosPipeline struct {
	real    any
	service arn.Service
	config  *ChaosConfig
}

// Real returns the wrapped pipeline handle for the caller to type-assert.
func (p *ChaosPipeline) Real() any { return p.real }

// Intercept mirrors ChaosConnection.Intercept, scoped to the pipeline's
// service.
func (p *ChaosPipeline) Intercept(method string, call func() (any, error)) (any, error) {
	if rule, fired := p.config.draw(p.service, method); fired {
		if rule.Err != nil {
			return nil, rule.Err
		}
		return rule.Value, nil
	}
	return call()
}
