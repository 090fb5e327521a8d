// Package config resolves process settings from environment variables and
// holds the process-local singletons spec §5/§9 call for (queue-URL cache,
// ElastiCache-endpoint cache, a validated-config latch); the client cache
// is broker.Broker, not part of this package.
// Everything here is a field on a constructed Settings value, never a
// package-level global — per spec §9's "do not use hidden global mutation".
package config

import (
	"context"
	"sync"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/emit"
)

// Recognized environment variable names (spec §6).
const (
	EnvContext               = "FSM_CONTEXT"
	EnvPrimaryStreamSource    = "FSM_PRIMARY_STREAM_SOURCE"
	EnvSecondaryStreamSource  = "FSM_SECONDARY_STREAM_SOURCE"
	EnvEnvironmentGUIDKey     = "FSM_ENVIRONMENT_GUID_KEY"
	EnvDockerImage            = "FSM_DOCKER_IMAGE"
	envEndpointOverridePrefix = "FSM_ENDPOINT_"
)

// Settings is the resolved, process-wide configuration plus its lazily
// populated singleton caches. Construct one with Load and share it; do not
// construct a second one per invocation.
type Settings struct {
	Context               string
	PrimaryStreamSource   string
	SecondaryStreamSource string
	EnvironmentGUIDKey    string
	DockerImage           string

	// EndpointOverrides holds FSM_ENDPOINT_<SERVICE> values, keyed by the
	// arn.Service they override (e.g. "kinesis" -> "http://localhost:4566").
	EndpointOverrides map[arn.Service]string

	queueURLs      sync.Map // arn.ARN -> string, per spec §4.3's SQS_URLS override+cache
	cacheEndpoints sync.Map // arn.ARN -> string, spec §4.1's ElastiCache describe-cache-clusters cache

	validateOnce sync.Once
	validateMu   sync.Mutex
	validateErrs []string
}

// Getenv matches os.Getenv's signature; Load takes one explicitly instead of
// reading the environment itself so tests can supply a fake.
type Getenv func(key string) string

// allEnvKeys are the recognized env vars Load walks, beyond the
// per-service FSM_ENDPOINT_* overrides which are looked up on demand
// (Settings doesn't enumerate environ(), it only resolves named keys).
var allEnvKeys = []string{
	EnvContext,
	EnvPrimaryStreamSource,
	EnvSecondaryStreamSource,
	EnvEnvironmentGUIDKey,
	EnvDockerImage,
}

// knownOverrideServices lists the arn.Service values Load checks
// FSM_ENDPOINT_<SERVICE> for.
var knownOverrideServices = []arn.Service{
	arn.ServiceKinesis,
	arn.ServiceDynamoDB,
	arn.ServiceSNS,
	arn.ServiceSQS,
	arn.ServiceElastiCache,
	arn.ServiceCloudWatch,
}

// Load resolves a Settings from env via getenv. It never errors — a missing
// variable just leaves the corresponding field empty; Validate is what
// surfaces misconfiguration, and it does so by logging, not by failing
// construction (spec §7: "validate_config ... logs fatal ... without
// aborting").
func Load(getenv Getenv) *Settings {
	s := &Settings{
		Context:               getenv(EnvContext),
		PrimaryStreamSource:   getenv(EnvPrimaryStreamSource),
		SecondaryStreamSource: getenv(EnvSecondaryStreamSource),
		EnvironmentGUIDKey:    getenv(EnvEnvironmentGUIDKey),
		DockerImage:           getenv(EnvDockerImage),
		EndpointOverrides:     map[arn.Service]string{},
	}
	for _, service := range knownOverrideServices {
		if v := getenv(envEndpointOverridePrefix + string(service)); v != "" {
			s.EndpointOverrides[service] = v
		}
	}
	return s
}

// QueueURL returns the cached queue URL for a, resolving it via resolve on
// first use and caching the result for the process lifetime (spec §4.3:
// "resolved lazily, cached per ARN").
func (s *Settings) QueueURL(a arn.ARN, resolve func() (string, error)) (string, error) {
	if v, ok := s.queueURLs.Load(a); ok {
		return v.(string), nil
	}
	url, err := resolve()
	if err != nil {
		return "", err
	}
	s.queueURLs.Store(a, url)
	return url, nil
}

// CacheEndpoint returns the cached ElastiCache endpoint for a, resolving it
// via resolve on first use (spec §4.1: "cached in process-local storage for
// the remainder of the process lifetime"). A cache miss from resolve (empty
// string, nil error) is stored as-is and is not an error — spec §4.1 treats
// "no endpoint" as "backend unavailable", not a failure to propagate.
func (s *Settings) CacheEndpoint(a arn.ARN, resolve func() (string, error)) (string, error) {
	if v, ok := s.cacheEndpoints.Load(a); ok {
		return v.(string), nil
	}
	endpoint, err := resolve()
	if err != nil {
		return "", err
	}
	s.cacheEndpoints.Store(a, endpoint)
	return endpoint, nil
}

// Validate runs the process's configuration checks exactly once
// (spec §7: "validate_config runs once per process at first use"),
// logging a fatal-kind event per problem found through emitter instead of
// aborting the process. Safe to call from multiple goroutines; only the
// first call does any work.
func (s *Settings) Validate(ctx context.Context, emitter emit.Emitter) {
	s.validateOnce.Do(func() {
		problems := s.check()
		s.validateMu.Lock()
		s.validateErrs = problems
		s.validateMu.Unlock()
		for _, msg := range problems {
			emitter.Emit(emit.Event{
				Kind:    emit.KindFatal,
				Message: "configuration: " + msg,
			})
		}
	})
}

// Validated reports whether a prior Validate call found no problems. It does
// not run Validate itself; if Validate hasn't run yet this returns true,
// since there are no known problems yet to report.
func (s *Settings) Validated() bool {
	s.validateMu.Lock()
	defer s.validateMu.Unlock()
	return len(s.validateErrs) == 0
}

func (s *Settings) check() []string {
	var problems []string
	if s.PrimaryStreamSource == "" {
		problems = append(problems, "FSM_PRIMARY_STREAM_SOURCE is unset")
	}
	if s.Context == "" {
		problems = append(problems, "FSM_CONTEXT is unset")
	}
	return problems
}
