// Package arn parses and formats AWS-style resource identifiers and
// resolves them to a backend kind and connection parameters.
package arn

import (
	"errors"
	"strings"
)

// ErrInvalidARN is returned when a string does not start with the
// literal "arn" partition-delimited prefix.
var ErrInvalidARN = errors.New("arn: malformed identifier")

// Service names the backend kind an ARN addresses. Only the services this
// dispatch core understands are enumerated; anything else round-trips as
// an opaque string.
type Service string

// Recognized backend services. Spellings match
// aws_lambda_fsm/constants.py:AWS so ARNs copied from the original configs
// resolve to the same kind here.
const (
	ServiceKinesis     Service = "kinesis"
	ServiceDynamoDB    Service = "dynamodb"
	ServiceSNS         Service = "sns"
	ServiceSQS         Service = "sqs"
	ServiceElastiCache Service = "elasticache"
	ServiceCloudWatch  Service = "cloudwatch"
)

// ARN is an immutable parsed resource identifier:
// "arn:partition:service:region:account:resource".
//
// Trailing fields that are absent from the input parse to the empty string
// rather than producing an error — spec §6 requires shorter inputs to parse
// without error.
type ARN struct {
	Partition string
	Service   Service
	Region    string
	Account   string
	Resource  string
}

// Parse splits a colon-delimited ARN string into its fields. Only the
// leading "arn" literal is required; every field after it is optional and
// defaults to "" when missing.
func Parse(s string) (ARN, error) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) == 0 || parts[0] != "arn" {
		return ARN{}, ErrInvalidARN
	}
	a := ARN{}
	if len(parts) > 1 {
		a.Partition = parts[1]
	}
	if len(parts) > 2 {
		a.Service = Service(parts[2])
	}
	if len(parts) > 3 {
		a.Region = parts[3]
	}
	if len(parts) > 4 {
		a.Account = parts[4]
	}
	if len(parts) > 5 {
		a.Resource = parts[5]
	}
	return a, nil
}

// MustParse parses s and panics on malformed input. Intended for
// package-level ARN constants, not for request-path parsing.
func MustParse(s string) ARN {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Format renders an ARN back into its canonical colon-delimited form.
func (a ARN) Format() string {
	return strings.Join([]string{"arn", a.Partition, string(a.Service), a.Region, a.Account, a.Resource}, ":")
}

// String implements fmt.Stringer.
func (a ARN) String() string { return a.Format() }

// LastSlashSegment returns the substring of Resource after the final '/',
// or the whole resource if there is no '/'. Used to recover a bare table
// or stream name from a fully qualified resource path.
func (a ARN) LastSlashSegment() string {
	return lastSegment(a.Resource, '/')
}

// LastColonSegment returns the substring of Resource after the final ':'.
func (a ARN) LastColonSegment() string {
	return lastSegment(a.Resource, ':')
}

func lastSegment(s string, sep byte) string {
	idx := strings.LastIndexByte(s, sep)
	if idx == -1 {
		return s
	}
	return s[idx+1:]
}

// IsZero reports whether a is the zero ARN, used by the failover router to
// detect "no ARN configured for this role/side".
func (a ARN) IsZero() bool {
	return a == ARN{}
}
