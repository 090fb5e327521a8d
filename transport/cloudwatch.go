package transport

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
)

// CloudWatchMetrics is the metrics-role MetricsSink backed by AWS
// CloudWatch, pushed to in addition to the in-process Prometheus registry
// (spec §6's error/fatal/cache/retry/duplicate counters).
type CloudWatchMetrics struct {
	client    *cloudwatch.Client
	namespace string
}

// NewCloudWatchMetrics builds a CloudWatchMetrics, matching broker.Factory.
// The ARN's resource segment names the CloudWatch namespace.
func NewCloudWatchMetrics(cfg aws.Config, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
	client := cloudwatch.NewFromConfig(cfg, func(o *cloudwatch.Options) {
		o.Region = a.Region
		o.HTTPClient = awsHTTPClient(connectTimeout, readTimeout)
	})
	return &CloudWatchMetrics{client: client, namespace: a.LastSlashSegment()}, nil
}

func (m *CloudWatchMetrics) Service() arn.Service { return arn.ServiceCloudWatch }

// Increment implements MetricsSink. Failures are deliberately swallowed:
// CloudWatch is a best-effort secondary sink and must never block or fail
// the dispatch pipeline (spec §4.4's "silently skipped" philosophy applied
// to the metrics role).
func (m *CloudWatchMetrics) Increment(ctx context.Context, name string, dims map[string]string, delta float64) {
	dimensions := make([]types.Dimension, 0, len(dims))
	for k, v := range dims {
		dimensions = append(dimensions, types.Dimension{Name: aws.String(k), Value: aws.String(v)})
	}
	_, _ = m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(delta),
				Unit:       types.StandardUnitCount,
				Dimensions: dimensions,
				Timestamp:  aws.Time(time.Now()),
			},
		},
	})
}
