package transport

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
)

// KinesisStream is the stream-role Stream backed by AWS Kinesis.
type KinesisStream struct {
	client     *kinesis.Client
	streamName string
}

// NewKinesisStream builds a KinesisStream for a, using the broker's
// connect/read timeouts as the SDK HTTP client's dial/response timeouts.
// Matches broker.Factory so it can be registered directly with a
// *broker.Broker.
func NewKinesisStream(cfg aws.Config, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
	client := kinesis.NewFromConfig(cfg, func(o *kinesis.Options) {
		o.Region = a.Region
		o.HTTPClient = awsHTTPClient(connectTimeout, readTimeout)
	})
	return &KinesisStream{client: client, streamName: a.LastSlashSegment()}, nil
}

func (s *KinesisStream) Service() arn.Service { return arn.ServiceKinesis }

func (s *KinesisStream) PutRecord(ctx context.Context, partitionKey string, payload []byte) error {
	_, err := s.client.PutRecord(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(s.streamName),
		PartitionKey: aws.String(partitionKey),
		Data:         payload,
	})
	return err
}

func (s *KinesisStream) PutRecords(ctx context.Context, records map[string][]byte) error {
	entries := make([]types.PutRecordsRequestEntry, 0, len(records))
	for partitionKey, payload := range records {
		entries = append(entries, types.PutRecordsRequestEntry{
			PartitionKey: aws.String(partitionKey),
			Data:         payload,
		})
	}
	_, err := s.client.PutRecords(ctx, &kinesis.PutRecordsInput{
		StreamName: aws.String(s.streamName),
		Records:    entries,
	})
	return err
}
