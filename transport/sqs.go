package transport

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
)

// sqsURLCache resolves a queue's URL lazily via GetQueueUrl and remembers
// it for the process lifetime (spec §4.3: "Queue URLs are resolved lazily,
// cached per ARN"). Process-local; this package-level map is separate from
// config.Settings.QueueURL, which this file does not use.
var sqsURLCache sync.Map // arn string -> url string

// SQSURLOverrides lets a deployment short-circuit GetQueueUrl entirely —
// the SQS_URLS override map spec §4.3 mentions. Keyed by the queue ARN's
// canonical string.
var SQSURLOverrides = map[string]string{}

// SQSQueue is the queue-role Queue backed by AWS SQS.
type SQSQueue struct {
	client  *sqs.Client
	queueID string // ARN string, used as the cache/override key
}

// NewSQSQueue builds an SQSQueue, matching broker.Factory.
func NewSQSQueue(cfg aws.Config, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		o.Region = a.Region
		o.HTTPClient = awsHTTPClient(connectTimeout, readTimeout)
	})
	return &SQSQueue{client: client, queueID: a.Format()}, nil
}

func (q *SQSQueue) Service() arn.Service { return arn.ServiceSQS }

func (q *SQSQueue) resolveURL(ctx context.Context) (string, error) {
	if override, ok := SQSURLOverrides[q.queueID]; ok {
		return override, nil
	}
	if cached, ok := sqsURLCache.Load(q.queueID); ok {
		return cached.(string), nil
	}
	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(arn.MustParse(q.queueID).LastSlashSegment()),
	})
	if err != nil {
		return "", err
	}
	url := aws.ToString(out.QueueUrl)
	sqsURLCache.Store(q.queueID, url)
	return url, nil
}

func (q *SQSQueue) SendMessage(ctx context.Context, payload []byte, delaySeconds int) error {
	url, err := q.resolveURL(ctx)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(string(payload)),
		DelaySeconds: int32(clampDelay(delaySeconds)),
	})
	return err
}

func (q *SQSQueue) SendMessageBatch(ctx context.Context, entries []QueueEntry) error {
	url, err := q.resolveURL(ctx)
	if err != nil {
		return err
	}
	batchEntries := make([]types.SendMessageBatchRequestEntry, 0, len(entries))
	for _, e := range entries {
		batchEntries = append(batchEntries, types.SendMessageBatchRequestEntry{
			Id:           aws.String(e.ID),
			MessageBody:  aws.String(string(e.Payload)),
			DelaySeconds: int32(clampDelay(e.DelaySeconds)),
		})
	}
	_, err = q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(url),
		Entries:  batchEntries,
	})
	return err
}
