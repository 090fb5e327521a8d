package transport

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
)

// SNSTopic is the topic-role Topic backed by AWS SNS.
type SNSTopic struct {
	client   *sns.Client
	topicARN string
}

// NewSNSTopic builds an SNSTopic, matching broker.Factory.
func NewSNSTopic(cfg aws.Config, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.Region = a.Region
		o.HTTPClient = awsHTTPClient(connectTimeout, readTimeout)
	})
	return &SNSTopic{client: client, topicARN: a.Format()}, nil
}

func (t *SNSTopic) Service() arn.Service { return arn.ServiceSNS }

func (t *SNSTopic) Publish(ctx context.Context, payload []byte) error {
	_, err := t.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(t.topicARN),
		Message:  aws.String(string(payload)),
	})
	return err
}

// PublishBatch loops over single Publish calls: SNS has no native batch
// publish API (spec §4.3's transport table).
func (t *SNSTopic) PublishBatch(ctx context.Context, payloads [][]byte) error {
	for _, p := range payloads {
		if err := t.Publish(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
