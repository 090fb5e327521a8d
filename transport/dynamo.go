package transport

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/lambdafsm/dispatcher/arn"
	"github.com/lambdafsm/dispatcher/broker"
)

const (
	dynamoAttrKey     = "pk"
	dynamoAttrPayload = "payload"
	dynamoAttrFence   = "fence"
	dynamoAttrUpdated = "updated_at"
)

// DynamoDocumentStore is the document-store-role DocumentStore backed by
// AWS DynamoDB: the checkpoint store, retry store, and document dialect of
// the fencing lease manager all use this.
type DynamoDocumentStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDocumentStore builds a DynamoDocumentStore, matching
// broker.Factory.
func NewDynamoDocumentStore(cfg aws.Config, a arn.ARN, connectTimeout, readTimeout time.Duration) (broker.Conn, error) {
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.Region = a.Region
		o.HTTPClient = awsHTTPClient(connectTimeout, readTimeout)
	})
	return &DynamoDocumentStore{client: client, table: a.LastSlashSegment()}, nil
}

func (d *DynamoDocumentStore) Service() arn.Service { return arn.ServiceDynamoDB }

func (d *DynamoDocumentStore) Put(ctx context.Context, key string, payload []byte) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      d.item(key, payload, 0),
	})
	return err
}

func (d *DynamoDocumentStore) item(key string, payload []byte, fence int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoAttrKey:     &types.AttributeValueMemberS{Value: key},
		dynamoAttrPayload: &types.AttributeValueMemberB{Value: payload},
		dynamoAttrFence:   &types.AttributeValueMemberN{Value: strconv.FormatInt(fence, 10)},
		dynamoAttrUpdated: &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
}

func (d *DynamoDocumentStore) Get(ctx context.Context, key string) (Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			dynamoAttrKey: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return Record{}, err
	}
	if out.Item == nil {
		return Record{}, ErrNotFound
	}
	return recordFromItem(key, out.Item)
}

func recordFromItem(key string, item map[string]types.AttributeValue) (Record, error) {
	r := Record{Key: key}
	if v, ok := item[dynamoAttrPayload].(*types.AttributeValueMemberB); ok {
		r.Payload = v.Value
	}
	if v, ok := item[dynamoAttrFence].(*types.AttributeValueMemberN); ok {
		fence, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return Record{}, err
		}
		r.Fence = fence
	}
	if v, ok := item[dynamoAttrUpdated].(*types.AttributeValueMemberS); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
			r.UpdatedAt = ts
		}
	}
	return r, nil
}

func (d *DynamoDocumentStore) PutIfAbsent(ctx context.Context, key string, payload []byte) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                d.item(key, payload, 0),
		ConditionExpression: aws.String("attribute_not_exists(" + dynamoAttrKey + ")"),
	})
	return translateConditionalError(err)
}

// PutIfFenceMatches implements the document dialect's conditional UPDATE:
// "fence = :expect OR attribute_not_exists(fence)" when expectFence is 0,
// else a strict equality check, then SET fence = fence + 1 (spec §4.7).
func (d *DynamoDocumentStore) PutIfFenceMatches(ctx context.Context, key string, expectFence int64, payload []byte) (int64, error) {
	newFence := expectFence + 1
	condition := dynamoAttrFence + " = :expect"
	if expectFence == 0 {
		condition = "attribute_not_exists(" + dynamoAttrFence + ") OR " + condition
	}
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			dynamoAttrKey: &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET " + dynamoAttrPayload + " = :p, " + dynamoAttrFence + " = :new, " + dynamoAttrUpdated + " = :u"),
		ConditionExpression: aws.String(condition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expect": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectFence, 10)},
			":new":    &types.AttributeValueMemberN{Value: strconv.FormatInt(newFence, 10)},
			":p":      &types.AttributeValueMemberB{Value: payload},
			":u":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err := translateConditionalError(err); err != nil {
		return 0, err
	}
	return newFence, nil
}

// ReleaseFence implements the lease dialect's release write: the same
// compare-on-fence UPDATE as PutIfFenceMatches, but without the
// "SET fence = fence + 1" clause, so release never advances the fence
// (spec §4.7).
func (d *DynamoDocumentStore) ReleaseFence(ctx context.Context, key string, expectFence int64, payload []byte) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			dynamoAttrKey: &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET " + dynamoAttrPayload + " = :p, " + dynamoAttrUpdated + " = :u"),
		ConditionExpression: aws.String(dynamoAttrFence + " = :expect"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expect": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectFence, 10)},
			":p":      &types.AttributeValueMemberB{Value: payload},
			":u":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	return translateConditionalError(err)
}

// ScanPrefix backs the retry sweeper's partition query. A production table
// would carry a GSI on (partition, run_at) and Query it directly; this uses
// a filtered Scan instead, paging until limit matching records are found or
// the table is exhausted, which is correct but not what a high-volume
// deployment should run — see DESIGN.md. Records come back in Scan order.
func (d *DynamoDocumentStore) ScanPrefix(ctx context.Context, prefix string, limit int) ([]Record, error) {
	records := []Record{}
	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(d.table),
			FilterExpression:          aws.String("begins_with(" + dynamoAttrKey + ", :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":prefix": &types.AttributeValueMemberS{Value: prefix}},
			Limit:                     aws.Int32(int32(limit)),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			keyAttr, _ := item[dynamoAttrKey].(*types.AttributeValueMemberS)
			key := ""
			if keyAttr != nil {
				key = keyAttr.Value
			}
			record, err := recordFromItem(key, item)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (d *DynamoDocumentStore) BatchPut(ctx context.Context, items map[string][]byte) error {
	writeRequests := make([]types.WriteRequest, 0, len(items))
	for key, payload := range items {
		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: d.item(key, payload, 0)},
		})
	}
	_, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{d.table: writeRequests},
	})
	return err
}

func (d *DynamoDocumentStore) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			dynamoAttrKey: &types.AttributeValueMemberS{Value: key},
		},
	})
	return err
}

// translateConditionalError maps DynamoDB's ConditionalCheckFailedException
// to ErrConditionFailed so callers never need to know the backend.
func translateConditionalError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
		return ErrConditionFailed
	}
	return err
}
