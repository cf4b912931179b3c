// Package dynamo implements a ledger backed by a DynamoDB table, one
// partition per tier. A single table can hold all tiers.
//
// Table schema:
//   - Partition key: part (string) - the tier partition, e.g. "tier_interact"
//   - Sort key: id (string) - the record ID
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name tiermem-records \
//	  --attribute-definitions AttributeName=part,AttributeType=S AttributeName=id,AttributeType=S \
//	  --key-schema AttributeName=part,KeyType=HASH AttributeName=id,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/tiermem/codec"
	"github.com/hupe1980/tiermem/ledger"
	"github.com/hupe1980/tiermem/model"
)

// Client is the interface for DynamoDB operations.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Options represents the options for the DynamoDB ledger.
type Options struct {
	// ConsistentRead forces strongly consistent reads for Get/List/Count.
	ConsistentRead bool

	// Codec encodes records into the item payload. Defaults to codec.Default.
	Codec codec.Codec
}

// DefaultOptions holds the default DynamoDB ledger options.
var DefaultOptions = Options{
	ConsistentRead: true,
	Codec:          codec.Default,
}

// Compile-time check
var _ ledger.Ledger = (*Ledger)(nil)

// Ledger stores records in a DynamoDB table partition.
type Ledger struct {
	client    Client
	tableName string
	partition string
	opts      Options
}

// New creates a DynamoDB ledger for the given tier's partition.
func New(client Client, tableName string, tier model.Tier, optFns ...func(o *Options)) *Ledger {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	return &Ledger{
		client:    client,
		tableName: tableName,
		partition: tier.Partition(),
		opts:      opts,
	}
}

// NewFromDefaultConfig creates a DynamoDB ledger using the default AWS
// credential chain.
func NewFromDefaultConfig(ctx context.Context, tableName string, tier model.Tier, optFns ...func(o *Options)) (*Ledger, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return New(dynamodb.NewFromConfig(cfg), tableName, tier, optFns...), nil
}

// Put stores a record, replacing any existing record with the same ID.
func (l *Ledger) Put(ctx context.Context, record *model.Record) error {
	payload, err := l.opts.Codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"part":   &types.AttributeValueMemberS{Value: l.partition},
			"id":     &types.AttributeValueMemberS{Value: record.ID},
			"record": &types.AttributeValueMemberB{Value: payload},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	return nil
}

// Get retrieves the record with the given ID.
func (l *Ledger) Get(ctx context.Context, id string) (*model.Record, error) {
	resp, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.tableName),
		Key:            l.key(id),
		ConsistentRead: aws.Bool(l.opts.ConsistentRead),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if len(resp.Item) == 0 {
		return nil, ledger.ErrNotFound
	}

	return l.decodeItem(resp.Item)
}

// Delete removes the record with the given ID.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.tableName),
		Key:                 l.key(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ledger.ErrNotFound
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}

	return nil
}

// List returns all records in the partition.
func (l *Ledger) List(ctx context.Context) ([]*model.Record, error) {
	var records []*model.Record

	err := l.queryPages(ctx, nil, func(items []map[string]types.AttributeValue) error {
		for _, item := range items {
			record, err := l.decodeItem(item)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Keys returns all record IDs in the partition.
func (l *Ledger) Keys(ctx context.Context) ([]string, error) {
	var keys []string

	err := l.queryPages(ctx, aws.String("id"), func(items []map[string]types.AttributeValue) error {
		for _, item := range items {
			idAttr, ok := item["id"].(*types.AttributeValueMemberS)
			if !ok {
				return errors.New("invalid id attribute in DynamoDB item")
			}
			keys = append(keys, idAttr.Value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Count returns the number of records in the partition.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	keys, err := l.Keys(ctx)
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

// Clear removes all records in the partition using batched deletes.
func (l *Ledger) Clear(ctx context.Context) error {
	keys, err := l.Keys(ctx)
	if err != nil {
		return err
	}

	// BatchWriteItem accepts at most 25 requests per call.
	const batchSize = 25

	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, id := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: l.key(id)},
			})
		}

		unprocessed := map[string][]types.WriteRequest{l.tableName: requests}
		for len(unprocessed) > 0 {
			resp, err := l.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: unprocessed,
			})
			if err != nil {
				return fmt.Errorf("failed to clear partition: %w", err)
			}
			unprocessed = resp.UnprocessedItems
			if len(unprocessed) > 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Close is a no-op; the client is owned by the caller.
func (l *Ledger) Close() error { return nil }

func (l *Ledger) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"part": &types.AttributeValueMemberS{Value: l.partition},
		"id":   &types.AttributeValueMemberS{Value: id},
	}
}

func (l *Ledger) decodeItem(item map[string]types.AttributeValue) (*model.Record, error) {
	payloadAttr, ok := item["record"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, errors.New("invalid record attribute in DynamoDB item")
	}

	var record model.Record
	if err := l.opts.Codec.Unmarshal(payloadAttr.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return &record, nil
}

func (l *Ledger) queryPages(ctx context.Context, projection *string, fn func(items []map[string]types.AttributeValue) error) error {
	var startKey map[string]types.AttributeValue

	for {
		resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(l.tableName),
			KeyConditionExpression: aws.String("part = :part"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":part": &types.AttributeValueMemberS{Value: l.partition},
			},
			ProjectionExpression: projection,
			ConsistentRead:       aws.Bool(l.opts.ConsistentRead),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("failed to query partition: %w", err)
		}

		if err := fn(resp.Items); err != nil {
			return err
		}

		if resp.LastEvaluatedKey == nil {
			return nil
		}
		startKey = resp.LastEvaluatedKey
	}
}
