// Package dynamodb implements the blob Store as items in one DynamoDB table
// whose partition key is the string attribute "key".
package dynamodb

import (
	"bytes"
	"clinicflow/internal/blob/core"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Config holds construction parameters.
type Config struct {
	Table    string
	Region   string
	Endpoint string // optional, e.g. DynamoDB Local
}

type item struct {
	Key         string `dynamodbav:"key"`
	Value       []byte `dynamodbav:"value"`
	ContentType string `dynamodbav:"contentType,omitempty"`
	ETag        string `dynamodbav:"etag"`
	UpdatedAt   string `dynamodbav:"updatedAt"`
}

func (it item) info() core.Info {
	info := core.Info{Key: it.Key, Size: int64(len(it.Value)), ContentType: it.ContentType, ETag: it.ETag}
	if ts, err := time.Parse(time.RFC3339Nano, it.UpdatedAt); err == nil {
		info.LastModified = ts
	}
	return info
}

// Store persists values in a DynamoDB table.
type Store struct {
	client    dynamoAPI
	tableName string
	nowFn     func() time.Time
}

// New builds a store using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Table), nil
}

// NewWithClient builds a store backed by the provided DynamoDB client.
func NewWithClient(client dynamoAPI, tableName string) *Store {
	if client == nil {
		panic("dynamodb blob store: client cannot be nil")
	}
	if tableName == "" {
		panic("dynamodb blob store: table name cannot be empty")
	}
	return &Store{client: client, tableName: tableName, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Driver() core.Driver { return core.DriverDynamoDB }

func (s *Store) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}}
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	it := item{Key: key, Value: b, ContentType: opts.ContentType, ETag: core.ETag(b), UpdatedAt: s.nowFn().Format(time.RFC3339Nano)}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return core.Info{}, fmt.Errorf("dynamodb: failed to marshal %s: %w", key, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: av}); err != nil {
		return core.Info{}, fmt.Errorf("dynamodb: failed to persist %s: %w", key, err)
	}
	return it.info(), nil
}

func (s *Store) load(ctx context.Context, key string) (item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return item{}, fmt.Errorf("dynamodb: failed to load %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return item{}, core.ErrNotFound
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return item{}, fmt.Errorf("dynamodb: failed to decode %s: %w", key, err)
	}
	return it, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	it, err := s.load(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return it.info(), io.NopCloser(bytes.NewReader(it.Value)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	it, err := s.load(ctx, key)
	if err != nil {
		return core.Info{}, err
	}
	return it.info(), nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          s.keyAttr(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb: failed to delete %s: %w", key, err)
	}
	return len(out.Attributes) > 0, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tableName)}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(#k, :p)")
		input.ExpressionAttributeNames = map[string]string{"#k": "key"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":p": &types.AttributeValueMemberS{Value: prefix}}
	}
	var infos []core.Info
	p := dynamodb.NewScanPaginator(s.client, input)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: scan: %w", err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("dynamodb: decode scan: %w", err)
		}
		for _, it := range items {
			if strings.HasPrefix(it.Key, prefix) {
				infos = append(infos, it.info())
			}
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
