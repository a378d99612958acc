package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tianshipapa/doubandai/application/ports"
	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	cacheKeyPrefix = "CACHE#"
	cacheSortKey   = "RESPONSE"
	// DynamoDB rejects items above 400KB; leave room for keys and headers.
	maxDynamoBody = 350 << 10
)

// DynamoDBAPI is the subset of the DynamoDB client used by the cache
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type ddbCacheItem struct {
	PK         string              `dynamodbav:"PK"`
	SK         string              `dynamodbav:"SK"`
	CacheKey   string              `dynamodbav:"CacheKey"`
	StatusCode int                 `dynamodbav:"StatusCode"`
	Header     map[string][]string `dynamodbav:"Header"`
	Body       []byte              `dynamodbav:"Body"`
	StoredAt   string              `dynamodbav:"StoredAt"`
	ExpiresAt  int64               `dynamodbav:"ExpiresAt"`
}

// DynamoDBCache is an edge cache shared by every instance, backed by a table
// with PK/SK keys and a TTL attribute on ExpiresAt.
type DynamoDBCache struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
	logger    *zap.Logger
}

// NewDynamoDBCache creates a DynamoDB-backed response cache
func NewDynamoDBCache(client DynamoDBAPI, tableName string, logger *zap.Logger) *DynamoDBCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDBCache{
		client:    client,
		tableName: tableName,
		now:       time.Now,
		logger:    logger,
	}
}

func partitionKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *DynamoDBCache) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: partitionKey(key)},
		"SK": &types.AttributeValueMemberS{Value: cacheSortKey},
	}
}

// Get implements ports.ResponseCache. Items past ExpiresAt count as misses
// since DynamoDB TTL deletion lags.
func (c *DynamoDBCache) Get(ctx context.Context, key string) (*ports.CachedResponse, bool, error) {
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.itemKey(key),
	})
	if err != nil {
		return nil, false, pkgerrors.NewCacheError("get", describeAPIError(err))
	}
	if out.Item == nil {
		return nil, false, nil
	}

	var item ddbCacheItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, pkgerrors.NewCacheError("unmarshal", err)
	}
	if item.ExpiresAt <= c.now().Unix() {
		return nil, false, nil
	}
	if item.CacheKey != key {
		c.logger.Warn("Edge cache key collision", zap.String("key", key), zap.String("stored", item.CacheKey))
		return nil, false, nil
	}

	storedAt, _ := time.Parse(time.RFC3339Nano, item.StoredAt)
	return &ports.CachedResponse{
		StatusCode: item.StatusCode,
		Header:     http.Header(item.Header),
		Body:       item.Body,
		StoredAt:   storedAt,
	}, true, nil
}

// Put implements ports.ResponseCache. A live entry written by a concurrent
// request wins; losing that race is not an error.
func (c *DynamoDBCache) Put(ctx context.Context, key string, resp *ports.CachedResponse, ttl time.Duration) error {
	if len(resp.Body) > maxDynamoBody {
		c.logger.Debug("Response too large for DynamoDB cache",
			zap.String("key", key),
			zap.Int("size", len(resp.Body)),
		)
		return nil
	}

	now := c.now()
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = now.UTC()
	}
	item := ddbCacheItem{
		PK:         partitionKey(key),
		SK:         cacheSortKey,
		CacheKey:   key,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		StoredAt:   storedAt.Format(time.RFC3339Nano),
		ExpiresAt:  now.Add(ttl).Unix(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return pkgerrors.NewCacheError("marshal", err)
	}

	cond := expression.Or(
		expression.AttributeNotExists(expression.Name("PK")),
		expression.Name("ExpiresAt").LessThan(expression.Value(now.Unix())),
	)
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return pkgerrors.NewCacheError("build condition", err)
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return pkgerrors.NewCacheError("put", describeAPIError(err))
	}
	return nil
}

func describeAPIError(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %s: %w", ae.ErrorCode(), ae.ErrorMessage(), err)
	}
	return err
}
