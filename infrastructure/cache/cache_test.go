package cache

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/infrastructure/config"
	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleResponse(body string) *ports.CachedResponse {
	return &ports.CachedResponse{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":                {"image/webp"},
			"Access-Control-Allow-Origin": {"*"},
		},
		Body:     []byte(body),
		StoredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return a stored response", func(t *testing.T) {
		c := NewMemoryCache(10, 1<<20, nil)
		require.NoError(t, c.Put(ctx, "k", sampleResponse("img"), time.Minute))

		got, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, http.StatusOK, got.StatusCode)
		assert.Equal(t, "image/webp", got.Header.Get("Content-Type"))
		assert.Equal(t, []byte("img"), got.Body)
		assert.True(t, got.StoredAt.Equal(sampleResponse("").StoredAt))
	})

	t.Run("Should not share memory with callers", func(t *testing.T) {
		c := NewMemoryCache(10, 1<<20, nil)
		resp := sampleResponse("abc")
		require.NoError(t, c.Put(ctx, "k", resp, time.Minute))
		resp.Body[0] = 'z'

		got, _, _ := c.Get(ctx, "k")
		got.Header.Set("Content-Type", "text/plain")
		again, _, _ := c.Get(ctx, "k")
		assert.Equal(t, []byte("abc"), again.Body)
		assert.Equal(t, "image/webp", again.Header.Get("Content-Type"))
	})

	t.Run("Should expire entries", func(t *testing.T) {
		c := NewMemoryCache(10, 1<<20, nil)
		now := time.Now()
		c.now = func() time.Time { return now }
		require.NoError(t, c.Put(ctx, "k", sampleResponse("img"), time.Second))

		now = now.Add(2 * time.Second)
		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, c.GetStats().Items)
	})

	t.Run("Should evict least recently used", func(t *testing.T) {
		c := NewMemoryCache(2, 1<<20, nil)
		require.NoError(t, c.Put(ctx, "a", sampleResponse("a"), time.Minute))
		require.NoError(t, c.Put(ctx, "b", sampleResponse("b"), time.Minute))
		_, _, _ = c.Get(ctx, "a")
		require.NoError(t, c.Put(ctx, "c", sampleResponse("c"), time.Minute))

		_, okA, _ := c.Get(ctx, "a")
		_, okB, _ := c.Get(ctx, "b")
		_, okC, _ := c.Get(ctx, "c")
		assert.True(t, okA)
		assert.False(t, okB)
		assert.True(t, okC)
		assert.Equal(t, int64(1), c.GetStats().Evictions)
	})

	t.Run("Should skip entries larger than the cache", func(t *testing.T) {
		c := NewMemoryCache(10, 64, nil)
		require.NoError(t, c.Put(ctx, "k", sampleResponse("this body is much too large for a 64 byte cache"), time.Minute))
		_, ok, _ := c.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("Should sweep expired entries and delete", func(t *testing.T) {
		c := NewMemoryCache(10, 1<<20, nil)
		now := time.Now()
		c.now = func() time.Time { return now }
		require.NoError(t, c.Put(ctx, "short", sampleResponse("s"), time.Second))
		require.NoError(t, c.Put(ctx, "long", sampleResponse("l"), time.Hour))

		now = now.Add(time.Minute)
		assert.Equal(t, 1, c.cleanupExpired())

		require.NoError(t, c.Delete(ctx, "long"))
		stats := c.GetStats()
		assert.Equal(t, 0, stats.Items)
		assert.Equal(t, int64(0), stats.Size)
	})

	t.Run("Should track hit rate", func(t *testing.T) {
		c := NewMemoryCache(10, 1<<20, nil)
		require.NoError(t, c.Put(ctx, "k", sampleResponse("x"), time.Minute))
		_, _, _ = c.Get(ctx, "k")
		_, _, _ = c.Get(ctx, "missing")
		assert.InDelta(t, 0.5, c.GetStats().HitRate, 0.0001)
	})
}

// fakeDynamo keeps items in a map and evaluates the cache's put condition.
type fakeDynamo struct {
	items  map[string]map[string]types.AttributeValue
	now    func() time.Time
	getErr error
	puts   int
}

func newFakeDynamo(now func() time.Time) *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), now: now}
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[pk]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts++
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	if existing, ok := f.items[pk]; ok {
		exp, _ := strconv.ParseInt(existing["ExpiresAt"].(*types.AttributeValueMemberN).Value, 10, 64)
		if exp >= f.now().Unix() {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("live item")}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func strPtr(s string) *string { return &s }

func TestDynamoDBCache(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)
	clock := func() time.Time { return now }

	newCache := func() (*DynamoDBCache, *fakeDynamo) {
		db := newFakeDynamo(clock)
		c := NewDynamoDBCache(db, "edge", nil)
		c.now = clock
		return c, db
	}

	t.Run("Should round trip a response", func(t *testing.T) {
		c, db := newCache()
		require.NoError(t, c.Put(ctx, "GET img.doubanio.com/a", sampleResponse("img"), time.Hour))
		require.Len(t, db.items, 1)

		got, ok, err := c.Get(ctx, "GET img.doubanio.com/a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("img"), got.Body)
		assert.Equal(t, "*", got.Header.Get("Access-Control-Allow-Origin"))
		assert.True(t, got.StoredAt.Equal(sampleResponse("").StoredAt))
	})

	t.Run("Should hash the partition key", func(t *testing.T) {
		pk := partitionKey("GET img.doubanio.com/a")
		assert.Len(t, pk, len(cacheKeyPrefix)+64)
		assert.Equal(t, pk, partitionKey("GET img.doubanio.com/a"))
		assert.NotEqual(t, pk, partitionKey("GET img.doubanio.com/b"))
	})

	t.Run("Should miss when absent or expired", func(t *testing.T) {
		c, _ := newCache()
		_, ok, err := c.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, c.Put(ctx, "k", sampleResponse("x"), time.Second))
		now = now.Add(time.Minute)
		_, ok, err = c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should treat a lost race as success", func(t *testing.T) {
		c, db := newCache()
		require.NoError(t, c.Put(ctx, "k", sampleResponse("first"), time.Hour))
		require.NoError(t, c.Put(ctx, "k", sampleResponse("second"), time.Hour))
		assert.Equal(t, 2, db.puts)

		got, ok, _ := c.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("first"), got.Body)
	})

	t.Run("Should overwrite an expired item", func(t *testing.T) {
		c, _ := newCache()
		require.NoError(t, c.Put(ctx, "k", sampleResponse("old"), time.Second))
		now = now.Add(time.Minute)
		require.NoError(t, c.Put(ctx, "k", sampleResponse("new"), time.Hour))

		got, ok, _ := c.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("new"), got.Body)
	})

	t.Run("Should skip bodies DynamoDB cannot hold", func(t *testing.T) {
		c, db := newCache()
		big := sampleResponse("")
		big.Body = make([]byte, maxDynamoBody+1)
		require.NoError(t, c.Put(ctx, "k", big, time.Hour))
		assert.Equal(t, 0, db.puts)
	})

	t.Run("Should wrap client errors", func(t *testing.T) {
		c, db := newCache()
		db.getErr = errors.New("network down")
		_, _, err := c.Get(ctx, "k")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeCache))
	})
}

func TestNewResponseCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("Should build a memory cache", func(t *testing.T) {
		cfg := &config.Config{Cache: config.CacheConfig{Provider: config.CacheProviderMemory, MaxItems: 5, MaxMemoryBytes: 1 << 20}}
		c, err := NewResponseCache(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &MemoryCache{}, c)
	})

	t.Run("Should return nil for none", func(t *testing.T) {
		cfg := &config.Config{Cache: config.CacheConfig{Provider: config.CacheProviderNone}}
		c, err := NewResponseCache(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("Should reject unknown providers", func(t *testing.T) {
		cfg := &config.Config{Cache: config.CacheConfig{Provider: "redis"}}
		_, err := NewResponseCache(ctx, cfg, zap.NewNop())
		assert.Error(t, err)
	})
}
