package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/domain/proxy"
	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"
	"github.com/tianshipapa/doubandai/pkg/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CacheStatus tells the client where a response came from.
type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

// DefaultMaxCacheableBytes bounds the body size kept in the edge cache.
const DefaultMaxCacheableBytes int64 = 10 << 20

// ProxyRequest is one inbound /proxy call.
type ProxyRequest struct {
	Method string
	// Target is the raw value of the url query parameter.
	Target string
	// CacheKey is the normalized identity of the inbound request.
	CacheKey string
}

// ProxyResult is what gets written back to the client. Body must be closed.
type ProxyResult struct {
	StatusCode  int
	Header      http.Header
	Body        io.ReadCloser
	CacheStatus CacheStatus
}

// ProxyService performs the validate, lookup, fetch, shape and store sequence.
type ProxyService struct {
	allow        ports.AllowListSource
	cache        ports.ResponseCache
	fetcher      ports.Fetcher
	scheduler    ports.Scheduler
	policy       proxy.CachePolicy
	maxCacheable int64
	logger       *zap.Logger
	metrics      *observability.Metrics
	tracer       trace.Tracer
}

// NewProxyService wires the service. cache may be nil to disable edge caching.
func NewProxyService(
	allow ports.AllowListSource,
	cache ports.ResponseCache,
	fetcher ports.Fetcher,
	scheduler ports.Scheduler,
	policy proxy.CachePolicy,
	maxCacheable int64,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *ProxyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCacheable <= 0 {
		maxCacheable = DefaultMaxCacheableBytes
	}
	return &ProxyService{
		allow:        allow,
		cache:        cache,
		fetcher:      fetcher,
		scheduler:    scheduler,
		policy:       policy,
		maxCacheable: maxCacheable,
		logger:       logger,
		metrics:      metrics,
		tracer:       otel.Tracer("github.com/tianshipapa/doubandai/application/services"),
	}
}

// Serve answers a proxy request from the edge cache or the upstream.
func (s *ProxyService) Serve(ctx context.Context, req ProxyRequest) (*ProxyResult, error) {
	ctx, span := s.tracer.Start(ctx, "ProxyService.Serve",
		trace.WithAttributes(attribute.String("proxy.method", req.Method)),
	)
	defer span.End()

	target, err := proxy.ParseTarget(req.Target, s.allow.AllowList())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("proxy.target_host", target.Host()))

	useCache := s.cache != nil && req.CacheKey != "" && proxy.Cacheable(req.Method)
	if useCache {
		if cached, ok := s.lookup(ctx, req.CacheKey); ok {
			span.SetAttributes(attribute.String("proxy.cache", string(CacheHit)))
			return &ProxyResult{
				StatusCode:  cached.StatusCode,
				Header:      cached.Header.Clone(),
				Body:        io.NopCloser(bytes.NewReader(cached.Body)),
				CacheStatus: CacheHit,
			}, nil
		}
	}

	resp, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream fetch failed")
		return nil, err
	}

	if !resp.OK() {
		resp.Body.Close()
		s.logger.Info("Upstream returned non-success status",
			zap.String("target_host", target.Host()),
			zap.Int("status", resp.StatusCode),
		)
		span.SetStatus(codes.Error, "upstream status")
		return nil, pkgerrors.NewUpstreamStatusError(resp.StatusCode, proxy.MsgUpstreamFailed)
	}

	result := &ProxyResult{
		StatusCode:  resp.StatusCode,
		Header:      proxy.ShapeHeaders(resp.Header, s.policy),
		Body:        resp.Body,
		CacheStatus: CacheBypass,
	}
	if !useCache {
		return result, nil
	}

	result.CacheStatus = CacheMiss
	span.SetAttributes(attribute.String("proxy.cache", string(CacheMiss)))

	if resp.ContentLength > s.maxCacheable {
		s.metrics.RecordCacheWrite(observability.CacheSkipped)
		return result, nil
	}

	entry := &ports.CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     result.Header.Clone(),
	}
	result.Body = newRecordingBody(resp.Body, s.maxCacheable, func(body []byte, complete bool) {
		if !complete {
			s.metrics.RecordCacheWrite(observability.CacheSkipped)
			return
		}
		entry.Body = body
		entry.StoredAt = time.Now().UTC()
		s.store(req.CacheKey, entry)
	})

	return result, nil
}

// lookup treats cache errors as misses.
func (s *ProxyService) lookup(ctx context.Context, key string) (*ports.CachedResponse, bool) {
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.RecordCacheLookup(observability.CacheError)
		s.logger.Warn("Edge cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok || cached == nil {
		s.metrics.RecordCacheLookup(observability.CacheMiss)
		return nil, false
	}
	s.metrics.RecordCacheLookup(observability.CacheHit)
	return cached, true
}

// store hands the write to the scheduler so the client never waits for it.
func (s *ProxyService) store(key string, entry *ports.CachedResponse) {
	ttl := s.policy.EdgeTTL()
	s.scheduler.Go("edge-cache.put", func(ctx context.Context) error {
		if err := s.cache.Put(ctx, key, entry, ttl); err != nil {
			s.metrics.RecordCacheWrite(observability.CacheError)
			return err
		}
		s.metrics.RecordCacheWrite(observability.CacheStored)
		return nil
	})
}

// recordingBody copies what the client reads, up to limit bytes. On Close it
// reports the copy and whether the upstream body was read to EOF within limit.
type recordingBody struct {
	rc       io.ReadCloser
	buf      bytes.Buffer
	limit    int64
	overflow bool
	eof      bool
	failed   bool
	done     func(body []byte, complete bool)
	once     sync.Once
}

func newRecordingBody(rc io.ReadCloser, limit int64, done func([]byte, bool)) *recordingBody {
	return &recordingBody{rc: rc, limit: limit, done: done}
}

func (b *recordingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && !b.overflow {
		if int64(b.buf.Len()+n) > b.limit {
			b.overflow = true
			b.buf = bytes.Buffer{}
		} else {
			b.buf.Write(p[:n])
		}
	}
	switch {
	case err == io.EOF:
		b.eof = true
	case err != nil:
		b.failed = true
	}
	return n, err
}

func (b *recordingBody) Close() error {
	err := b.rc.Close()
	b.once.Do(func() {
		complete := b.eof && !b.overflow && !b.failed
		var body []byte
		if complete {
			body = append([]byte(nil), b.buf.Bytes()...)
		}
		b.done(body, complete)
	})
	return err
}
