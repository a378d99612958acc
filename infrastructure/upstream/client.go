// Package upstream fetches proxy targets from the origin image hosts.
package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tianshipapa/doubandai/application/ports"
	"github.com/tianshipapa/doubandai/domain/proxy"
	"github.com/tianshipapa/doubandai/infrastructure/config"
	pkgerrors "github.com/tianshipapa/doubandai/pkg/errors"
	"github.com/tianshipapa/doubandai/pkg/observability"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const breakerName = "upstream"

// errServerStatus marks a 5xx answer as a breaker failure while still
// handing the response back to the caller.
var errServerStatus = errors.New("upstream server error")

// Client is a ports.Fetcher that sends the fixed upstream identity headers
// and guards the origin with a circuit breaker.
type Client struct {
	httpClient *http.Client
	identity   proxy.UpstreamIdentity
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

// NewClient creates the upstream client. timeout bounds dialing, the TLS
// handshake and the wait for response headers, never the body, which streams
// at the client's pace. A zero timeout means 15 seconds.
func NewClient(
	identity proxy.UpstreamIdentity,
	timeout time.Duration,
	breaker config.BreakerConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Transport: newTransport(timeout)},
		identity:   identity,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("github.com/tianshipapa/doubandai/infrastructure/upstream"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= breaker.FailureThreshold
		},
		// Client cancellations do not count against the origin.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, int(to))
		},
	})
	metrics.SetBreakerState(breakerName, int(gobreaker.StateClosed))
	return c
}

func newTransport(timeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	transport.MaxIdleConnsPerHost = 32
	return transport
}

// BreakerState reports the current breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Fetch implements ports.Fetcher. Non-2xx answers are returned, not turned
// into errors; only transport failures and an open breaker produce errors.
func (c *Client) Fetch(ctx context.Context, target proxy.Target) (*ports.UpstreamResponse, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.host", target.Host())),
	)
	defer span.End()

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, target)
	})
	elapsed := time.Since(start)

	if err != nil && !errors.Is(err, errServerStatus) {
		c.metrics.RecordUpstream(0, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, c.classify(ctx, target, err)
	}

	resp := result.(*http.Response)
	c.metrics.RecordUpstream(resp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, resp.Status)
	}

	return &ports.UpstreamResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}

func (c *Client) do(ctx context.Context, target proxy.Target) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", c.identity.Referer)
	req.Header.Set("User-Agent", c.identity.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp, errServerStatus
	}
	return resp, nil
}

func (c *Client) classify(ctx context.Context, target proxy.Target, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Warn("Circuit breaker rejected upstream request",
			zap.String("target_host", target.Host()),
			zap.Error(err),
		)
		return pkgerrors.NewUnavailableError("upstream")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return pkgerrors.Wrap(err, "client went away")
	case isTimeout(err):
		c.logger.Warn("Upstream request timed out", zap.String("target_host", target.Host()))
		return pkgerrors.NewTimeoutError("upstream fetch").WithCause(err)
	default:
		c.logger.Error("Upstream request failed",
			zap.String("target_host", target.Host()),
			zap.Error(err),
		)
		return pkgerrors.NewExternalError("upstream", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
