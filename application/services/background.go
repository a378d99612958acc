package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tianshipapa/doubandai/pkg/observability"

	"go.uber.org/zap"
)

// Background runs fire-and-forget tasks detached from the request that
// spawned them. Each task gets its own deadline. Wait drains the tasks started
// so far; Close drains them for good and drops anything scheduled afterwards.
type Background struct {
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewBackground creates a task runner. timeout bounds every task.
func NewBackground(timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Background {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Background{
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Go starts task in its own goroutine. Errors and panics are logged, never
// returned. Tasks scheduled after Close are dropped.
func (b *Background) Go(name string, task func(ctx context.Context) error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("Background runner closed, dropping task", zap.String("task", name))
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	b.metrics.TaskStarted()

	go func() {
		defer b.wg.Done()
		defer b.metrics.TaskFinished()
		defer func() {
			if rec := recover(); rec != nil {
				b.logger.Error("Background task panicked",
					zap.String("task", name),
					zap.String("panic", fmt.Sprint(rec)),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		start := time.Now()
		if err := task(ctx); err != nil {
			b.logger.Warn("Background task failed",
				zap.String("task", name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		b.logger.Debug("Background task completed",
			zap.String("task", name),
			zap.Duration("duration", time.Since(start)),
		)
	}()
}

// Wait blocks until every started task finished or ctx is done.
func (b *Background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for running ones until ctx is done.
func (b *Background) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.Wait(ctx)
}
