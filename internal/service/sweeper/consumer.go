package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/gopherauth/internal/logger"
)

type Consumer struct {
	countWorkers int
	timeout      time.Duration
	backoff      time.Duration

	// Storage may be unavailable for a while
	// After failed task workers wait until the time is up
	waitUntil atomic.Int64

	logger logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan Task) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < c.countWorkers; i++ {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan Task) {
	for {
		// Wait until backoff is passed or context is done
		waitUntil := time.UnixMilli(c.waitUntil.Load())
		if waitUntil.After(time.Now()) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case task, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}
			c.run(ctx, task)
		}
	}
}

func (c *Consumer) run(ctx context.Context, task Task) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	n, err := task.Prune(ctx)
	if err != nil {
		c.logger.Error("Sweep task failed", "task", task.Name, "error", err, "retry_after", c.backoff)
		c.waitUntil.Store(time.Now().Add(c.backoff).UnixMilli())
		return
	}

	c.logger.Debug("Sweep task done", "task", task.Name, "deleted", n, "duration", time.Since(start))
}
