package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/gopherauth/internal/logger"
)

type Producer struct {
	interval time.Duration
	tasks    []Task
	logger   logger.Logger
}

// Produce sends every task to out on each tick
func (p *Producer) Produce(ctx context.Context, out chan<- Task) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting producer", "interval", p.interval, "tasks", len(p.tasks))

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				for _, task := range p.tasks {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending tasks")
						return
					case out <- task:
						p.logger.Debug("Task sent to channel", "task", task.Name)
					}
				}
			}
		}
	}()

	return idleStopped
}
