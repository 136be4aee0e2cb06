package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/nkiryanov/gopherauth/internal/logger"
)

const (
	defaultCountWorkers = 2
	defaultInterval     = 10 * time.Minute
	defaultTaskTimeout  = 30 * time.Second
	defaultBackoff      = time.Minute
)

// Task deletes state that is not needed any more and reports how many rows were gone
type Task struct {
	Name  string
	Prune func(ctx context.Context) (int64, error)
}

type Config struct {
	Interval     time.Duration
	CountWorkers int
	TaskTimeout  time.Duration

	// Pause of a worker after failed task
	Backoff time.Duration
}

// Sweeper periodically runs housekeeping tasks: expired revocations, refresh tokens and attempt records.
// Nothing depends on it for correctness.
type Sweeper struct {
	consumer *Consumer
	producer *Producer
}

func New(cfg Config, l logger.Logger, tasks ...Task) (*Sweeper, error) {
	if len(tasks) == 0 {
		return nil, errors.New("no tasks to sweep")
	}

	setDefault := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefault(&cfg.Interval, defaultInterval)
	setDefault(&cfg.TaskTimeout, defaultTaskTimeout)
	setDefault(&cfg.Backoff, defaultBackoff)
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = defaultCountWorkers
	}

	l = l.WithGroup("sweeper")

	return &Sweeper{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			timeout:      cfg.TaskTimeout,
			backoff:      cfg.Backoff,
			logger:       l,
		},
		producer: &Producer{
			interval: cfg.Interval,
			tasks:    tasks,
			logger:   l,
		},
	}, nil
}

// Run starts sweeping until ctx is done. Returned channel is closed when all workers stopped.
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	taskChan := make(chan Task)

	producerStopped := s.producer.Produce(ctx, taskChan)
	consumerStopped := s.consumer.Consume(ctx, taskChan)

	go func() {
		defer close(idleStopped)
		defer close(taskChan)
		<-producerStopped
		<-consumerStopped
		s.consumer.logger.Debug("Sweeper stopped")
	}()

	return idleStopped
}
