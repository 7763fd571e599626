// Package scheduler dispatches the periodic monitors and executes one-shot
// tasks with a bounded retry policy.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic invocation. A returned error fails the whole
// invocation; the next tick starts fresh.
type Task func(ctx context.Context) error

// Handler executes a one-shot task payload.
type Handler func(ctx context.Context, payload interface{}) error

type periodicTask struct {
	name     string
	interval time.Duration
	task     Task
}

// Scheduler runs registered periodic tasks on fixed cadences and one-shot
// tasks with bounded retries.
type Scheduler struct {
	logger *zap.Logger

	mu       sync.Mutex
	periodic []periodicTask
	handlers map[string]Handler
	wg       sync.WaitGroup

	// retryBase is the unit of the exponential backoff between attempts.
	retryBase time.Duration
}

// New creates a scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:    logger,
		handlers:  make(map[string]Handler),
		retryBase: time.Second,
	}
}

// RegisterPeriodic registers a named task to run at a fixed interval once
// Run is called.
func (s *Scheduler) RegisterPeriodic(name string, interval time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periodic = append(s.periodic, periodicTask{name: name, interval: interval, task: task})
}

// RegisterHandler registers the handler for a one-shot task name.
func (s *Scheduler) RegisterHandler(name string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// Enqueue runs a one-shot task on a background goroutine with the given
// number of attempts. Failed attempts back off exponentially; exhausting all
// attempts is logged, not returned, because the caller has long moved on.
func (s *Scheduler) Enqueue(ctx context.Context, name string, payload interface{}, attempts int) error {
	s.mu.Lock()
	handler, ok := s.handlers[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler registered for task %q", name)
	}
	if attempts < 1 {
		attempts = 1
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		for i := 0; i < attempts; i++ {
			if err = handler(ctx, payload); err == nil {
				return
			}
			s.logger.Warn("Task attempt failed",
				zap.String("task", name),
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", attempts),
				zap.Error(err),
			)
			if i == attempts-1 {
				break
			}
			// Exponential backoff: 1s, 2s, 4s...
			backoff := time.Duration(math.Pow(2, float64(i))) * s.retryBase
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
		s.logger.Error("Task failed after all attempts",
			zap.String("task", name),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}()
	return nil
}

// Run starts every registered periodic task and blocks until the context is
// cancelled and all in-flight work finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	periodic := make([]periodicTask, len(s.periodic))
	copy(periodic, s.periodic)
	s.mu.Unlock()

	for _, p := range periodic {
		s.wg.Add(1)
		go func(p periodicTask) {
			defer s.wg.Done()
			s.logger.Info("Starting periodic task",
				zap.String("task", p.name),
				zap.Duration("interval", p.interval),
			)
			ticker := time.NewTicker(p.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					s.logger.Info("Stopping periodic task", zap.String("task", p.name))
					return
				case <-ticker.C:
					if err := p.task(ctx); err != nil {
						s.logger.Error("Periodic task failed",
							zap.String("task", p.name),
							zap.Error(err),
						)
					}
				}
			}
		}(p)
	}

	<-ctx.Done()
	s.wg.Wait()
}
