package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atelierhq/paysync/pkg/paysync"
)

const (
	defaultTaskTimeout   = 30 * time.Second
	defaultMaxConcurrent = 16
)

// DispatcherConfig holds background dispatcher configuration
type DispatcherConfig struct {
	// Logger is optional; if nil, logging is disabled
	Logger paysync.Logger

	// TaskTimeout bounds each task's context (default 30s)
	TaskTimeout time.Duration

	// MaxConcurrent bounds how many tasks run at once (default 16)
	MaxConcurrent int
}

// Dispatcher runs reconciliation work after the webhook response has been
// sent. Tasks are tracked so Shutdown can drain them before the process
// exits; a task failure is logged, never retried here - redelivery by the
// provider and the user-facing sync path are the retry mechanisms.
type Dispatcher struct {
	logger  paysync.Logger
	timeout time.Duration
	sem     chan struct{}

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewDispatcher creates a dispatcher with the given configuration
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = &paysync.NoopLogger{}
	}
	timeout := config.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	maxConcurrent := config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	return &Dispatcher{
		logger:  logger,
		timeout: timeout,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Dispatch schedules a task and returns immediately. The task receives its
// own timeout-bounded context, detached from the originating request (the
// HTTP response has already been sent by the time the task runs).
// Returns false if the dispatcher is already shut down.
func (d *Dispatcher) Dispatch(name string, task func(ctx context.Context) error) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("task rejected, dispatcher is shut down", paysync.Field{Key: "task", Value: name})
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked",
					paysync.Field{Key: "task", Value: name},
					paysync.Field{Key: "panic", Value: fmt.Sprintf("%v", r)},
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := task(ctx); err != nil {
			d.logger.Error("background task failed",
				paysync.Field{Key: "task", Value: name},
				paysync.Field{Key: "error", Value: err.Error()},
			)
		}
	}()

	return true
}

// Shutdown stops accepting tasks and waits for in-flight work to drain, or
// for ctx to expire, whichever comes first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}
