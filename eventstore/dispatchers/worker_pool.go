// Package dispatchers provides asynchronous eventstore.Dispatcher implementations:
// a bounded worker pool that runs eventstore.RecordHandler subscribers with retries,
// and a dispatcher that defers scheduling until a unit of work commits.
package dispatchers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

const (
	logMsgHandlerRetry  = "record handler failed, retrying"
	logMsgHandlerFailed = "record handler failed"
	logAttrEventID      = "event_id"
	logAttrEventType    = "event_type"
	logAttrAttempt      = "attempt"
	logAttrError        = "error"
)

// Scheduler runs subscribers outside the publishing call.
type Scheduler interface {
	Schedule(ctx context.Context, subscriber eventstore.Subscriber, record eventstore.Record) error
	Verify(subscriber eventstore.Subscriber) bool
}

// WorkerPool is a Scheduler that runs eventstore.RecordHandler subscribers on at most Concurrency goroutines.
// A failing handler is retried with exponential backoff. Schedule blocks while all workers are busy.
type WorkerPool struct {
	mu          sync.Mutex
	current     *generation
	concurrency int
	retry       retryPolicy
	logger      eventstore.Logger
}

// WorkerPoolOption defines a functional option for configuring WorkerPool.
type WorkerPoolOption func(*WorkerPool) error

// WithConcurrency sets the maximum number of handlers running at the same time.
func WithConcurrency(concurrency int) WorkerPoolOption {
	return func(p *WorkerPool) error {
		if concurrency <= 0 {
			return ErrInvalidConcurrency
		}

		p.concurrency = concurrency

		return nil
	}
}

// WithMaxAttempts sets how often a handler is invoked before giving up, 1 disables retries.
func WithMaxAttempts(maxAttempts int) WorkerPoolOption {
	return func(p *WorkerPool) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		p.retry.maxAttempts = maxAttempts

		return nil
	}
}

// WithBaseDelay sets the delay before the first retry, later retries double it.
func WithBaseDelay(delay time.Duration) WorkerPoolOption {
	return func(p *WorkerPool) error {
		if delay < 0 {
			return ErrNegativeDelay
		}

		p.retry.baseDelay = delay

		return nil
	}
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(delay time.Duration) WorkerPoolOption {
	return func(p *WorkerPool) error {
		if delay < 0 {
			return ErrNegativeDelay
		}

		p.retry.maxDelay = delay

		return nil
	}
}

// WithLogger sets the logger for retries and final handler failures.
func WithLogger(logger eventstore.Logger) WorkerPoolOption {
	return func(p *WorkerPool) error {
		p.logger = logger
		return nil
	}
}

// NewWorkerPool creates a WorkerPool with optional configuration.
func NewWorkerPool(options ...WorkerPoolOption) (*WorkerPool, error) {
	pool := &WorkerPool{
		concurrency: defaultConcurrency,
		retry:       defaultRetryPolicy(),
	}

	for _, option := range options {
		if err := option(pool); err != nil {
			return nil, err
		}
	}

	pool.current = pool.newGeneration()

	return pool, nil
}

// generation groups the handlers scheduled between two calls of Wait.
// scheduling counts the Schedule calls that picked the generation and have not yet handed their handler to group.
type generation struct {
	group      *errgroup.Group
	scheduling sync.WaitGroup
}

func (p *WorkerPool) newGeneration() *generation {
	group := &errgroup.Group{}
	group.SetLimit(p.concurrency)

	return &generation{group: group}
}

// Verify accepts eventstore.RecordHandler subscribers.
func (p *WorkerPool) Verify(subscriber eventstore.Subscriber) bool {
	_, ok := subscriber.(eventstore.RecordHandler)
	return ok
}

// Schedule hands the record to a worker. The handler does not see the cancellation of ctx.
func (p *WorkerPool) Schedule(ctx context.Context, subscriber eventstore.Subscriber, record eventstore.Record) error {
	handler, ok := subscriber.(eventstore.RecordHandler)
	if !ok {
		return errors.Join(eventstore.ErrInvalidSubscriber, fmt.Errorf("subscriber of type %T", subscriber))
	}

	p.mu.Lock()
	current := p.current
	current.scheduling.Add(1)
	p.mu.Unlock()

	defer current.scheduling.Done()

	detached := context.WithoutCancel(ctx)

	current.group.Go(func() error {
		err := p.retry.run(
			detached,
			func(ctx context.Context) error { return handler.HandleRecord(ctx, record) },
			func(attempt int, err error) {
				p.log(logMsgHandlerRetry, record, logAttrAttempt, attempt, logAttrError, err.Error())
			},
		)

		if err != nil {
			p.log(logMsgHandlerFailed, record, logAttrError, err.Error())
			return errors.Join(eventstore.ErrDispatchFailed, fmt.Errorf("event %s", record.EventID), err)
		}

		return nil
	})

	return nil
}

// Wait blocks until all scheduled handlers are done and returns the first failure since the previous Wait.
func (p *WorkerPool) Wait() error {
	p.mu.Lock()
	previous := p.current
	p.current = p.newGeneration()
	p.mu.Unlock()

	previous.scheduling.Wait()

	return previous.group.Wait()
}

func (p *WorkerPool) log(msg string, record eventstore.Record, args ...any) {
	if p.logger == nil {
		return
	}

	allArgs := []any{logAttrEventID, record.EventID, logAttrEventType, record.EventType}
	p.logger.Warn(msg, append(allArgs, args...)...)
}

var _ Scheduler = (*WorkerPool)(nil)
