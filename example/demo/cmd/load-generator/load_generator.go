// Package main implements a load generator that places and ships orders through an eventstore.Client
// at a configurable rate while an asynchronous projection counts them.
package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

const (
	eventTypeOrderPlaced  = "OrderPlaced"
	eventTypeOrderShipped = "OrderShipped"

	streamPrefix = "Order$"
)

// OrderProjection counts placed and shipped orders from the records handed to it by a worker pool.
type OrderProjection struct {
	placed  atomic.Int64
	shipped atomic.Int64
}

func (p *OrderProjection) HandleRecord(_ context.Context, record eventstore.Record) error {
	switch record.EventType {
	case eventTypeOrderPlaced:
		p.placed.Add(1)
	case eventTypeOrderShipped:
		p.shipped.Add(1)
	}

	return nil
}

func (p *OrderProjection) Placed() int64 {
	return p.placed.Load()
}

func (p *OrderProjection) Shipped() int64 {
	return p.shipped.Load()
}

// LoadGenerator publishes order events at the configured rate.
type LoadGenerator struct {
	client     *eventstore.Client
	config     Config
	projection *OrderProjection

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu         sync.Mutex
	openOrders []string
	random     *rand.Rand

	requestCount  atomic.Int64
	errorCount    atomic.Int64
	conflictCount atomic.Int64
	startTime     time.Time
}

// NewLoadGenerator creates a LoadGenerator and subscribes its projection to the order events.
func NewLoadGenerator(client *eventstore.Client, config Config) (*LoadGenerator, error) {
	projection := &OrderProjection{}
	if err := client.Subscribe(projection, eventTypeOrderPlaced, eventTypeOrderShipped); err != nil {
		return nil, err
	}

	return &LoadGenerator{
		client:     client,
		config:     config,
		projection: projection,
		stopChan:   make(chan struct{}),
		random:     rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}, nil
}

// Start runs until ctx is canceled or Stop is called.
func (lg *LoadGenerator) Start(ctx context.Context) error {
	lg.startTime = time.Now()

	interval := time.Second / time.Duration(lg.config.Rate)
	lg.ticker = time.NewTicker(interval)
	defer lg.ticker.Stop()

	log.Printf("Load generator starting with %d requests/second (interval: %v)", lg.config.Rate, interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-lg.stopChan:
			return nil

		case <-lg.ticker.C:
			lg.wg.Add(1)
			go func() {
				defer lg.wg.Done()
				lg.ExecuteScenario(ctx)
			}()
		}
	}
}

// Stop waits for the running scenarios and logs the final stats.
func (lg *LoadGenerator) Stop(ctx context.Context) error {
	lg.stopOnce.Do(func() { close(lg.stopChan) })

	done := make(chan struct{})
	go func() {
		lg.wg.Wait()
		close(done)
	}()

	defer lg.logFinalStats()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteScenario either places a new order or ships an open one.
func (lg *LoadGenerator) ExecuteScenario(ctx context.Context) {
	lg.requestCount.Add(1)

	var err error
	if orderID, ok := lg.pickOpenOrder(); ok {
		err = lg.shipOrder(ctx, orderID)
	} else {
		err = lg.placeOrder(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, eventstore.ErrWrongExpectedVersion):
		lg.conflictCount.Add(1)
	case errors.Is(err, context.Canceled):
	default:
		lg.errorCount.Add(1)
		log.Printf("Scenario failed: %v", err)
	}
}

func (lg *LoadGenerator) placeOrder(ctx context.Context) error {
	orderID := uuid.NewString()

	event, err := eventstore.NewEvent(eventTypeOrderPlaced, map[string]any{
		"order_id": orderID,
		"amount":   lg.randomAmount(),
	})
	if err != nil {
		return err
	}

	if err := lg.client.Publish(ctx, streamPrefix+orderID, eventstore.NoneVersion(), event); err != nil {
		return err
	}

	lg.mu.Lock()
	lg.openOrders = append(lg.openOrders, orderID)
	lg.mu.Unlock()

	return nil
}

func (lg *LoadGenerator) shipOrder(ctx context.Context, orderID string) error {
	stream := streamPrefix + orderID

	last, found, err := lg.client.Read().Stream(stream).Last(ctx)
	if err != nil {
		return err
	}

	if !found || last.Type() != eventTypeOrderPlaced {
		return nil
	}

	event, err := eventstore.NewEvent(eventTypeOrderShipped, map[string]any{"order_id": orderID})
	if err != nil {
		return err
	}

	return lg.client.Publish(ctx, stream, eventstore.ExactVersion(0), event)
}

// pickOpenOrder removes a random open order when the ship share of the dice roll says so.
func (lg *LoadGenerator) pickOpenOrder() (string, bool) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if len(lg.openOrders) == 0 || lg.random.Intn(100) >= lg.config.ShipPercent {
		return "", false
	}

	i := lg.random.Intn(len(lg.openOrders))
	orderID := lg.openOrders[i]
	lg.openOrders[i] = lg.openOrders[len(lg.openOrders)-1]
	lg.openOrders = lg.openOrders[:len(lg.openOrders)-1]

	return orderID, true
}

func (lg *LoadGenerator) randomAmount() int {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	return 1 + lg.random.Intn(500)
}

func (lg *LoadGenerator) logFinalStats() {
	elapsed := time.Since(lg.startTime)
	requests := lg.requestCount.Load()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(requests) / elapsed.Seconds()
	}

	log.Printf("Final stats: %d requests in %v (%.2f req/s), %d errors, %d conflicts, projection placed=%d shipped=%d",
		requests, elapsed.Round(time.Second), rate, lg.errorCount.Load(), lg.conflictCount.Load(),
		lg.projection.Placed(), lg.projection.Shipped())
}
