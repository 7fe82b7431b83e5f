package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	logMsgPublished     = "eventstore client: events published"
	logMsgAppended      = "eventstore client: events appended"
	logMsgLinked        = "eventstore client: events linked"
	logMsgStreamDeleted = "eventstore client: stream deleted"
	logMsgPublishFailed = "eventstore client: publishing events failed"
	logMsgDispatchFail  = "eventstore client: notifying subscribers failed"
	logAttrStream       = "stream"
	logAttrEventCount   = "event_count"
	logAttrExpected     = "expected_version"
	logAttrError        = "error"
)

// Client is the entry point of the store: it maps, enriches, appends, links and reads events
// and notifies subscribers of published events.
type Client struct {
	repository    Repository
	mapper        Mapper
	subscriptions *Subscriptions
	dispatcher    Dispatcher
	broker        *Broker
	clock         func() time.Time
	correlationID func() string
	logger        Logger
}

// ClientOption defines a functional option for configuring a Client.
type ClientOption func(*Client) error

// WithMapper replaces the default mapper pipeline.
func WithMapper(mapper Mapper) ClientOption {
	return func(c *Client) error {
		c.mapper = mapper
		return nil
	}
}

// WithDispatcher replaces the DirectDispatcher, e.g. with a ComposedDispatcher.
func WithDispatcher(dispatcher Dispatcher) ClientOption {
	return func(c *Client) error {
		c.dispatcher = dispatcher
		return nil
	}
}

// WithSubscriptions shares a subscription registry between clients.
func WithSubscriptions(subscriptions *Subscriptions) ClientOption {
	return func(c *Client) error {
		c.subscriptions = subscriptions
		return nil
	}
}

// WithClock sets the source of the "timestamp" metadata of published events.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) error {
		c.clock = clock
		return nil
	}
}

// WithCorrelationIDGenerator sets the generator of the "correlation_id" metadata of published events.
func WithCorrelationIDGenerator(generator func() string) ClientOption {
	return func(c *Client) error {
		c.correlationID = generator
		return nil
	}
}

// WithClientLogger sets the logger for the Client.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewClient builds a Client over the repository.
func NewClient(repository Repository, options ...ClientOption) (*Client, error) {
	if repository == nil {
		return nil, ErrNilRepository
	}

	client := &Client{
		repository:    repository,
		mapper:        NewDefaultMapper(),
		clock:         time.Now,
		correlationID: uuid.NewString,
	}

	for _, option := range options {
		if err := option(client); err != nil {
			return nil, err
		}
	}

	client.broker = NewBroker(client.subscriptions, client.dispatcher)
	client.subscriptions = client.broker.Subscriptions()

	return client, nil
}

// Publish appends the events to the stream and then notifies their subscribers.
//
// Before mapping, each event gets a "timestamp" from the clock, a "valid_at" (defaulting to the timestamp)
// and a "correlation_id" unless it already carries one.
func (c *Client) Publish(
	ctx context.Context,
	streamName string,
	expected ExpectedVersion,
	event Event,
	additionalEvents ...Event,
) error {

	events, records, err := c.prepare(streamName, event, additionalEvents)
	if err != nil {
		return err
	}

	stream, _ := NewStream(streamName)

	if err = c.repository.AppendToStream(ctx, records, stream, expected); err != nil {
		c.logError(logMsgPublishFailed, err, logAttrStream, streamName, logAttrExpected, expected.String())
		return err
	}

	for i := range events {
		if err = c.broker.Call(ctx, events[i], records[i]); err != nil {
			c.logError(logMsgDispatchFail, err, logAttrStream, streamName)
			return err
		}
	}

	c.logInfo(logMsgPublished, logAttrStream, streamName, logAttrEventCount, len(events))

	return nil
}

// Append appends the events to the stream without notifying subscribers.
func (c *Client) Append(
	ctx context.Context,
	streamName string,
	expected ExpectedVersion,
	event Event,
	additionalEvents ...Event,
) error {

	_, records, err := c.prepare(streamName, event, additionalEvents)
	if err != nil {
		return err
	}

	stream, _ := NewStream(streamName)

	if err = c.repository.AppendToStream(ctx, records, stream, expected); err != nil {
		return err
	}

	c.logInfo(logMsgAppended, logAttrStream, streamName, logAttrEventCount, len(records))

	return nil
}

// Link adds already stored events to another stream.
func (c *Client) Link(
	ctx context.Context,
	streamName string,
	expected ExpectedVersion,
	eventID string,
	additionalEventIDs ...string,
) error {

	stream, err := NewStream(streamName)
	if err != nil {
		return err
	}

	eventIDs := append([]string{eventID}, additionalEventIDs...)

	if err = c.repository.LinkToStream(ctx, eventIDs, stream, expected); err != nil {
		return err
	}

	c.logInfo(logMsgLinked, logAttrStream, streamName, logAttrEventCount, len(eventIDs))

	return nil
}

// Subscribe registers the subscriber for the event types.
func (c *Client) Subscribe(subscriber Subscriber, eventTypes ...string) error {
	return c.broker.AddSubscription(subscriber, eventTypes...)
}

// SubscribeToAll registers the subscriber for every event.
func (c *Client) SubscribeToAll(subscriber Subscriber) error {
	return c.broker.AddGlobalSubscription(subscriber)
}

// Read starts a Specification over the global stream.
func (c *Client) Read() Specification {
	return NewSpecification(c.repository, c.mapper)
}

// DeleteStream removes the stream, its events stay in the global stream.
func (c *Client) DeleteStream(ctx context.Context, streamName string) error {
	stream, err := NewStream(streamName)
	if err != nil {
		return err
	}

	if err = c.repository.DeleteStream(ctx, stream); err != nil {
		return err
	}

	c.logInfo(logMsgStreamDeleted, logAttrStream, streamName)

	return nil
}

// StreamsOf returns the named streams the event belongs to.
func (c *Client) StreamsOf(ctx context.Context, eventID string) ([]Stream, error) {
	return c.repository.StreamsOf(ctx, eventID)
}

// PositionInStream returns the position of the event in the stream, ok is false for untracked positions.
func (c *Client) PositionInStream(ctx context.Context, eventID string, streamName string) (int64, bool, error) {
	stream, err := NewStream(streamName)
	if err != nil {
		return 0, false, err
	}

	return c.repository.PositionInStream(ctx, eventID, stream)
}

func (c *Client) Subscriptions() *Subscriptions {
	return c.subscriptions
}

func (c *Client) prepare(streamName string, event Event, additionalEvents []Event) ([]Event, []Record, error) {
	if _, err := NewStream(streamName); err != nil {
		return nil, nil, err
	}

	events := append([]Event{event}, additionalEvents...)
	records := make([]Record, 0, len(events))

	for i := range events {
		enriched, err := c.enrich(events[i])
		if err != nil {
			return nil, nil, err
		}

		record, err := c.mapper.EventToRecord(enriched)
		if err != nil {
			return nil, nil, err
		}

		events[i] = enriched
		records = append(records, record)
	}

	return events, records, nil
}

func (c *Client) enrich(event Event) (Event, error) {
	timestamp := c.clock().UTC()

	enriched, err := EnrichWithTime(event, timestamp, time.Time{})
	if err != nil {
		return Event{}, err
	}

	if enriched.Metadata().Has(MetadataKeyCorrelationID) {
		return enriched, nil
	}

	return enriched.WithMetadataValue(MetadataKeyCorrelationID, c.correlationID())
}

// EnrichWithTime sets the "timestamp" metadata and, unless present, the "valid_at" metadata of the event.
// A zero validAt defaults to timestamp.
func EnrichWithTime(event Event, timestamp time.Time, validAt time.Time) (Event, error) {
	if validAt.IsZero() {
		validAt = timestamp
	}

	enriched, err := event.WithMetadataValue(MetadataKeyTimestamp, timestamp)
	if err != nil {
		return Event{}, err
	}

	if enriched.Metadata().Has(MetadataKeyValidAt) {
		return enriched, nil
	}

	return enriched.WithMetadataValue(MetadataKeyValidAt, validAt)
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Client) logError(msg string, err error, args ...any) {
	if c.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		c.logger.Error(msg, allArgs...)
	}
}
