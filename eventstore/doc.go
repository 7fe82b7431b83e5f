// Package eventstore provides the core of an embeddable event-sourcing store:
// immutable events organized into named streams, a fluent read Specification,
// optimistic concurrency via ExpectedVersion and a publish/subscribe layer
// that is triggered after successful appends.
//
// Key types:
//   - Event, Metadata: the domain side of an event
//   - Record, SerializedRecord, Codec: the storage side of an event
//   - Stream, ExpectedVersion: where to append and under which precondition
//   - Repository: the storage contract, see the memoryengine and postgresengine packages
//   - Specification, SpecificationResult, BatchEnumerator: reading
//   - Subscriptions, Broker, Dispatcher: notifying subscribers
//   - Mapper, Pipeline: converting between events and records
//   - Client: the facade tying everything together
//
// Common usage pattern:
//
//	repository, err := memoryengine.NewRepository()
//	client, err := eventstore.NewClient(repository)
//	if err != nil {
//		// handle error
//	}
//
//	_ = client.Subscribe(eventstore.HandlerFunc(func(ctx context.Context, e eventstore.Event) error {
//		// react to OrderPlaced
//		return nil
//	}), "OrderPlaced")
//
//	event, _ := eventstore.NewEvent("OrderPlaced", map[string]any{"order_id": "42"})
//	err = client.Publish(ctx, "Order$42", eventstore.NoneVersion(), event)
//
//	events, err := client.Read().Stream("Order$42").Backward().Execute(ctx)
package eventstore
