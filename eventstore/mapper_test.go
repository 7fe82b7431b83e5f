package eventstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// tracingTransformation appends its name to the shared trace on every call.
type tracingTransformation struct {
	name  string
	trace *[]string
}

func (t tracingTransformation) Dump(record eventstore.Record) (eventstore.Record, error) {
	*t.trace = append(*t.trace, "dump "+t.name)
	return record, nil
}

func (t tracingTransformation) Load(record eventstore.Record) (eventstore.Record, error) {
	*t.trace = append(*t.trace, "load "+t.name)
	return record, nil
}

func Test_DefaultMapper_RoundTrip(t *testing.T) {
	// setup
	mapper := eventstore.NewDefaultMapper()
	timestamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	validAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	// arrange
	event, err := eventstore.NewEvent("OrderPlaced", map[string]any{"order_id": "42"},
		eventstore.WithEventID("e-1"),
		eventstore.WithMetadata(map[string]any{
			eventstore.MetadataKeyTimestamp: timestamp,
			eventstore.MetadataKeyValidAt:   validAt.Format(time.RFC3339Nano),
			"user":                          "ann",
		}),
	)
	require.NoError(t, err)

	// act
	record, dumpErr := mapper.EventToRecord(event)
	loaded, loadErr := mapper.RecordToEvent(record)

	// assert
	require.NoError(t, dumpErr)
	require.NoError(t, loadErr)

	assert.Equal(t, "e-1", record.EventID)
	assert.Equal(t, "OrderPlaced", record.EventType)
	assert.True(t, timestamp.Equal(record.Timestamp))
	assert.True(t, validAt.Equal(record.ValidAt))
	assert.Equal(t, "ann", record.Metadata["user"])

	assert.True(t, event.Equal(loaded))
	user, _ := loaded.Metadata().Get("user")
	assert.Equal(t, "ann", user)
}

func Test_DefaultMapper_When_TheTypeIsOverridden_TheRecordCarriesTheOverride(t *testing.T) {
	// setup
	mapper := eventstore.NewDefaultMapper()

	// arrange
	event, err := eventstore.NewEvent("OrderPlaced", nil,
		eventstore.WithMetadata(map[string]any{eventstore.MetadataKeyEventType: "Shop.OrderPlaced"}),
	)
	require.NoError(t, err)

	// act
	record, err := mapper.EventToRecord(event)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "Shop.OrderPlaced", record.EventType)
}

func Test_Pipeline_AppliesTransformationsInOrderAndReverse(t *testing.T) {
	// setup
	trace := make([]string, 0)
	pipeline := eventstore.NewPipeline(nil,
		tracingTransformation{name: "first", trace: &trace},
		tracingTransformation{name: "second", trace: &trace},
	)

	// arrange
	event, err := eventstore.NewEvent("OrderPlaced", nil)
	require.NoError(t, err)

	// act
	record, dumpErr := pipeline.EventToRecord(event)
	_, loadErr := pipeline.RecordToEvent(record)

	// assert
	require.NoError(t, dumpErr)
	require.NoError(t, loadErr)
	assert.Equal(t, []string{"dump first", "dump second", "load second", "load first"}, trace)
}

func Test_EventTypeRemapper_RenamesOnLoad(t *testing.T) {
	// setup
	pipeline := eventstore.NewPipeline(nil,
		eventstore.NormalizeMetadataKeys{},
		eventstore.NewEventTypeRemapper(map[string]string{"OrderCreated": "OrderPlaced"}),
	)

	// arrange
	renamed, err := eventstore.BuildRecord("e-1", "OrderCreated", nil,
		map[string]any{eventstore.MetadataKeyEventType: "OrderCreated"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	untouched, err := eventstore.BuildRecord("e-2", "OrderShipped", nil, nil, time.Time{}, time.Time{})
	require.NoError(t, err)

	// act
	renamedEvent, renamedErr := pipeline.RecordToEvent(renamed)
	untouchedEvent, untouchedErr := pipeline.RecordToEvent(untouched)
	dumped, dumpErr := pipeline.EventToRecord(untouchedEvent)

	// assert
	require.NoError(t, renamedErr)
	require.NoError(t, untouchedErr)
	require.NoError(t, dumpErr)
	assert.Equal(t, "OrderPlaced", renamedEvent.Type())
	assert.Equal(t, "OrderShipped", untouchedEvent.Type())
	assert.Equal(t, "OrderShipped", dumped.EventType)
}

func Test_NormalizeMetadataKeys_KeysNestedMappingsByString(t *testing.T) {
	// arrange
	record, err := eventstore.BuildRecord("e-1", "OrderPlaced", nil,
		map[string]any{"tags": map[any]any{1: "first"}}, time.Time{}, time.Time{})
	require.NoError(t, err)

	// act
	normalized, err := eventstore.NormalizeMetadataKeys{}.Load(record)

	// assert
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tags": map[string]any{"1": "first"}}, normalized.Metadata)
}
