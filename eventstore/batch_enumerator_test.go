package eventstore_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

func givenCollection(n int) []int {
	collection := make([]int, n)
	for i := range collection {
		collection[i] = i + 1
	}

	return collection
}

// sliceReader reads from collection and counts its calls.
func sliceReader(collection []int, calls *int) eventstore.BatchReader[int] {
	return func(offset, limit int) ([]int, error) {
		*calls++

		if offset >= len(collection) {
			return nil, nil
		}

		return collection[offset:min(offset+limit, len(collection))], nil
	}
}

func Test_BatchEnumerator_Batching(t *testing.T) {
	collection := givenCollection(10000)

	testCases := []struct {
		description        string
		batchSize          int
		totalLimit         int
		expectedBatches    int
		expectedFirstBatch []int
	}{
		{description: "100 of 900", batchSize: 100, totalLimit: 900, expectedBatches: 9, expectedFirstBatch: collection[:100]},
		{description: "100 of 901", batchSize: 100, totalLimit: 901, expectedBatches: 10, expectedFirstBatch: collection[:100]},
		{description: "100 of 1000", batchSize: 100, totalLimit: 1000, expectedBatches: 10, expectedFirstBatch: collection[:100]},
		{description: "100 of 1001", batchSize: 100, totalLimit: 1001, expectedBatches: 11, expectedFirstBatch: collection[:100]},
		{description: "100 of 10", batchSize: 100, totalLimit: 10, expectedBatches: 1, expectedFirstBatch: collection[:10]},
		{description: "1 of 1000", batchSize: 1, totalLimit: 1000, expectedBatches: 1000, expectedFirstBatch: collection[:1]},
		{description: "100 unlimited", batchSize: 100, totalLimit: eventstore.Unlimited, expectedBatches: 100, expectedFirstBatch: collection[:100]},
		{description: "100 of 99", batchSize: 100, totalLimit: 99, expectedBatches: 1, expectedFirstBatch: collection[:99]},
		{description: "100 of 199", batchSize: 100, totalLimit: 199, expectedBatches: 2, expectedFirstBatch: collection[:100]},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// setup
			calls := 0
			enumerator := eventstore.NewBatchEnumerator(tc.batchSize, tc.totalLimit, sliceReader(collection, &calls))

			// act
			batches, err := enumerator.Collect()
			first, firstErr := enumerator.First()

			// assert
			require.NoError(t, err)
			require.NoError(t, firstErr)
			assert.Len(t, batches, tc.expectedBatches)
			assert.Equal(t, tc.expectedFirstBatch, first)
		})
	}
}

func Test_BatchEnumerator_When_TheLimitIsNotAMultiple_TheLastBatchIsShort(t *testing.T) {
	// setup
	collection := givenCollection(10000)
	calls := 0

	// act
	batches, err := eventstore.NewBatchEnumerator(100, 199, sliceReader(collection, &calls)).Collect()

	// assert
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, collection[100:199], batches[1])
}

func Test_BatchEnumerator_YieldsSuccessiveSlices(t *testing.T) {
	// setup
	collection := givenCollection(10000)
	calls := 0

	// act
	batches, err := eventstore.NewBatchEnumerator(1000, 0, sliceReader(collection, &calls)).Collect()

	// assert
	require.NoError(t, err)
	require.Len(t, batches, 10)

	for i, batch := range batches {
		assert.Equal(t, collection[i*1000:(i+1)*1000], batch)
	}
}

func Test_BatchEnumerator_ReadsNoMoreThanNecessary(t *testing.T) {
	testCases := []struct {
		description   string
		collection    []int
		batchSize     int
		totalLimit    int
		expectedCalls int
	}{
		{description: "limit equals batch size", collection: givenCollection(10000), batchSize: 100, totalLimit: 100, expectedCalls: 1},
		{description: "limit below batch size", collection: givenCollection(10000), batchSize: 100, totalLimit: 10, expectedCalls: 1},
		{description: "empty reader", collection: []int{}, batchSize: 100, totalLimit: eventstore.Unlimited, expectedCalls: 1},
		{description: "exact multiple", collection: givenCollection(10000), batchSize: 100, totalLimit: 900, expectedCalls: 9},
		{description: "unlimited until exhausted", collection: givenCollection(250), batchSize: 100, totalLimit: eventstore.Unlimited, expectedCalls: 4},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// setup
			calls := 0

			// act
			_, err := eventstore.NewBatchEnumerator(tc.batchSize, tc.totalLimit, sliceReader(tc.collection, &calls)).Collect()

			// assert
			require.NoError(t, err)
			assert.Equal(t, tc.expectedCalls, calls)
		})
	}
}

func Test_BatchEnumerator_AdvancesTheOffsetByTheBatchSize(t *testing.T) {
	// setup
	var offsets, limits []int
	reader := func(offset, limit int) ([]int, error) {
		offsets = append(offsets, offset)
		limits = append(limits, limit)

		return []int{offset}, nil
	}

	// act
	batches, err := eventstore.NewBatchEnumerator(10, 25, reader).Collect()

	// assert
	require.NoError(t, err)
	assert.Len(t, batches, 3)
	assert.Equal(t, []int{0, 10, 20}, offsets)
	assert.Equal(t, []int{10, 10, 5}, limits)
}

func Test_BatchEnumerator_When_TheFirstReadIsEmpty_FirstReturnsNil(t *testing.T) {
	// setup
	calls := 0

	// act
	first, err := eventstore.NewBatchEnumerator(100, 0, sliceReader(nil, &calls)).First()

	// assert
	require.NoError(t, err)
	assert.Nil(t, first)
	assert.Equal(t, 1, calls)
}

func Test_BatchEnumerator_When_TheReaderFails_TheErrorEndsTheSequence(t *testing.T) {
	// setup
	readErr := errors.New("boom")
	calls := 0
	reader := func(offset, _ int) ([]int, error) {
		calls++
		if offset > 0 {
			return nil, readErr
		}

		return []int{1}, nil
	}

	// act
	batches, err := eventstore.NewBatchEnumerator(1, 10, reader).Collect()

	// assert
	assert.ErrorIs(t, err, readErr)
	assert.Nil(t, batches)
	assert.Equal(t, 2, calls)
}

func Test_BatchEnumerator_When_TheBatchSizeIsNotPositive_ItFails(t *testing.T) {
	// setup
	calls := 0

	// act
	_, err := eventstore.NewBatchEnumerator(0, 10, sliceReader(givenCollection(10), &calls)).Collect()

	// assert
	assert.ErrorIs(t, err, eventstore.ErrInvalidPageSize)
	assert.Equal(t, 0, calls)
}

func Test_BatchEnumerator_StopsWhenTheConsumerStops(t *testing.T) {
	// setup
	calls := 0
	enumerator := eventstore.NewBatchEnumerator(10, 0, sliceReader(givenCollection(100), &calls))

	// act
	for range enumerator.All() {
		break
	}

	// assert
	assert.Equal(t, 1, calls)
}
