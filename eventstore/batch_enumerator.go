package eventstore

import (
	"iter"
	"math"
)

// Unlimited is the total limit of a BatchEnumerator without an upper bound.
const Unlimited = math.MaxInt

// DefaultBatchSize is used by Specification.InBatches.
const DefaultBatchSize = 100

// BatchReader reads up to limit items starting at offset.
type BatchReader[T any] func(offset, limit int) ([]T, error)

// BatchEnumerator lazily reads batches of up to BatchSize items through Reader until TotalLimit is reached
// or Reader returns nothing.
//
// The offset advances by BatchSize after every read, not by the number of items returned.
type BatchEnumerator[T any] struct {
	BatchSize  int
	TotalLimit int
	Reader     BatchReader[T]
}

// NewBatchEnumerator builds a BatchEnumerator, a totalLimit <= 0 means Unlimited.
func NewBatchEnumerator[T any](batchSize, totalLimit int, reader BatchReader[T]) BatchEnumerator[T] {
	if totalLimit <= 0 {
		totalLimit = Unlimited
	}

	return BatchEnumerator[T]{
		BatchSize:  batchSize,
		TotalLimit: totalLimit,
		Reader:     reader,
	}
}

// All yields the batches in order. A reader error is yielded once and ends the sequence.
func (b BatchEnumerator[T]) All() iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		if b.BatchSize <= 0 {
			yield(nil, ErrInvalidPageSize)
			return
		}

		for offset := 0; offset < b.TotalLimit; offset += b.BatchSize {
			limit := min(b.BatchSize, b.TotalLimit-offset)

			batch, err := b.Reader(offset, limit)
			if err != nil {
				yield(nil, err)
				return
			}

			if len(batch) == 0 {
				return
			}

			if !yield(batch, nil) {
				return
			}

			if b.TotalLimit-offset <= b.BatchSize {
				return
			}
		}
	}
}

// First returns the first batch, or nil if the first read is empty.
func (b BatchEnumerator[T]) First() ([]T, error) {
	for batch, err := range b.All() {
		return batch, err
	}

	return nil, nil
}

// Collect reads all batches.
func (b BatchEnumerator[T]) Collect() ([][]T, error) {
	batches := make([][]T, 0)

	for batch, err := range b.All() {
		if err != nil {
			return nil, err
		}

		batches = append(batches, batch)
	}

	return batches, nil
}
