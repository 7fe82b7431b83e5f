package eventstore

import "errors"

// Domain errors raised by the core types, the Specification builder and every Repository implementation.
var ErrIncorrectStreamData = errors.New("incorrect stream data: stream name must not be empty")
var ErrEventNotFound = errors.New("event not found")
var ErrInvalidPageSize = errors.New("invalid page size: must be a positive number")
var ErrInvalidPageStart = errors.New("invalid page start: cursor event id must not be empty")
var ErrInvalidPageStop = errors.New("invalid page stop: cursor event id must not be empty")
var ErrEventDuplicatedInStream = errors.New("event is duplicated in stream")
var ErrWrongExpectedVersion = errors.New("wrong expected version")
var ErrInvalidSubscriber = errors.New("invalid subscriber: no dispatcher can invoke it")

// Construction errors.
var ErrEmptyEventID = errors.New("event id must not be empty")
var ErrEmptyEventType = errors.New("event type must not be empty")
var ErrMetadataValueNotAllowed = errors.New("metadata value kind is not allowed")
var ErrInvalidRecordData = errors.New("record data could not be decoded into a mapping")
var ErrInvalidTimestamp = errors.New("serialized timestamp is not valid")

// Infrastructure errors used by the engines, the codecs and the dispatchers.
var ErrNilRepository = errors.New("repository must not be nil")
var ErrNilCodec = errors.New("codec must not be nil")
var ErrNilDatabaseConnection = errors.New("database connection must not be nil")
var ErrEmptyTableNameSupplied = errors.New("empty table name supplied")
var ErrBuildingQueryFailed = errors.New("building query failed")
var ErrQueryingEventsFailed = errors.New("querying events failed")
var ErrScanningDBRowFailed = errors.New("scanning db row failed")
var ErrAppendingEventFailed = errors.New("appending event failed")
var ErrTransactionFailed = errors.New("database transaction failed")
var ErrEncodingFailed = errors.New("encoding value failed")
var ErrDecodingFailed = errors.New("decoding value failed")
var ErrDispatchFailed = errors.New("dispatching event to subscriber failed")

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
