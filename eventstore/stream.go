package eventstore

// GlobalStreamName is the name of the implicit stream that contains every event in commit order.
const GlobalStreamName = "global_stream"

// Stream is a named, ordered view over a subset of events.
type Stream struct {
	name string
}

// NewStream returns ErrIncorrectStreamData if name is empty.
func NewStream(name string) (Stream, error) {
	if name == "" {
		return Stream{}, ErrIncorrectStreamData
	}

	return Stream{name: name}, nil
}

// GlobalStream returns the implicit stream containing all events.
func GlobalStream() Stream {
	return Stream{name: GlobalStreamName}
}

func (s Stream) Name() string {
	return s.name
}

// IsGlobal also treats the zero value as the global stream.
func (s Stream) IsGlobal() bool {
	return s.name == "" || s.name == GlobalStreamName
}

func (s Stream) String() string {
	if s.name == "" {
		return GlobalStreamName
	}

	return s.name
}

// EventInStream associates an event with its position inside one named stream.
// Tracked is false for memberships written without position tracking (ExpectedVersion Any in the SQL engine).
type EventInStream struct {
	EventID  string
	Position int64
	Tracked  bool
}
