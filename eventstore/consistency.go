package eventstore

import "context"

// ReadConsistency tells engines with a read replica where a read may be served from.
type ReadConsistency int

const (
	// StrongConsistency reads from the primary, so a caller always sees its own appends. It is the default.
	StrongConsistency ReadConsistency = iota

	// EventualConsistency allows reads from a replica that may lag behind the primary.
	EventualConsistency
)

type contextKey string

// ReadConsistencyKey is the context key holding the ReadConsistency.
const ReadConsistencyKey contextKey = "eventstore.read_consistency"

// WithStrongConsistency marks reads made with the returned context as primary-only.
//
//	ctx = eventstore.WithStrongConsistency(ctx)
//	last, ok, err := client.Read().Stream("Order$1").Last(ctx)
func WithStrongConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ReadConsistencyKey, StrongConsistency)
}

// WithEventualConsistency allows reads made with the returned context to use a replica.
// Appends, links, deletes and cursor checks always use the primary.
func WithEventualConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ReadConsistencyKey, EventualConsistency)
}

// ReadConsistencyFrom returns StrongConsistency unless the context says otherwise.
func ReadConsistencyFrom(ctx context.Context) ReadConsistency {
	if level, ok := ctx.Value(ReadConsistencyKey).(ReadConsistency); ok {
		return level
	}

	return StrongConsistency
}

func (c ReadConsistency) String() string {
	switch c {
	case StrongConsistency:
		return "strong"
	case EventualConsistency:
		return "eventual"
	default:
		return "unknown"
	}
}
