package eventstore

import (
	"fmt"
)

// PositionDefault is the position "before the first event" of a stream.
const PositionDefault int64 = -1

type expectedVersionKind int

const (
	expectAny expectedVersionKind = iota
	expectNone
	expectAuto
	expectExplicit
)

// ExpectedVersion is the optimistic concurrency precondition of an append or link.
// It is resolved against the repository at write time, never eagerly.
type ExpectedVersion struct {
	kind     expectedVersionKind
	position int64
}

// LastPositionFunc reports the last position of a stream, ok is false for an empty stream.
type LastPositionFunc func() (position int64, ok bool, err error)

// AnyVersion appends without a precondition; positions are best effort.
func AnyVersion() ExpectedVersion {
	return ExpectedVersion{kind: expectAny}
}

// NoneVersion requires the stream to be empty.
func NoneVersion() ExpectedVersion {
	return ExpectedVersion{kind: expectNone}
}

// AutoVersion requires the stream to still end at the last position known when the write is resolved.
func AutoVersion() ExpectedVersion {
	return ExpectedVersion{kind: expectAuto}
}

// ExactVersion requires the stream's last position to be exactly position.
func ExactVersion(position int64) ExpectedVersion {
	return ExpectedVersion{kind: expectExplicit, position: position}
}

func (v ExpectedVersion) IsAny() bool {
	return v.kind == expectAny
}

func (v ExpectedVersion) IsNone() bool {
	return v.kind == expectNone
}

func (v ExpectedVersion) IsAuto() bool {
	return v.kind == expectAuto
}

func (v ExpectedVersion) IsExplicit() bool {
	return v.kind == expectExplicit
}

// IsEnforced is false only for AnyVersion.
func (v ExpectedVersion) IsEnforced() bool {
	return v.kind != expectAny
}

// Resolve returns the position the stream must currently end at.
// lastPosition is only consulted for Auto and Any.
func (v ExpectedVersion) Resolve(lastPosition LastPositionFunc) (int64, error) {
	switch v.kind {
	case expectNone:
		return PositionDefault, nil

	case expectExplicit:
		return v.position, nil

	default:
		position, ok, err := lastPosition()
		if err != nil {
			return 0, err
		}

		if !ok {
			return PositionDefault, nil
		}

		return position, nil
	}
}

func (v ExpectedVersion) String() string {
	switch v.kind {
	case expectNone:
		return "none"
	case expectAuto:
		return "auto"
	case expectExplicit:
		return fmt.Sprintf("%d", v.position)
	default:
		return "any"
	}
}
