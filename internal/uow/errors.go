package uow

import "errors"

var (
	// ErrTrackingOverflow is returned by Attach when a root type already
	// tracks the configured maximum and the overflow policy is OverflowFail.
	ErrTrackingOverflow = errors.New("uow: tracking limit exceeded")

	// ErrTypeMismatch is returned by the generic helpers when the instance
	// tracked under an ID is not of the requested type.
	ErrTypeMismatch = errors.New("uow: tracked instance has a different type")

	// ErrDetached is returned for lazy queries on an entity with no owner.
	ErrDetached = errors.New("uow: entity is not attached to a context")

	// ErrClosed is returned for operations on a closed Context.
	ErrClosed = errors.New("uow: context closed")

	// ErrNoTransaction is returned by Abort when no transaction is open.
	ErrNoTransaction = errors.New("uow: no transaction in progress")

	// ErrNilEntity is returned when a nil entity is attached.
	ErrNilEntity = errors.New("uow: nil entity")

	// ErrUnknownRoot is returned when querying an interface type that was
	// never registered as a root.
	ErrUnknownRoot = errors.New("uow: unknown root type")
)
