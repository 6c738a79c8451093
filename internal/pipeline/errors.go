package pipeline

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrShapeViolation is the sentinel all registration shape errors wrap.
var ErrShapeViolation = errors.New("pipeline: shape violation")

// ShapeError reports a filter or interceptor registration that cannot be
// used: its marker is not an interface type, its factory is missing, or its
// timing is unknown.
type ShapeError struct {
	Kind   string // "filter" or "interceptor"
	Marker reflect.Type
	Reason string
}

func (e *ShapeError) Error() string {
	marker := "<nil>"
	if e.Marker != nil {
		marker = e.Marker.String()
	}
	return fmt.Sprintf("pipeline: invalid %s registration for %s: %s", e.Kind, marker, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrShapeViolation }

// IsShapeError checks if an error is a ShapeError.
func IsShapeError(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}
