package uow

import (
	"fmt"
	"reflect"

	"github.com/tiendc/go-deepcopy"

	"github.com/roach88/uow/internal/pipeline"
)

// Attach starts tracking e and returns the tracked instance.
//
// An entity with an empty ID is new: it gets a generated ID and CreatedOn.
// If an instance with the same root type and ID is already tracked, that
// instance is returned and e is discarded. Otherwise the on-attach
// interceptors run, e enters the identity map and, unless new, a deep copy
// of its current state is kept for dirty checking.
func (c *Context) Attach(e Entity) (Entity, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if e == nil || reflect.ValueOf(e).IsNil() {
		return nil, ErrNilEntity
	}

	b := e.entityBase()
	isNew := b.ID == ""
	root := c.types.RootOf(reflect.TypeOf(e))
	if !isNew {
		if tracked, ok := c.identity.get(root, b.ID); ok {
			return tracked, nil
		}
	}
	// A rejected entity must stay new, so the ID is assigned only after
	// the limit check.
	if err := c.checkTrackingLimit(root); err != nil {
		return nil, err
	}
	if isNew {
		b.ID = c.ids.Generate()
		b.CreatedOn = c.clock.Now()
	}

	c.interceptorSet().Run(pipeline.OnAttach, e)

	if !isNew {
		snap, err := c.snapshot(e)
		if err != nil {
			return nil, fmt.Errorf("snapshot %T %s: %w", e, b.ID, err)
		}
		c.snapshots.put(root, b.ID, snap)
	}
	c.identity.put(root, b.ID, e)
	b.owner = c
	return e, nil
}

// AttachAll attaches each entity in order and returns the tracked
// instances in the same order. It stops at the first error.
func (c *Context) AttachAll(entities ...Entity) ([]Entity, error) {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		tracked, err := c.Attach(e)
		if err != nil {
			return out, err
		}
		out = append(out, tracked)
	}
	return out, nil
}

// AttachNoTracking assigns ID and CreatedOn to a new entity and associates
// it with the Context without tracking it. Changes to it are never saved.
func (c *Context) AttachNoTracking(e Entity) Entity {
	if e == nil || reflect.ValueOf(e).IsNil() {
		return e
	}
	b := e.entityBase()
	if b.ID == "" {
		b.ID = c.ids.Generate()
		b.CreatedOn = c.clock.Now()
	}
	b.owner = c
	return e
}

// Attach is the typed form of (*Context).Attach. It returns ErrTypeMismatch
// when the instance already tracked under e's ID is not a T.
func Attach[T Entity](c *Context, e T) (T, error) {
	var zero T
	tracked, err := c.Attach(e)
	if err != nil {
		return zero, err
	}
	t, ok := tracked.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is tracked as %T, not %T", ErrTypeMismatch, IDOf(tracked), tracked, zero)
	}
	return t, nil
}

// AttachSlice is the typed form of (*Context).AttachAll.
func AttachSlice[T Entity](c *Context, entities []T) ([]T, error) {
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		t, err := Attach(c, e)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Context) checkTrackingLimit(root reflect.Type) error {
	if c.trackingLimit <= 0 || c.identity.count(root) < c.trackingLimit {
		return nil
	}
	if c.overflow == OverflowFail {
		return fmt.Errorf("%w: %s tracks %d instances", ErrTrackingOverflow, root, c.trackingLimit)
	}
	c.metrics.TrackingOverflow(root.String())
	if !c.warned[root] {
		c.warned[root] = true
		c.logger.Warn("tracking limit exceeded",
			"root", root.String(),
			"limit", c.trackingLimit,
		)
	}
	return nil
}

// snapshot deep-copies e without its owner association.
func (c *Context) snapshot(e Entity) (Entity, error) {
	b := e.entityBase()
	owner := b.owner
	b.owner = nil
	defer func() { b.owner = owner }()

	dst := reflect.New(reflect.TypeOf(e).Elem())
	if err := deepcopy.Copy(dst.Interface(), e); err != nil {
		return nil, err
	}
	return dst.Interface().(Entity), nil
}
