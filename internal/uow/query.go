package uow

import (
	"context"
	"fmt"
	"iter"
	"reflect"

	"github.com/roach88/uow/internal/docstore"
)

// QueryOption narrows a query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	where      map[string]any
	sort       []docstore.SortField
	limit      int64
	noTracking bool
}

// Where adds an equality condition on a serialized field.
func Where(field string, value any) QueryOption {
	return func(o *queryOptions) {
		if o.where == nil {
			o.where = make(map[string]any)
		}
		o.where[field] = value
	}
}

// SortBy orders results by field. Later calls break ties of earlier ones.
func SortBy(field string, descending bool) QueryOption {
	return func(o *queryOptions) {
		o.sort = append(o.sort, docstore.SortField{Field: field, Descending: descending})
	}
}

// Limit caps the number of results.
func Limit(n int64) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

// NoTracking returns results without attaching them to the identity map.
func NoTracking() QueryOption {
	return func(o *queryOptions) { o.noTracking = true }
}

// Query returns a lazy sequence of the entities of type T that pass every
// active data filter. T is a concrete entity type or a registered root;
// for a root every member collection is read in registration order and
// sorting applies within each collection.
//
// Each range over the sequence runs the query again. Results are attached
// unless NoTracking is given, so an entity already tracked is yielded as
// the tracked instance.
func Query[T any](ctx context.Context, c *Context, opts ...QueryOption) iter.Seq2[T, error] {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(yield func(T, error) bool) {
		var zero T
		if c.closed {
			yield(zero, ErrClosed)
			return
		}
		members, err := c.types.MembersOf(reflect.TypeFor[T]())
		if err != nil {
			yield(zero, err)
			return
		}

		var emitted int64
		for _, member := range members {
			more, err := c.scan(ctx, member, o, o.limit-emitted, func(e Entity) bool {
				t, ok := e.(T)
				if !ok {
					return yield(zero, fmt.Errorf("%w: %s is tracked as %T, not %T", ErrTypeMismatch, IDOf(e), e, zero))
				}
				emitted++
				return yield(t, nil)
			})
			if err != nil {
				yield(zero, err)
				return
			}
			if !more || (o.limit > 0 && emitted >= o.limit) {
				return
			}
		}
	}
}

// Count returns the number of T entities that pass the active filters.
func Count[T any](ctx context.Context, c *Context, opts ...QueryOption) (int64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	members, err := c.types.MembersOf(reflect.TypeFor[T]())
	if err != nil {
		return 0, err
	}

	var total int64
	for _, member := range members {
		if !c.filterSet().Applies(member) {
			n, err := c.session.Collection(c.types.CollectionName(member)).Count(ctx, docstore.Query{Where: o.where})
			if err != nil {
				return 0, err
			}
			total += n
			continue
		}
		scanOpts := o
		scanOpts.noTracking = true
		scanOpts.limit = 0
		_, err := c.scan(ctx, member, scanOpts, 0, func(Entity) bool {
			total++
			return true
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// QueryFrom runs Query on the Context the owner entity is attached to.
// Used for lazily loading related entities.
func QueryFrom[T any](ctx context.Context, owner Entity, opts ...QueryOption) iter.Seq2[T, error] {
	c := OwnerOf(owner)
	if c == nil {
		return func(yield func(T, error) bool) {
			var zero T
			yield(zero, ErrDetached)
		}
	}
	return Query[T](ctx, c, opts...)
}

// scan reads one member collection and hands each admitted entity to fn.
// remaining caps the results when positive. It reports false if fn asked
// to stop.
func (c *Context) scan(ctx context.Context, member reflect.Type, o queryOptions, remaining int64, fn func(Entity) bool) (bool, error) {
	q := docstore.Query{Where: o.where, Sort: o.sort}
	filtered := c.filterSet().Applies(member)
	if o.limit > 0 && !filtered {
		q.Limit = remaining
	}

	cur, err := c.session.Collection(c.types.CollectionName(member)).Find(ctx, q)
	if err != nil {
		return false, err
	}
	defer cur.Close(ctx)

	var n int64
	for cur.Next(ctx) {
		e := reflect.New(member.Elem()).Interface().(Entity)
		if err := cur.Decode(e); err != nil {
			return false, fmt.Errorf("decode %s: %w", member, err)
		}
		if filtered && !c.filterSet().Allow(e) {
			continue
		}
		if o.noTracking {
			e = c.AttachNoTracking(e)
		} else if e, err = c.Attach(e); err != nil {
			return false, err
		}
		if !fn(e) {
			return false, nil
		}
		n++
		if o.limit > 0 && n >= remaining {
			break
		}
	}
	return true, cur.Err()
}
