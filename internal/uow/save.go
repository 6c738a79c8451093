package uow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/uow/internal/docstore"
)

// group is the set of changed entities of one concrete type.
type group struct {
	typ        reflect.Type
	collection string
	docs       []docstore.Document
}

// SaveChanges writes every new or modified tracked entity and returns how
// many were written.
//
// Changed entities are grouped by concrete type and each group is written
// with one bulk upsert. On success the identity map and snapshots are
// cleared. On failure the error from the store is returned as is and the
// tracking state is kept; groups already written stay written unless a
// store transaction is open. A cancellation inside a transaction aborts it.
func (c *Context) SaveChanges(ctx context.Context) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}

	groups, skipped := c.changes()
	c.metrics.UnchangedSkipped(skipped)
	if len(groups) == 0 {
		c.Reset()
		return 0, nil
	}

	start := time.Now()
	if err := c.persist(ctx, groups); err != nil {
		if c.session.InTransaction() && isCancellation(err) {
			if abortErr := c.session.AbortTransaction(context.WithoutCancel(ctx)); abortErr != nil {
				c.logger.Error("abort after cancelled save failed", "error", abortErr)
			}
		}
		return 0, err
	}
	c.metrics.SaveDuration(time.Since(start))

	n := 0
	for _, g := range groups {
		n += len(g.docs)
		c.metrics.EntitiesSaved(g.collection, len(g.docs))
	}
	c.logger.Debug("saved changes", "entities", n, "collections", len(groups), "skipped", skipped)
	c.Reset()
	return n, nil
}

// Commit saves changes, commits the store transaction if one is open, runs
// the OnCommitted callbacks and, for transactional Contexts, opens a new
// transaction so the Context can be reused.
func (c *Context) Commit(ctx context.Context) (int, error) {
	n, err := c.SaveChanges(ctx)
	if err != nil {
		return 0, err
	}
	if c.session.InTransaction() {
		if err := c.session.CommitTransaction(ctx); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}
	}
	for _, fn := range c.onCommitted {
		fn(ctx)
	}
	if c.transactional {
		if err := c.session.StartTransaction(ctx); err != nil {
			return n, fmt.Errorf("start transaction: %w", err)
		}
	}
	return n, nil
}

// Abort rolls back the open store transaction. Tracking state is kept; the
// caller is expected to Reset or discard the Context.
func (c *Context) Abort(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if !c.session.InTransaction() {
		return ErrNoTransaction
	}
	return c.session.AbortTransaction(ctx)
}

// changes collects the changed entities grouped by concrete type in first
// attach order, and counts the unchanged ones.
func (c *Context) changes() ([]*group, int) {
	var groups []*group
	byType := make(map[reflect.Type]*group)
	skipped := 0

	c.identity.each(func(root reflect.Type, id string, e Entity) {
		if snap, ok := c.snapshots.get(root, id); ok {
			path, equal := c.comparer.Diff(e, snap)
			if equal {
				skipped++
				return
			}
			c.logger.Debug("entity changed", "type", reflect.TypeOf(e).String(), "id", id, "path", path)
		}
		t := reflect.TypeOf(e)
		g, ok := byType[t]
		if !ok {
			g = &group{typ: t, collection: c.types.CollectionName(t)}
			byType[t] = g
			groups = append(groups, g)
		}
		g.docs = append(g.docs, docstore.Document{ID: id, Value: e})
	})
	return groups, skipped
}

func (c *Context) persist(ctx context.Context, groups []*group) error {
	if !c.parallelSave || len(groups) == 1 || c.session.InTransaction() {
		for _, g := range groups {
			if err := c.session.Collection(g.collection).BulkUpsert(ctx, g.docs); err != nil {
				return err
			}
		}
		return nil
	}

	eg, egctx := errgroup.WithContext(ctx)
	for _, g := range groups {
		eg.Go(func() error {
			return c.session.Collection(g.collection).BulkUpsert(egctx, g.docs)
		})
	}
	return eg.Wait()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
