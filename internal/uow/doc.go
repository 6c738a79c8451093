// Package uow implements the unit of work: change tracking between
// application code and a document store.
//
// A Context owns one store session and keeps:
//   - an identity map, so a (root type, ID) pair maps to one instance
//   - origin snapshots of pre-existing entities, taken at attach time
//   - the data filters and interceptors materialized from a shared
//     pipeline.Registry
//
// Typical use:
//
//	c, err := uow.New(ctx, store, uow.WithRegistry(reg), uow.WithTransaction(opts))
//	if err != nil {
//		return err
//	}
//	defer c.Close(ctx)
//
//	for u, err := range uow.Query[*User](ctx, c, uow.Where("name", "ada")) {
//		if err != nil {
//			return err
//		}
//		u.Email = "ada@example.com"
//	}
//	_, err = c.Commit(ctx)
//
// SaveChanges writes new entities and entities that differ from their
// snapshot, one bulk upsert per concrete type, then clears the maps.
//
// Thread-safety: a Context is owned by one goroutine at a time. The
// registries it reads from are safe for concurrent use.
package uow
