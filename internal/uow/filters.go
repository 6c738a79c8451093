package uow

import (
	"reflect"

	"github.com/roach88/uow/internal/pipeline"
)

// DisableDataFilters deactivates the filters keyed by markers until the
// returned guard is restored. Other filters stay active.
//
//	g := c.DisableDataFilters(pipeline.Marker[SoftDeletable]())
//	defer g.Restore()
func (c *Context) DisableDataFilters(markers ...reflect.Type) *pipeline.Guard {
	return c.filterSet().Disable(markers...)
}

// DisableAllDataFilters deactivates every filter until the guard is
// restored.
func (c *Context) DisableAllDataFilters() *pipeline.Guard {
	return c.filterSet().DisableAll()
}

// RemoveDataFilters deactivates filters for the rest of the Context's life.
func (c *Context) RemoveDataFilters(markers ...reflect.Type) {
	c.filterSet().Remove(markers...)
}

// DataFilterActive reports whether the filter keyed by marker is active.
func (c *Context) DataFilterActive(marker reflect.Type) bool {
	return c.filterSet().Active(marker)
}

// DisableFilter is DisableDataFilters for a single marker type.
func DisableFilter[F any](c *Context) *pipeline.Guard {
	return c.DisableDataFilters(pipeline.Marker[F]())
}
