package uow

import (
	"time"
)

// Base carries the state every entity shares. Embed it in entity structs
// and use the struct through a pointer:
//
//	type User struct {
//		uow.Base
//		Name string `json:"name"`
//	}
type Base struct {
	ID        string    `json:"id"`
	CreatedOn time.Time `json:"created_on"`

	owner *Context `copy:"-"`
}

func (b *Base) entityBase() *Base { return b }

// Owner returns the Context the entity was last attached to, or nil.
func (b *Base) Owner() *Context { return b.owner }

// Entity is implemented by pointers to structs embedding Base.
type Entity interface {
	entityBase() *Base
}

// CollectionNamer overrides the collection an entity type is stored in.
type CollectionNamer interface {
	CollectionName() string
}

// IDOf returns the entity's ID.
func IDOf(e Entity) string { return e.entityBase().ID }

// OwnerOf returns the Context the entity is associated with, or nil.
func OwnerOf(e Entity) *Context { return e.entityBase().owner }
