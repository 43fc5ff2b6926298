package invalidate

import (
	"context"
	"fmt"
)

// Event is the entity lifecycle event that triggers invalidation.
type Event uint8

const (
	Create Event = iota + 1
	Update
	Delete
)

func (e Event) String() string {
	switch e {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// Toggles switch a group off for individual events. The zero value applies
// the group on every event.
type Toggles struct {
	SkipCreate bool
	SkipUpdate bool
	SkipDelete bool
}

func (t Toggles) skips(ev Event) bool {
	switch ev {
	case Create:
		return t.SkipCreate
	case Update:
		return t.SkipUpdate
	case Delete:
		return t.SkipDelete
	}
	return false
}

// Group invalidates actions of one viewset from the written entity itself.
type Group struct {
	ViewSet string
	Actions []string
	// Async defers every action of the group to the queue; AsyncActions
	// defers only the listed ones.
	Async        bool
	AsyncActions []string
	// ByUserField is the dotted path to the owning user id, required when a
	// listed rule is ByUser.
	ByUserField string
	// DetailField overrides the rule's DetailField for this entity.
	DetailField string
	Toggles
}

func (g Group) async(action string) bool {
	if g.Async {
		return true
	}
	for _, a := range g.AsyncActions {
		if a == action {
			return true
		}
	}
	return false
}

// ForeignGroup is a Group fanned out over related entities: detail rules
// produce one key per related entity.
type ForeignGroup struct {
	Group
	// ForeignSet is a dotted path to a slice of related entities; each
	// entity's detail id is resolved with the rule's DetailField.
	ForeignSet string
	// ForeignSetFunc names a method on the entity returning the related
	// detail ids directly. Accepted shapes: func() []T, func() ([]T, error),
	// func(context.Context) ([]T, error).
	ForeignSetFunc string
}

// CustomGroup deletes a free-form key built from Template ("{}" per Arg).
// Any Wildcard argument turns the key into a deletion pattern.
type CustomGroup struct {
	Template string
	Args     []Arg
	Async    bool
	Toggles
}

// NilPolicy decides what a resolved nil value does to its key.
type NilPolicy uint8

const (
	// NilError fails resolution with ErrNilAttribute.
	NilError NilPolicy = iota
	// NilSkip drops the key that needed the value.
	NilSkip
	// NilPlaceholder renders the value as NilText.
	NilPlaceholder
)

// NilText is what NilPlaceholder writes into keys.
const NilText = "None"

// Config declares which cache keys a trackable entity type invalidates.
// It is static; the engine only reads it.
type Config struct {
	Default []Group
	Foreign []ForeignGroup
	Custom  []CustomGroup
	// ReloadData also invalidates against the entity's previous persisted
	// state on update, so keys derived from changed partition or foreign
	// fields are cleared under their old values too.
	ReloadData bool
	Nil        NilPolicy
}

// Trackable is an entity type whose writes invalidate caches.
type Trackable interface {
	CacheConfig() *Config
}

// Loader fetches the currently persisted state of entity. It must return
// (nil, nil) when the entity does not exist yet.
type Loader func(ctx context.Context, entity Trackable) (Trackable, error)
