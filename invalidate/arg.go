package invalidate

import "fmt"

type argKind uint8

const (
	argField argKind = iota + 1
	argWildcard
	argComputed
)

// Arg is one substitution of a CustomGroup template.
type Arg struct {
	kind argKind
	path string
	fn   func(entity any) (string, error)
}

// Field resolves a dotted path ("user__profile__id") on the entity.
func Field(path string) Arg { return Arg{kind: argField, path: path} }

// Wildcard substitutes '*' and makes the key a pattern.
func Wildcard() Arg { return Arg{kind: argWildcard} }

// Computed derives the value from the entity with fn.
func Computed(fn func(entity any) (string, error)) Arg { return Arg{kind: argComputed, fn: fn} }

func (a Arg) String() string {
	switch a.kind {
	case argField:
		return "field(" + a.path + ")"
	case argWildcard:
		return "*"
	case argComputed:
		return "computed"
	}
	return fmt.Sprintf("arg(%d)", a.kind)
}
