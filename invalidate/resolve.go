package invalidate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/unkn0wn-root/rulecache"
)

const pathSep = "__"

var (
	ErrMissingAttribute = errors.New("attribute missing")
	ErrNilAttribute     = errors.New("attribute is nil")
	ErrNotCollection    = errors.New("attribute is not a collection")
)

// AttributeError reports a dotted path that could not be resolved.
// Segment is the first segment that failed.
type AttributeError struct {
	Entity  string
	Path    string
	Segment string
	Err     error
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("invalidate: resolve %s.%s at %q: %v", e.Entity, e.Path, e.Segment, e.Err)
}

func (e *AttributeError) Unwrap() error { return e.Err }

// Attributer lets an entity answer attribute lookups itself instead of
// being inspected by reflection.
type Attributer interface {
	Attr(name string) (any, bool)
}

// Resolve walks path one segment at a time. Segments match, in order: an
// Attributer, a string-keyed map entry, a struct field tagged
// `cache:"name"` or `json:"name"`, a struct field or zero-argument method
// whose name equals the segment ignoring case and underscores.
//
// A nil value before the last segment is an error; a nil final value is
// returned as is for the caller's NilPolicy to judge.
func Resolve(entity any, path string) (any, error) {
	if path == "" {
		return nil, &AttributeError{Entity: typeName(entity), Path: path, Err: ErrMissingAttribute}
	}
	cur := entity
	segs := strings.Split(path, pathSep)
	for i, seg := range segs {
		if rulecache.IsNil(cur) {
			at := seg
			if i > 0 {
				at = segs[i-1]
			}
			return nil, &AttributeError{Entity: typeName(entity), Path: path, Segment: at, Err: ErrNilAttribute}
		}
		next, err := lookup(cur, seg)
		if err != nil {
			return nil, &AttributeError{Entity: typeName(entity), Path: path, Segment: seg, Err: err}
		}
		cur = next
	}
	return cur, nil
}

func lookup(cur any, name string) (any, error) {
	if a, ok := cur.(Attributer); ok {
		v, ok := a.Attr(name)
		if !ok {
			return nil, ErrMissingAttribute
		}
		return v, nil
	}

	orig := reflect.ValueOf(cur)
	rv := orig
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, ErrNilAttribute
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrMissingAttribute
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, ErrMissingAttribute
		}
		return v.Interface(), nil
	case reflect.Struct:
		if f, ok := fieldByAttr(rv.Type(), name); ok {
			return rv.FieldByIndex(f.Index).Interface(), nil
		}
	}

	if m, ok := methodByAttr(orig, name); ok {
		return callAccessor(context.Background(), m)
	}
	return nil, ErrMissingAttribute
}

func fieldByAttr(t reflect.Type, name string) (reflect.StructField, bool) {
	want := fold(name)
	var loose reflect.StructField
	found := false
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		if tag := f.Tag.Get("cache"); tag == name {
			return f, true
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
			return f, true
		}
		if !found && fold(f.Name) == want {
			loose, found = f, true
		}
	}
	return loose, found
}

func methodByAttr(v reflect.Value, name string) (reflect.Value, bool) {
	if !v.IsValid() {
		return reflect.Value{}, false
	}
	want := fold(name)
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if fold(m.Name) == want {
			return v.Method(i), true
		}
	}
	return reflect.Value{}, false
}

var (
	errType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// callAccessor invokes a method value shaped func() T, func() (T, error)
// or func(context.Context) (T, error).
func callAccessor(ctx context.Context, m reflect.Value) (any, error) {
	t := m.Type()
	var in []reflect.Value
	switch {
	case t.NumIn() == 0:
	case t.NumIn() == 1 && t.In(0) == ctxType:
		in = []reflect.Value{reflect.ValueOf(ctx)}
	default:
		return nil, fmt.Errorf("%w: accessor %s takes arguments", ErrMissingAttribute, t)
	}
	switch {
	case t.NumOut() == 1:
		return m.Call(in)[0].Interface(), nil
	case t.NumOut() == 2 && t.Out(1) == errType:
		out := m.Call(in)
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
	return nil, fmt.Errorf("%w: accessor %s has unsupported results", ErrMissingAttribute, t)
}

// items flattens a slice or array value.
func items(v any) ([]any, error) {
	if rulecache.IsNil(v) {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, ErrNotCollection
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// render formats a resolved value for use as a key segment.
func render(v any) string {
	if v == nil {
		return NilText
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		if _, ok := rv.Interface().(fmt.Stringer); ok {
			break
		}
		rv = rv.Elem()
	}
	return fmt.Sprint(rv.Interface())
}

func reflectValue(v any) reflect.Value { return reflect.ValueOf(v) }

func fold(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
