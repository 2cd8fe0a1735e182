package gotype

import (
	"reflect"
	"strings"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// TypeData describes a type together with its ordered type arguments, so
// container and reference codecs can resolve element codecs without a live
// value. Slices, arrays and pointers have one argument, maps have two (key
// and element), references have their target. Raw types have none.
type TypeData struct {
	Type reflect.Type
	Args []TypeData
}

// TypeDataOf builds the TypeData for t.
func TypeDataOf(t reflect.Type) TypeData {
	td := TypeData{Type: t}
	if t == nil {
		return td
	}
	if target, ok := refTarget(t); ok {
		td.Args = []TypeData{TypeDataOf(target)}
		return td
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Ptr:
		td.Args = []TypeData{TypeDataOf(t.Elem())}
	case reflect.Map:
		td.Args = []TypeData{TypeDataOf(t.Key()), TypeDataOf(t.Elem())}
	}
	return td
}

// Arg returns the i-th type argument. Missing arguments resolve to the
// unknown element type (any) rather than failing.
func (td TypeData) Arg(i int) TypeData {
	if i < 0 || i >= len(td.Args) {
		return TypeData{Type: anyType}
	}
	return td.Args[i]
}

// IsUnknown reports whether the type is the erased placeholder any.
func (td TypeData) IsUnknown() bool {
	return td.Type == nil || td.Type == anyType
}

// String renders the type with its arguments, e.g. "map[string]int<string, int>".
func (td TypeData) String() string {
	if td.Type == nil {
		return "<nil>"
	}
	if len(td.Args) == 0 {
		return td.Type.String()
	}
	args := make([]string, len(td.Args))
	for i, a := range td.Args {
		args[i] = a.String()
	}
	return td.Type.String() + "<" + strings.Join(args, ", ") + ">"
}

// entityTarget unwraps pointers, containers and references down to the
// struct type they hold.
func entityTarget(t reflect.Type) (reflect.Type, bool) {
	for i := 0; i < 8; i++ {
		if target, ok := refTarget(t); ok {
			t = target
			continue
		}
		switch t.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Array, reflect.Map:
			t = t.Elem()
			continue
		case reflect.Struct:
			return t, true
		}
		return nil, false
	}
	return nil, false
}
