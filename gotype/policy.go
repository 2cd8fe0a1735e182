package gotype

import "reflect"

// SerializationPolicy decides whether a property value is written when its
// entity is encoded.
type SerializationPolicy func(p *PropertyModel, v reflect.Value, opts Options) bool

// DefaultPolicy skips load-only properties, read-only properties when
// IgnoreFinals is set, nil values unless StoreNulls is set and empty slices
// and maps unless StoreEmpties is set.
func DefaultPolicy(p *PropertyModel, v reflect.Value, opts Options) bool {
	switch {
	case p.LoadOnly:
		return false
	case p.ReadOnly && opts.IgnoreFinals:
		return false
	case isNilValue(v):
		return opts.StoreNulls
	case isEmptyContainer(v):
		return opts.StoreEmpties
	}
	return true
}

type zeroChecker interface {
	IsZero() bool
}

func isNilValue(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	if _, ok := refTarget(v.Type()); ok {
		return v.Interface().(zeroChecker).IsZero()
	}
	return false
}

func isEmptyContainer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	}
	return false
}
