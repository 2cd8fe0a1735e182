package gotype

import (
	"fmt"
	"reflect"
)

// PropertyAccessor reads and writes one property on an instance. The
// instance passed to Set must be addressable.
type PropertyAccessor interface {
	Get(instance reflect.Value) (reflect.Value, error)
	Set(instance reflect.Value, v reflect.Value) error
}

// fieldAccessor reaches a field through an index path, walking embedded
// structs and embedded pointers.
type fieldAccessor struct {
	index []int
	typ   reflect.Type
}

func (a fieldAccessor) Get(instance reflect.Value) (reflect.Value, error) {
	v := instance
	for _, i := range a.index[:len(a.index)-1] {
		v = v.Field(i)
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Zero(a.typ), nil
			}
			v = v.Elem()
		}
	}
	return v.Field(a.index[len(a.index)-1]), nil
}

func (a fieldAccessor) Set(instance reflect.Value, v reflect.Value) error {
	f := instance
	for _, i := range a.index[:len(a.index)-1] {
		f = f.Field(i)
		if f.Kind() == reflect.Ptr {
			if f.IsNil() {
				if !f.CanSet() {
					return fmt.Errorf("cannot allocate embedded %s", f.Type())
				}
				f.Set(reflect.New(f.Type().Elem()))
			}
			f = f.Elem()
		}
	}
	f = f.Field(a.index[len(a.index)-1])
	if !f.CanSet() {
		return fmt.Errorf("field of type %s is not settable", a.typ)
	}
	f.Set(v)
	return nil
}

// methodAccessor uses a getter X() and a setter SetX(v) pair, for
// properties backed by unexported fields.
type methodAccessor struct {
	getter string
	setter string
	typ    reflect.Type
}

func newMethodAccessor(owner reflect.Type, name string) (methodAccessor, error) {
	ptr := reflect.PointerTo(owner)
	get, ok := ptr.MethodByName(name)
	if !ok {
		return methodAccessor{}, fmt.Errorf("accessor %s: no method %s on %s", name, name, owner)
	}
	if get.Type.NumIn() != 1 || get.Type.NumOut() != 1 {
		return methodAccessor{}, fmt.Errorf("accessor %s: %s must take no arguments and return one value", name, name)
	}
	typ := get.Type.Out(0)
	set, ok := ptr.MethodByName("Set" + name)
	if !ok {
		return methodAccessor{}, fmt.Errorf("accessor %s: no method Set%s on %s", name, name, owner)
	}
	if set.Type.NumIn() != 2 || set.Type.In(1) != typ {
		return methodAccessor{}, fmt.Errorf("accessor %s: Set%s must take one %s", name, name, typ)
	}
	return methodAccessor{getter: name, setter: "Set" + name, typ: typ}, nil
}

func (a methodAccessor) Get(instance reflect.Value) (reflect.Value, error) {
	m := instance.MethodByName(a.getter)
	if !m.IsValid() && instance.CanAddr() {
		m = instance.Addr().MethodByName(a.getter)
	}
	if !m.IsValid() {
		return reflect.Value{}, fmt.Errorf("getter %s not callable on %s", a.getter, instance.Type())
	}
	return m.Call(nil)[0], nil
}

func (a methodAccessor) Set(instance reflect.Value, v reflect.Value) error {
	if !instance.CanAddr() {
		return fmt.Errorf("setter %s needs an addressable %s", a.setter, instance.Type())
	}
	instance.Addr().MethodByName(a.setter).Call([]reflect.Value{v})
	return nil
}
