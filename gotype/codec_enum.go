package gotype

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// enumCodec stores enum constants by name.
type enumCodec struct {
	typ    reflect.Type
	names  map[any]string
	values map[string]reflect.Value
}

// RegisterEnum declares the constants of an enum type. Each constant is
// stored under the name returned by its DocumentName method, else its
// String method, else its fmt.Sprint form. Registration must happen before
// the type, or any slice, map, pointer or struct containing it, is first
// encoded or decoded; a later registration fails with a
// CodecConfigurationError.
//
// Example usage:
//
//	err := gotype.RegisterEnum(mapper, GenreFiction, GenrePoetry)
func RegisterEnum[T comparable](m *Mapper, values ...T) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if len(values) == 0 {
		return fmt.Errorf("enum %s: no constants", t)
	}
	if user, resolved := m.codecs.resolvedUsing(t); resolved {
		reason := "enum registered after its codec was resolved"
		if user != t {
			reason = fmt.Sprintf("enum registered after the codec for %s was resolved", user)
		}
		return &CodecConfigurationError{TypeName: t.String(), Reason: reason}
	}

	c := &enumCodec{typ: t, names: make(map[any]string), values: make(map[string]reflect.Value)}
	for _, v := range values {
		name := enumName(v)
		if _, dup := c.values[name]; dup {
			return fmt.Errorf("enum %s: duplicate name %q", t, name)
		}
		c.names[v] = name
		c.values[name] = reflect.ValueOf(v)
	}
	if _, loaded := m.enums.LoadOrStore(t, c); loaded {
		return fmt.Errorf("enum %s is already registered", t)
	}

	m.conversions.Register(t, stringType, func(v reflect.Value) (reflect.Value, error) {
		name, err := c.name(v)
		return reflect.ValueOf(name), err
	})
	m.conversions.Register(stringType, t, func(v reflect.Value) (reflect.Value, error) {
		return c.value(v.String())
	})
	return nil
}

func enumName(v any) string {
	switch e := v.(type) {
	case EnumNamer:
		return e.DocumentName()
	case fmt.Stringer:
		return e.String()
	}
	return fmt.Sprint(v)
}

func (c *enumCodec) name(v reflect.Value) (string, error) {
	name, ok := c.names[v.Interface()]
	if !ok {
		return "", fmt.Errorf("%v is not a registered constant of %s", v.Interface(), c.typ)
	}
	return name, nil
}

func (c *enumCodec) value(name string) (reflect.Value, error) {
	v, ok := c.values[name]
	if !ok {
		return reflect.Value{}, &MappingError{
			TypeName: c.typ.String(),
			Cause:    fmt.Errorf("unknown constant %q", name),
		}
	}
	return v, nil
}

func (c *enumCodec) EncoderType() reflect.Type { return c.typ }

func (c *enumCodec) acceptsWireType(t bsontype.Type) bool { return t == bsontype.String }

func (c *enumCodec) EncodeValue(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	name, err := c.name(val)
	if err != nil {
		return err
	}
	return vw.WriteString(name)
}

func (c *enumCodec) DecodeValue(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	switch vr.Type() {
	case bsontype.Null:
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	case bsontype.String:
	default:
		return wireTypeError(c.typ, vr.Type())
	}
	name, err := vr.ReadString()
	if err != nil {
		return err
	}
	v, err := c.value(name)
	if err != nil {
		return err
	}
	val.Set(v)
	return nil
}

func (m *Mapper) enumProvider(td TypeData, _ CodecLookup) (Codec, error) {
	if c, ok := m.enums.Load(td.Type); ok {
		return c.(*enumCodec), nil
	}
	return nil, nil
}
