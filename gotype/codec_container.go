package gotype

import (
	"fmt"
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// --- Pointers ---

type pointerCodec struct {
	typ  reflect.Type
	elem Codec
}

func pointerProvider(td TypeData, lookup CodecLookup) (Codec, error) {
	if td.Type.Kind() != reflect.Ptr {
		return nil, nil
	}
	elem, err := lookup.Lookup(td.Type.Elem())
	if err != nil {
		return nil, err
	}
	return &pointerCodec{typ: td.Type, elem: elem}, nil
}

func (c *pointerCodec) EncoderType() reflect.Type { return c.typ }

func (c *pointerCodec) acceptsWireType(t bsontype.Type) bool { return accepts(c.elem, t) }

func (c *pointerCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if val.IsNil() {
		return vw.WriteNull()
	}
	leave, err := ec.enter(val)
	if err != nil {
		return err
	}
	defer leave()
	return c.elem.EncodeValue(ec, vw, val.Elem())
}

func (c *pointerCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	if !val.IsNil() {
		return c.elem.DecodeValue(dc, vr, val.Elem())
	}
	p := reflect.New(c.typ.Elem())
	if err := c.elem.DecodeValue(dc.nested(), vr, p.Elem()); err != nil {
		return err
	}
	val.Set(p)
	return nil
}

// --- Collections ---

type containerProvider struct {
	conversions *Conversions
	primitives  map[reflect.Type]Codec
}

func newContainerProvider(conversions *Conversions) *containerProvider {
	p := &containerProvider{conversions: conversions, primitives: make(map[reflect.Type]Codec)}
	for _, c := range []Codec{
		newPrimitiveSliceCodec(func(vw bsonrw.ValueWriter, s string) error { return vw.WriteString(s) }),
		newPrimitiveSliceCodec(func(vw bsonrw.ValueWriter, b bool) error { return vw.WriteBoolean(b) }),
		newPrimitiveSliceCodec(writeInt),
		newPrimitiveSliceCodec(func(vw bsonrw.ValueWriter, i int32) error { return vw.WriteInt32(i) }),
		newPrimitiveSliceCodec(func(vw bsonrw.ValueWriter, i int64) error { return vw.WriteInt64(i) }),
		newPrimitiveSliceCodec(func(vw bsonrw.ValueWriter, f float64) error { return vw.WriteDouble(f) }),
	} {
		p.primitives[c.EncoderType()] = c
	}
	return p
}

func (p *containerProvider) Codec(td TypeData, lookup CodecLookup) (Codec, error) {
	if c, ok := p.primitives[td.Type]; ok {
		return c, nil
	}
	t := td.Type
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		elem, err := lookup.Lookup(td.Arg(0).Type)
		if err != nil {
			return nil, err
		}
		if t.Kind() == reflect.Array {
			return &arrayCodec{typ: t, elem: elem}, nil
		}
		return &sliceCodec{typ: t, elem: elem}, nil
	case reflect.Map:
		key := td.Arg(0).Type
		if key.Kind() != reflect.String &&
			!(p.conversions.Has(key, stringType) && p.conversions.Has(stringType, key)) {
			return nil, &CodecConfigurationError{
				TypeName: t.String(),
				Reason:   fmt.Sprintf("map key type %s cannot be converted to and from string", key),
			}
		}
		elem, err := lookup.Lookup(td.Arg(1).Type)
		if err != nil {
			return nil, err
		}
		return &mapCodec{typ: t, elem: elem, conversions: p.conversions}, nil
	}
	return nil, nil
}

// decodeElements calls each for every element of an array. Any other wire
// value is treated as a one-element array.
func decodeElements(vr bsonrw.ValueReader, each func(i int, evr bsonrw.ValueReader) error) error {
	if vr.Type() != bsontype.Array {
		return each(0, vr)
	}
	ar, err := vr.ReadArray()
	if err != nil {
		return err
	}
	for i := 0; ; i++ {
		evr, err := ar.ReadValue()
		if err == bsonrw.ErrEOA {
			return nil
		}
		if err != nil {
			return err
		}
		if err := each(i, evr); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
}

func encodeElements(vw bsonrw.ValueWriter, n int, each func(i int, evw bsonrw.ValueWriter) error) error {
	aw, err := vw.WriteArray()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		evw, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := each(i, evw); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return aw.WriteArrayEnd()
}

type sliceCodec struct {
	typ  reflect.Type
	elem Codec
}

func (c *sliceCodec) EncoderType() reflect.Type { return c.typ }

func (c *sliceCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if val.IsNil() {
		return vw.WriteNull()
	}
	return encodeElements(vw, val.Len(), func(i int, evw bsonrw.ValueWriter) error {
		return c.elem.EncodeValue(ec, evw, val.Index(i))
	})
}

func (c *sliceCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	out := reflect.MakeSlice(c.typ, 0, 0)
	nested := dc.nested()
	err := decodeElements(vr, func(_ int, evr bsonrw.ValueReader) error {
		e := reflect.New(c.typ.Elem()).Elem()
		if err := c.elem.DecodeValue(nested, evr, e); err != nil {
			return err
		}
		out = reflect.Append(out, e)
		return nil
	})
	if err != nil {
		return err
	}
	val.Set(out)
	return nil
}

type arrayCodec struct {
	typ  reflect.Type
	elem Codec
}

func (c *arrayCodec) EncoderType() reflect.Type { return c.typ }

func (c *arrayCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	return encodeElements(vw, val.Len(), func(i int, evw bsonrw.ValueWriter) error {
		return c.elem.EncodeValue(ec, evw, val.Index(i))
	})
}

func (c *arrayCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	out := reflect.New(c.typ).Elem()
	if vr.Type() == bsontype.Null {
		val.Set(out)
		return vr.ReadNull()
	}
	nested := dc.nested()
	err := decodeElements(vr, func(i int, evr bsonrw.ValueReader) error {
		if i >= c.typ.Len() {
			return fmt.Errorf("more than %d elements for %s", c.typ.Len(), c.typ)
		}
		return c.elem.DecodeValue(nested, evr, out.Index(i))
	})
	if err != nil {
		return err
	}
	val.Set(out)
	return nil
}

type mapCodec struct {
	typ         reflect.Type
	elem        Codec
	conversions *Conversions
}

func (c *mapCodec) EncoderType() reflect.Type { return c.typ }

func (c *mapCodec) acceptsWireType(t bsontype.Type) bool {
	return t == bsontype.EmbeddedDocument
}

func (c *mapCodec) keyString(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	s, err := c.conversions.Convert(k, stringType)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

func (c *mapCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if val.IsNil() {
		return vw.WriteNull()
	}
	type entry struct {
		name string
		key  reflect.Value
	}
	entries := make([]entry, 0, val.Len())
	for _, k := range val.MapKeys() {
		name, err := c.keyString(k)
		if err != nil {
			return err
		}
		entries = append(entries, entry{name: name, key: k})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	for _, e := range entries {
		evw, err := dw.WriteDocumentElement(e.name)
		if err != nil {
			return err
		}
		if err := c.elem.EncodeValue(ec, evw, val.MapIndex(e.key)); err != nil {
			return fmt.Errorf("key %q: %w", e.name, err)
		}
	}
	return dw.WriteDocumentEnd()
}

func (c *mapCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	if wireType(vr) != bsontype.EmbeddedDocument {
		return wireTypeError(c.typ, vr.Type())
	}
	dr, err := vr.ReadDocument()
	if err != nil {
		return err
	}
	out := reflect.MakeMap(c.typ)
	nested := dc.nested()
	keyType := c.typ.Key()
	for {
		name, evr, err := dr.ReadElement()
		if err == bsonrw.ErrEOD {
			break
		}
		if err != nil {
			return err
		}
		key, err := c.conversions.Convert(reflect.ValueOf(name), keyType)
		if err != nil {
			return fmt.Errorf("key %q: %w", name, err)
		}
		e := reflect.New(c.typ.Elem()).Elem()
		if err := c.elem.DecodeValue(nested, evr, e); err != nil {
			return fmt.Errorf("key %q: %w", name, err)
		}
		out.SetMapIndex(key, e)
	}
	val.Set(out)
	return nil
}

// --- Primitive slices ---

// primitiveSliceCodec encodes slices of a builtin scalar without going
// through reflection per element.
type primitiveSliceCodec[E any] struct {
	typ    reflect.Type
	write  func(vw bsonrw.ValueWriter, e E) error
	scalar *scalarCodec
}

func newPrimitiveSliceCodec[E any](write func(vw bsonrw.ValueWriter, e E) error) *primitiveSliceCodec[E] {
	return &primitiveSliceCodec[E]{
		typ:    reflect.TypeOf([]E(nil)),
		write:  write,
		scalar: &scalarCodec{typ: reflect.TypeOf((*E)(nil)).Elem()},
	}
}

func (c *primitiveSliceCodec[E]) EncoderType() reflect.Type { return c.typ }

func (c *primitiveSliceCodec[E]) EncodeValue(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if val.IsNil() {
		return vw.WriteNull()
	}
	s := val.Interface().([]E)
	return encodeElements(vw, len(s), func(i int, evw bsonrw.ValueWriter) error {
		return c.write(evw, s[i])
	})
}

func (c *primitiveSliceCodec[E]) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	out := []E{}
	err := decodeElements(vr, func(_ int, evr bsonrw.ValueReader) error {
		var e E
		if err := c.scalar.DecodeValue(dc, evr, reflect.ValueOf(&e).Elem()); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return err
	}
	val.Set(reflect.ValueOf(out))
	return nil
}

func writeInt(vw bsonrw.ValueWriter, i int) error {
	if int64(i) >= -1<<31 && int64(i) <= 1<<31-1 {
		return vw.WriteInt32(int32(i))
	}
	return vw.WriteInt64(int64(i))
}
