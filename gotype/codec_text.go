package gotype

import (
	"encoding"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// textCodec stores types implementing encoding.TextMarshaler as strings and
// rebuilds them through UnmarshalText.
type textCodec struct {
	typ reflect.Type
}

func textProvider(td TypeData, _ CodecLookup) (Codec, error) {
	t := td.Type
	if t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerTyp) {
		return &textCodec{typ: t}, nil
	}
	return nil, nil
}

func (c *textCodec) EncoderType() reflect.Type { return c.typ }

func (c *textCodec) acceptsWireType(t bsontype.Type) bool { return t == bsontype.String }

func (c *textCodec) EncodeValue(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	b, err := val.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return err
	}
	return vw.WriteString(string(b))
}

func (c *textCodec) DecodeValue(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	switch vr.Type() {
	case bsontype.Null:
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	case bsontype.String:
	default:
		return wireTypeError(c.typ, vr.Type())
	}
	s, err := vr.ReadString()
	if err != nil {
		return err
	}
	out := reflect.New(c.typ)
	if err := out.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
		return err
	}
	val.Set(out.Elem())
	return nil
}
