package gotype

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// serializedCodec stores a property as msgpack inside user-defined binary.
type serializedCodec struct {
	typ reflect.Type
}

func (c *serializedCodec) EncoderType() reflect.Type { return c.typ }

func (c *serializedCodec) acceptsWireType(t bsontype.Type) bool { return t == bsontype.Binary }

func (c *serializedCodec) EncodeValue(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	b, err := msgpack.Marshal(val.Interface())
	if err != nil {
		return fmt.Errorf("serializing %s: %w", c.typ, err)
	}
	return vw.WriteBinaryWithSubtype(b, bsontype.BinaryUserDefined)
}

func (c *serializedCodec) DecodeValue(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	b, subtype, err := vr.ReadBinary()
	if err != nil {
		return err
	}
	if subtype != bsontype.BinaryUserDefined {
		return fmt.Errorf("serialized %s stored with binary subtype %d", c.typ, subtype)
	}
	out := reflect.New(c.typ)
	if err := msgpack.Unmarshal(b, out.Interface()); err != nil {
		return fmt.Errorf("deserializing %s: %w", c.typ, err)
	}
	val.Set(out.Elem())
	return nil
}
