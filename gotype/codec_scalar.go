package gotype

import (
	"fmt"
	"math"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// scalarCodec handles the primitive kinds, including named types such as
// `type Score int`.
type scalarCodec struct {
	typ reflect.Type
}

func scalarProvider(td TypeData, _ CodecLookup) (Codec, error) {
	switch td.Type.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return &scalarCodec{typ: td.Type}, nil
	}
	return nil, nil
}

func (c *scalarCodec) EncoderType() reflect.Type { return c.typ }

func (c *scalarCodec) acceptsWireType(t bsontype.Type) bool {
	switch c.typ.Kind() {
	case reflect.Bool:
		return t == bsontype.Boolean
	case reflect.String:
		return t == bsontype.String || t == bsontype.Symbol
	default:
		return t == bsontype.Int32 || t == bsontype.Int64 || t == bsontype.Double
	}
}

func (c *scalarCodec) EncodeValue(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	switch val.Kind() {
	case reflect.Bool:
		return vw.WriteBoolean(val.Bool())
	case reflect.String:
		return vw.WriteString(val.String())
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return vw.WriteInt32(int32(val.Int()))
	case reflect.Int:
		i := val.Int()
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return vw.WriteInt32(int32(i))
		}
		return vw.WriteInt64(i)
	case reflect.Int64:
		return vw.WriteInt64(val.Int())
	case reflect.Uint8, reflect.Uint16:
		return vw.WriteInt32(int32(val.Uint()))
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		u := val.Uint()
		if u > math.MaxInt64 {
			return fmt.Errorf("%d overflows the largest stored integer (int64)", u)
		}
		return vw.WriteInt64(int64(u))
	case reflect.Float32, reflect.Float64:
		return vw.WriteDouble(val.Float())
	}
	return fmt.Errorf("scalar codec cannot encode %s", val.Type())
}

func (c *scalarCodec) DecodeValue(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	switch c.typ.Kind() {
	case reflect.Bool:
		if vr.Type() != bsontype.Boolean {
			return wireTypeError(c.typ, vr.Type())
		}
		b, err := vr.ReadBoolean()
		if err != nil {
			return err
		}
		val.SetBool(b)
		return nil
	case reflect.String:
		var (
			s   string
			err error
		)
		switch vr.Type() {
		case bsontype.String:
			s, err = vr.ReadString()
		case bsontype.Symbol:
			s, err = vr.ReadSymbol()
		default:
			return wireTypeError(c.typ, vr.Type())
		}
		if err != nil {
			return err
		}
		val.SetString(s)
		return nil
	}

	switch vr.Type() {
	case bsontype.Int32:
		i, err := vr.ReadInt32()
		if err != nil {
			return err
		}
		return setInt(val, int64(i))
	case bsontype.Int64:
		i, err := vr.ReadInt64()
		if err != nil {
			return err
		}
		return setInt(val, i)
	case bsontype.Double:
		f, err := vr.ReadDouble()
		if err != nil {
			return err
		}
		if val.Kind() == reflect.Float32 || val.Kind() == reflect.Float64 {
			val.SetFloat(f)
			return nil
		}
		if !integralFloat(f) {
			return fmt.Errorf("%g is not representable as %s", f, c.typ)
		}
		return setInt(val, int64(f))
	}
	return wireTypeError(c.typ, vr.Type())
}

func wireTypeError(t reflect.Type, wire bsontype.Type) error {
	return fmt.Errorf("cannot decode %s into %s", wire, t)
}
