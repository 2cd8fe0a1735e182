package gotype

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// objectCodec handles interface-typed values. Encoding dispatches on the
// runtime type. Decoding picks the concrete type from the discriminator of
// a document, or from the wire type of any other value.
type objectCodec struct {
	mapper *Mapper
	typ    reflect.Type
}

func (m *Mapper) objectProvider(td TypeData, _ CodecLookup) (Codec, error) {
	if td.Type.Kind() != reflect.Interface {
		return nil, nil
	}
	return &objectCodec{mapper: m, typ: td.Type}, nil
}

// wireDefaults maps wire types to the Go type they decode to when the
// declared type does not say.
var wireDefaults = map[bsontype.Type]reflect.Type{
	bsontype.Double:        reflect.TypeOf(float64(0)),
	bsontype.String:        stringType,
	bsontype.ObjectID:      objectIDType,
	bsontype.Boolean:       reflect.TypeOf(false),
	bsontype.DateTime:      timeType,
	bsontype.Int32:         reflect.TypeOf(int32(0)),
	bsontype.Int64:         int64Type,
	bsontype.Regex:         reflect.TypeOf(primitive.Regex{}),
	bsontype.Decimal128:    reflect.TypeOf(primitive.Decimal128{}),
	bsontype.Timestamp:     reflect.TypeOf(primitive.Timestamp{}),
	bsontype.JavaScript:    reflect.TypeOf(primitive.JavaScript("")),
	bsontype.Symbol:        reflect.TypeOf(primitive.Symbol("")),
	bsontype.CodeWithScope: reflect.TypeOf(primitive.CodeWithScope{}),
	bsontype.DBPointer:     reflect.TypeOf(primitive.DBPointer{}),
	bsontype.MinKey:        reflect.TypeOf(primitive.MinKey{}),
	bsontype.MaxKey:        reflect.TypeOf(primitive.MaxKey{}),
	bsontype.Undefined:     reflect.TypeOf(primitive.Undefined{}),
}

func (c *objectCodec) EncoderType() reflect.Type { return c.typ }

func (c *objectCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if val.IsNil() {
		return vw.WriteNull()
	}
	ec.Polymorphic = true
	return ec.encode(vw, val.Elem())
}

func (c *objectCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	var (
		out reflect.Value
		err error
	)
	switch wireType(vr) {
	case bsontype.Null:
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	case bsontype.EmbeddedDocument:
		out, err = c.decodeDocument(dc, vr)
	case bsontype.Array:
		out, err = c.decodeArray(dc, vr)
	case bsontype.Binary:
		out, err = decodeBinary(vr)
	default:
		t, ok := wireDefaults[vr.Type()]
		if !ok {
			return fmt.Errorf("no default type for %s", vr.Type())
		}
		out = reflect.New(t).Elem()
		codec, lerr := c.mapper.codecs.Lookup(t)
		if lerr != nil {
			return lerr
		}
		err = codec.DecodeValue(dc, vr, out)
	}
	if err != nil {
		return err
	}
	if !out.Type().AssignableTo(c.typ) {
		return &MappingError{
			TypeName: c.typ.String(),
			Cause:    fmt.Errorf("decoded %s does not implement %s", out.Type(), c.typ),
		}
	}
	val.Set(out)
	return nil
}

// decodeDocument copies the document so its discriminator can be read
// before decoding it. The reader is left after the document, as after any
// other read.
func (c *objectCodec) decodeDocument(dc DecodeContext, vr bsonrw.ValueReader) (reflect.Value, error) {
	raw, err := bsonrw.Copier{}.CopyDocumentToBytes(vr)
	if err != nil {
		return reflect.Value{}, err
	}
	doc := bson.Raw(raw)

	model, value, found := c.mapper.discriminatorOf(doc)
	if !found {
		if c.typ.NumMethod() > 0 {
			return reflect.Value{}, &MappingError{
				TypeName: c.typ.String(),
				Cause:    fmt.Errorf("document has no discriminator"),
			}
		}
		return decodeInto(dc, c.mapper, documentDType, doc)
	}
	if model == nil {
		if c.typ.NumMethod() > 0 {
			return reflect.Value{}, &MappingError{
				TypeName: c.typ.String(),
				Cause:    &NotRegisteredError{TypeName: value},
			}
		}
		return decodeInto(dc, c.mapper, documentDType, doc)
	}

	target := model.Type
	if !target.Implements(c.typ) {
		target = reflect.PointerTo(model.Type)
		if !target.Implements(c.typ) {
			return reflect.Value{}, &MappingError{
				TypeName: c.typ.String(),
				Cause:    fmt.Errorf("discriminator %q names %s, which does not implement %s", value, model.Type, c.typ),
			}
		}
	}
	return decodeInto(dc.nested(), c.mapper, target, doc)
}

func (c *objectCodec) decodeArray(dc DecodeContext, vr bsonrw.ValueReader) (reflect.Value, error) {
	out := []any{}
	err := decodeElements(vr, func(_ int, evr bsonrw.ValueReader) error {
		v, err := decodeAny(dc, evr)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(out), nil
}

// decodeBinary maps UUID subtypes to uuid.UUID and generic binary to
// []byte. Other subtypes keep their subtype in primitive.Binary.
func decodeBinary(vr bsonrw.ValueReader) (reflect.Value, error) {
	b, subtype, err := vr.ReadBinary()
	if err != nil {
		return reflect.Value{}, err
	}
	switch {
	case subtype == bsontype.BinaryUUID && len(b) == 16:
		u, err := uuid.FromBytes(b)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(u), nil
	case subtype == bsontype.BinaryGeneric:
		return reflect.ValueOf(append([]byte{}, b...)), nil
	}
	return reflect.ValueOf(primitive.Binary{Subtype: subtype, Data: append([]byte{}, b...)}), nil
}

// decodeInto decodes a copied document into a new value of type t.
func decodeInto(dc DecodeContext, m *Mapper, t reflect.Type, doc bson.Raw) (reflect.Value, error) {
	codec, err := m.codecs.Lookup(t)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t).Elem()
	if err := codec.DecodeValue(dc, bsonrw.NewBSONDocumentReader(doc), out); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

// decodeAny decodes the value under vr into its default Go representation.
func decodeAny(dc DecodeContext, vr bsonrw.ValueReader) (any, error) {
	var out any
	c := &objectCodec{mapper: dc.mapper, typ: anyType}
	if err := c.DecodeValue(dc, vr, reflect.ValueOf(&out).Elem()); err != nil {
		return nil, err
	}
	return out, nil
}

// discriminatorOf finds the discriminator of doc under any key in use. It
// returns the discriminator value and its model, which is nil when the
// value is not registered.
func (m *Mapper) discriminatorOf(doc bson.Raw) (*EntityModel, string, bool) {
	for _, key := range m.discriminatorKeys() {
		rv, err := doc.LookupErr(key)
		if err != nil {
			continue
		}
		value, ok := rv.StringValueOK()
		if !ok {
			continue
		}
		if model, ok := m.Lookup(value); ok && model.DiscriminatorKey == key {
			return model, value, true
		}
		if key == m.opts.DiscriminatorKey {
			return nil, value, true
		}
	}
	return nil, "", false
}
