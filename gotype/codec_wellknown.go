package gotype

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/language"
)

// funcCodec is a codec assembled from an encode and a decode function.
// Nulls decode to the zero value before decode is called.
type funcCodec struct {
	typ    reflect.Type
	wire   []bsontype.Type
	encode func(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error
	decode func(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error
}

func (c *funcCodec) EncoderType() reflect.Type { return c.typ }

func (c *funcCodec) acceptsWireType(t bsontype.Type) bool {
	if len(c.wire) == 0 {
		return true
	}
	for _, w := range c.wire {
		if w == t {
			return true
		}
	}
	return false
}

func (c *funcCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	return c.encode(ec, vw, val)
}

func (c *funcCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	if !c.acceptsWireType(wireType(vr)) {
		return wireTypeError(c.typ, vr.Type())
	}
	return c.decode(dc, vr, val)
}

// wellKnownProvider serves a fixed table of standard library, ecosystem
// and driver types.
type wellKnownProvider struct {
	codecs map[reflect.Type]Codec
}

func newWellKnownProvider() *wellKnownProvider {
	p := &wellKnownProvider{codecs: make(map[reflect.Type]Codec)}
	for _, c := range []*funcCodec{
		bytesCodec(),
		timeCodec(),
		durationCodec(),
		regexpCodec(),
		uuidCodec(),
		urlCodec(),
		languageCodec(),
		bitsetCodec(),
		typeCodec(),
		documentCodec(),
	} {
		p.codecs[c.typ] = c
	}
	for t, wire := range driverTypes {
		p.codecs[t] = &driverCodec{typ: t, wire: wire}
	}
	return p
}

func (p *wellKnownProvider) Codec(td TypeData, _ CodecLookup) (Codec, error) {
	if c, ok := p.codecs[td.Type]; ok {
		return c, nil
	}
	return nil, nil
}

var bytesType = reflect.TypeOf([]byte(nil))

func bytesCodec() *funcCodec {
	return &funcCodec{
		typ:  bytesType,
		wire: []bsontype.Type{bsontype.Binary},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			if val.IsNil() {
				return vw.WriteNull()
			}
			return vw.WriteBinary(val.Bytes())
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			b, _, err := vr.ReadBinary()
			if err != nil {
				return err
			}
			val.SetBytes(append([]byte{}, b...))
			return nil
		},
	}
}

func timeCodec() *funcCodec {
	return &funcCodec{
		typ:  timeType,
		wire: []bsontype.Type{bsontype.DateTime},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			return vw.WriteDateTime(val.Interface().(time.Time).UnixMilli())
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			ms, err := vr.ReadDateTime()
			if err != nil {
				return err
			}
			val.Set(reflect.ValueOf(time.UnixMilli(ms).UTC()))
			return nil
		},
	}
}

func durationCodec() *funcCodec {
	return &funcCodec{
		typ:  reflect.TypeOf(time.Duration(0)),
		wire: []bsontype.Type{bsontype.Int64, bsontype.Int32},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			return vw.WriteInt64(val.Int())
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			if vr.Type() == bsontype.Int32 {
				i, err := vr.ReadInt32()
				val.SetInt(int64(i))
				return err
			}
			i, err := vr.ReadInt64()
			val.SetInt(i)
			return err
		},
	}
}

// regexFlags are the flags shared by Go regexps and stored regexes.
const regexFlags = "ims"

func regexpCodec() *funcCodec {
	return &funcCodec{
		typ:  reflect.TypeOf((*regexp.Regexp)(nil)),
		wire: []bsontype.Type{bsontype.Regex},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			if val.IsNil() {
				return vw.WriteNull()
			}
			pattern, options := splitRegexFlags(val.Interface().(*regexp.Regexp).String())
			return vw.WriteRegex(pattern, options)
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			pattern, options, err := vr.ReadRegex()
			if err != nil {
				return err
			}
			var flags strings.Builder
			for _, f := range options {
				if strings.ContainsRune(regexFlags, f) {
					flags.WriteRune(f)
				}
			}
			if flags.Len() > 0 {
				pattern = "(?" + flags.String() + ")" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return err
			}
			val.Set(reflect.ValueOf(re))
			return nil
		},
	}
}

// splitRegexFlags moves a leading (?flags) group into stored options.
// e.g. "(?i)^ada" → ("^ada", "i")
func splitRegexFlags(expr string) (string, string) {
	if !strings.HasPrefix(expr, "(?") {
		return expr, ""
	}
	end := strings.IndexByte(expr, ')')
	if end < 0 {
		return expr, ""
	}
	flags := expr[2:end]
	if flags == "" || strings.Trim(flags, regexFlags) != "" {
		return expr, ""
	}
	return expr[end+1:], flags
}

func uuidCodec() *funcCodec {
	return &funcCodec{
		typ:  uuidType,
		wire: []bsontype.Type{bsontype.Binary, bsontype.String},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			u := val.Interface().(uuid.UUID)
			return vw.WriteBinaryWithSubtype(u[:], bsontype.BinaryUUID)
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			if vr.Type() == bsontype.String {
				s, err := vr.ReadString()
				if err != nil {
					return err
				}
				u, err := uuid.Parse(s)
				if err != nil {
					return err
				}
				val.Set(reflect.ValueOf(u))
				return nil
			}
			b, subtype, err := vr.ReadBinary()
			if err != nil {
				return err
			}
			if subtype != bsontype.BinaryUUID && subtype != bsontype.BinaryUUIDOld {
				return fmt.Errorf("binary subtype %d is not a UUID", subtype)
			}
			u, err := uuid.FromBytes(b)
			if err != nil {
				return err
			}
			val.Set(reflect.ValueOf(u))
			return nil
		},
	}
}

func urlCodec() *funcCodec {
	return &funcCodec{
		typ:  reflect.TypeOf(url.URL{}),
		wire: []bsontype.Type{bsontype.String},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			u := val.Interface().(url.URL)
			return vw.WriteString(u.String())
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			s, err := vr.ReadString()
			if err != nil {
				return err
			}
			u, err := url.Parse(s)
			if err != nil {
				return err
			}
			val.Set(reflect.ValueOf(*u))
			return nil
		},
	}
}

func languageCodec() *funcCodec {
	return &funcCodec{
		typ:  reflect.TypeOf(language.Tag{}),
		wire: []bsontype.Type{bsontype.String},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			return vw.WriteString(val.Interface().(language.Tag).String())
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			s, err := vr.ReadString()
			if err != nil {
				return err
			}
			tag, err := language.Parse(s)
			if err != nil {
				return err
			}
			val.Set(reflect.ValueOf(tag))
			return nil
		},
	}
}

// bitsetCodec stores a bit set as {len, words}: its length in bits and its
// array of 64-bit words. The length survives the trip so Equal holds after
// a decode.
func bitsetCodec() *funcCodec {
	return &funcCodec{
		typ:  reflect.TypeOf(bitset.BitSet{}),
		wire: []bsontype.Type{bsontype.EmbeddedDocument},
		encode: func(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			b := val.Interface().(bitset.BitSet)
			dw, err := vw.WriteDocument()
			if err != nil {
				return err
			}
			ew, err := dw.WriteDocumentElement("len")
			if err != nil {
				return err
			}
			if err := ew.WriteInt64(int64(b.Len())); err != nil {
				return err
			}
			ew, err = dw.WriteDocumentElement("words")
			if err != nil {
				return err
			}
			aw, err := ew.WriteArray()
			if err != nil {
				return err
			}
			for _, w := range b.Bytes() {
				ew, err := aw.WriteArrayElement()
				if err != nil {
					return err
				}
				if err := ew.WriteInt64(int64(w)); err != nil {
					return err
				}
			}
			if err := aw.WriteArrayEnd(); err != nil {
				return err
			}
			return dw.WriteDocumentEnd()
		},
		decode: func(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			dr, err := vr.ReadDocument()
			if err != nil {
				return err
			}
			var (
				length int64
				words  []uint64
			)
			for {
				key, evr, err := dr.ReadElement()
				if err == bsonrw.ErrEOD {
					break
				}
				if err != nil {
					return err
				}
				switch key {
				case "len":
					if length, err = evr.ReadInt64(); err != nil {
						return err
					}
				case "words":
					if words, err = readBitsetWords(evr); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unexpected bit set field %q", key)
				}
			}
			if length < 0 || uint64(length) > uint64(len(words))*64 {
				return fmt.Errorf("bit set length %d does not fit %d words", length, len(words))
			}
			val.Set(reflect.ValueOf(*bitset.FromWithLength(uint(length), words)))
			return nil
		},
	}
}

func readBitsetWords(vr bsonrw.ValueReader) ([]uint64, error) {
	ar, err := vr.ReadArray()
	if err != nil {
		return nil, err
	}
	var words []uint64
	for {
		evr, err := ar.ReadValue()
		if err == bsonrw.ErrEOA {
			return words, nil
		}
		if err != nil {
			return nil, err
		}
		w, err := evr.ReadInt64()
		if err != nil {
			return nil, err
		}
		words = append(words, uint64(w))
	}
}

var (
	reflectTypeType = reflect.TypeOf((*reflect.Type)(nil)).Elem()

	builtinTypes = func() map[string]reflect.Type {
		m := make(map[string]reflect.Type)
		for _, v := range []any{
			false, "", 0, int8(0), int16(0), int32(0), int64(0),
			uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
			float32(0), float64(0), []byte(nil), time.Time{}, time.Duration(0),
			uuid.UUID{}, primitive.ObjectID{},
		} {
			t := reflect.TypeOf(v)
			m[t.String()] = t
		}
		return m
	}()
)

// typeCodec stores a reflect.Type as the discriminator of its model, or as
// the name of a builtin type.
func typeCodec() *funcCodec {
	return &funcCodec{
		typ:  reflectTypeType,
		wire: []bsontype.Type{bsontype.String},
		encode: func(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			if val.IsNil() {
				return vw.WriteNull()
			}
			t := val.Interface().(reflect.Type)
			if _, ok := builtinTypes[t.String()]; ok {
				return vw.WriteString(t.String())
			}
			if t.Kind() == reflect.Struct {
				model, err := ec.mapper.Model(t)
				if err != nil {
					return err
				}
				return vw.WriteString(model.Discriminator)
			}
			return fmt.Errorf("type %s has no stored name", t)
		},
		decode: func(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			name, err := vr.ReadString()
			if err != nil {
				return err
			}
			if model, ok := dc.mapper.Lookup(name); ok {
				val.Set(reflect.ValueOf(model.Type))
				return nil
			}
			if t, ok := builtinTypes[name]; ok {
				val.Set(reflect.ValueOf(t))
				return nil
			}
			return &NotRegisteredError{TypeName: name}
		},
	}
}

var documentDType = reflect.TypeOf(bson.D{})

// documentCodec keeps element order; values go through the object codec.
func documentCodec() *funcCodec {
	return &funcCodec{
		typ:  documentDType,
		wire: []bsontype.Type{bsontype.EmbeddedDocument},
		encode: func(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			if val.IsNil() {
				return vw.WriteNull()
			}
			dw, err := vw.WriteDocument()
			if err != nil {
				return err
			}
			for _, e := range val.Interface().(bson.D) {
				evw, err := dw.WriteDocumentElement(e.Key)
				if err != nil {
					return err
				}
				if err := ec.EncodeAny(evw, e.Value); err != nil {
					return fmt.Errorf("element %q: %w", e.Key, err)
				}
			}
			return dw.WriteDocumentEnd()
		},
		decode: func(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			dr, err := vr.ReadDocument()
			if err != nil {
				return err
			}
			d := bson.D{}
			for {
				key, evr, err := dr.ReadElement()
				if err == bsonrw.ErrEOD {
					break
				}
				if err != nil {
					return err
				}
				v, err := decodeAny(dc, evr)
				if err != nil {
					return fmt.Errorf("element %q: %w", key, err)
				}
				d = append(d, bson.E{Key: key, Value: v})
			}
			val.Set(reflect.ValueOf(d))
			return nil
		},
	}
}

// driverTypes are delegated to the driver's default registry, with the
// wire types they accept (nil accepts any).
var driverTypes = func() map[reflect.Type][]bsontype.Type {
	m := make(map[reflect.Type][]bsontype.Type)
	m[objectIDType] = []bsontype.Type{bsontype.ObjectID}
	m[reflect.TypeOf(primitive.Decimal128{})] = []bsontype.Type{bsontype.Decimal128}
	m[reflect.TypeOf(primitive.DateTime(0))] = []bsontype.Type{bsontype.DateTime}
	m[reflect.TypeOf(primitive.Timestamp{})] = []bsontype.Type{bsontype.Timestamp}
	m[reflect.TypeOf(primitive.Binary{})] = []bsontype.Type{bsontype.Binary}
	m[reflect.TypeOf(primitive.Regex{})] = []bsontype.Type{bsontype.Regex}
	m[reflect.TypeOf(primitive.JavaScript(""))] = []bsontype.Type{bsontype.JavaScript}
	m[reflect.TypeOf(primitive.Symbol(""))] = []bsontype.Type{bsontype.Symbol}
	m[reflect.TypeOf(primitive.CodeWithScope{})] = []bsontype.Type{bsontype.CodeWithScope}
	m[reflect.TypeOf(primitive.DBPointer{})] = []bsontype.Type{bsontype.DBPointer}
	m[reflect.TypeOf(primitive.MinKey{})] = []bsontype.Type{bsontype.MinKey}
	m[reflect.TypeOf(primitive.MaxKey{})] = []bsontype.Type{bsontype.MaxKey}
	m[reflect.TypeOf(primitive.Undefined{})] = []bsontype.Type{bsontype.Undefined}
	m[reflect.TypeOf(primitive.Null{})] = nil
	m[reflect.TypeOf(bson.Raw(nil))] = nil
	m[reflect.TypeOf(bson.RawValue{})] = nil
	return m
}()

// driverCodec delegates to the driver's default registry.
type driverCodec struct {
	typ  reflect.Type
	wire []bsontype.Type
}

func (c *driverCodec) EncoderType() reflect.Type { return c.typ }

func (c *driverCodec) acceptsWireType(t bsontype.Type) bool {
	if c.wire == nil {
		return true
	}
	for _, w := range c.wire {
		if w == t {
			return true
		}
	}
	return false
}

func (c *driverCodec) EncodeValue(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	enc, err := bson.DefaultRegistry.LookupEncoder(c.typ)
	if err != nil {
		return err
	}
	return enc.EncodeValue(bsoncodec.EncodeContext{Registry: bson.DefaultRegistry}, vw, val)
}

func (c *driverCodec) DecodeValue(_ DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null && c.wire != nil {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	dec, err := bson.DefaultRegistry.LookupDecoder(c.typ)
	if err != nil {
		return err
	}
	return dec.DecodeValue(bsoncodec.DecodeContext{Registry: bson.DefaultRegistry}, vr, val)
}
