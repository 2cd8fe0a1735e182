package gotype

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Codec encodes and decodes values of exactly one Go type.
type Codec interface {
	EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error
	DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error
	EncoderType() reflect.Type
}

// wireTyped is implemented by codecs that only accept some wire types.
// A property whose wire type is not accepted falls back to conversions.
type wireTyped interface {
	acceptsWireType(t bsontype.Type) bool
}

func accepts(c Codec, t bsontype.Type) bool {
	if t == bsontype.Null {
		return true
	}
	if wt, ok := c.(wireTyped); ok {
		return wt.acceptsWireType(t)
	}
	return true
}

// wireType returns the type of the value under vr. The top-level document
// reports no type.
func wireType(vr bsonrw.ValueReader) bsontype.Type {
	if t := vr.Type(); t != 0 {
		return t
	}
	return bsontype.EmbeddedDocument
}

// CodecLookup resolves the codec of a type. Providers receive one to look
// up element codecs.
type CodecLookup interface {
	Lookup(t reflect.Type) (Codec, error)
}

// CodecProvider builds codecs for the types it recognizes. It returns
// (nil, nil) for types it does not handle and an error for types it
// recognizes but cannot support.
type CodecProvider interface {
	Codec(td TypeData, lookup CodecLookup) (Codec, error)
}

// CodecProviderFunc adapts a function to CodecProvider.
type CodecProviderFunc func(td TypeData, lookup CodecLookup) (Codec, error)

// Codec implements CodecProvider.
func (f CodecProviderFunc) Codec(td TypeData, lookup CodecLookup) (Codec, error) {
	return f(td, lookup)
}

// EncodeContext carries per-call encoding state.
type EncodeContext struct {
	mapper *Mapper
	// Polymorphic is set while encoding a value whose declared type is an
	// interface, so entity codecs write their discriminator.
	Polymorphic bool
	path        *encodePath
}

type pathKey struct {
	ptr uintptr
	typ reflect.Type
}

// encodePath tracks the pointers on the current encode path.
type encodePath struct {
	visiting map[pathKey]bool
}

func newEncodeContext(m *Mapper) EncodeContext {
	return EncodeContext{mapper: m, path: &encodePath{visiting: make(map[pathKey]bool)}}
}

// Mapper returns the mapper running the encode.
func (ec EncodeContext) Mapper() *Mapper { return ec.mapper }

// EncodeAny encodes v by its runtime type. Codecs use it for values they
// do not know statically.
func (ec EncodeContext) EncodeAny(vw bsonrw.ValueWriter, v any) error {
	if v == nil {
		return vw.WriteNull()
	}
	ec.Polymorphic = true
	return ec.encode(vw, reflect.ValueOf(v))
}

func (ec EncodeContext) encode(vw bsonrw.ValueWriter, val reflect.Value) error {
	c, err := ec.mapper.codecs.Lookup(val.Type())
	if err != nil {
		return err
	}
	return c.EncodeValue(ec, vw, val)
}

// enter marks val as being encoded. It fails when val is already on the
// current path.
func (ec EncodeContext) enter(val reflect.Value) (func(), error) {
	if ec.path == nil {
		return func() {}, nil
	}
	key := pathKey{ptr: val.Pointer(), typ: val.Type()}
	if ec.path.visiting[key] {
		return nil, &CyclicReferenceError{TypeName: val.Type().Elem().String()}
	}
	ec.path.visiting[key] = true
	return func() { delete(ec.path.visiting, key) }, nil
}

// InstanceCreator prepares the struct a document is decoded into.
type InstanceCreator interface {
	Instance(val reflect.Value)
}

// freshInstance resets the target and applies its defaults, so properties
// absent from the document keep their default values.
type freshInstance struct{}

func (freshInstance) Instance(val reflect.Value) {
	val.Set(reflect.Zero(val.Type()))
	if val.CanAddr() {
		if d, ok := val.Addr().Interface().(Defaulter); ok {
			d.SetDefaults()
		}
	}
}

// existingInstance keeps the target's current values, for refreshing an
// instance from its stored document.
type existingInstance struct{}

func (existingInstance) Instance(reflect.Value) {}

// DecodeContext carries per-call decoding state.
type DecodeContext struct {
	context.Context
	mapper  *Mapper
	creator InstanceCreator
	fetcher Fetcher
	refs    *identityMap
}

func newDecodeContext(ctx context.Context, m *Mapper) DecodeContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return DecodeContext{
		Context: ctx,
		mapper:  m,
		creator: freshInstance{},
		fetcher: m.fetcher,
		refs:    newIdentityMap(),
	}
}

// Mapper returns the mapper running the decode.
func (dc DecodeContext) Mapper() *Mapper { return dc.mapper }

// nested returns the context used below the top-level value: nested
// structs are always created fresh.
func (dc DecodeContext) nested() DecodeContext {
	dc.creator = freshInstance{}
	return dc
}

func (dc DecodeContext) instance(val reflect.Value) {
	if dc.creator == nil {
		freshInstance{}.Instance(val)
		return
	}
	dc.creator.Instance(val)
}

// identityMap holds the entities decoded from references during one decode
// call, keyed by collection and id, so cyclic graphs terminate.
type identityMap struct {
	mu      sync.Mutex
	entries map[string]reflect.Value
}

func newIdentityMap() *identityMap {
	return &identityMap{entries: make(map[string]reflect.Value)}
}

func identityKey(t reflect.Type, collection string, id []byte, idType bsontype.Type) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%x", t, collection, idType, id)
}

func (im *identityMap) get(key string) (reflect.Value, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	v, ok := im.entries[key]
	return v, ok
}

func (im *identityMap) put(key string, v reflect.Value) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.entries[key] = v
}
