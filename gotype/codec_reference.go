package gotype

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Reference tokens are stored as {$ref: collection, $id: id}.
const (
	refKey = "$ref"
	idKey  = "$id"
	dbKey  = "$db"
)

// Fetcher loads stored documents to resolve references. Fetch returns
// (nil, nil) when the document does not exist.
type Fetcher interface {
	Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	return f(ctx, collection, id)
}

// referenceProvider serves Ref[T] values that are not declared through a
// reference property, e.g. inside an `any` or passed to EncodeValue.
func (m *Mapper) referenceProvider(td TypeData, _ CodecLookup) (Codec, error) {
	if _, ok := refTarget(td.Type); !ok {
		return nil, nil
	}
	return m.referenceCodec(td, ReferenceOptions{Lazy: true})
}

// referenceCodec builds the codec of a reference property. Containers of
// references store one token per element.
func (m *Mapper) referenceCodec(td TypeData, opts ReferenceOptions) (Codec, error) {
	t := td.Type
	if target, ok := refTarget(t); ok {
		model, err := m.Model(target)
		if err != nil {
			return nil, err
		}
		return &lazyRefCodec{refCodecBase{mapper: m, typ: t, model: model, opts: opts}}, nil
	}
	switch t.Kind() {
	case reflect.Struct:
		model, err := m.Model(t)
		if err != nil {
			return nil, err
		}
		return &eagerRefCodec{refCodecBase{mapper: m, typ: t, model: model, opts: opts}}, nil
	case reflect.Ptr:
		if t.Elem().Kind() != reflect.Struct {
			break
		}
		model, err := m.Model(t.Elem())
		if err != nil {
			return nil, err
		}
		return &eagerRefCodec{refCodecBase{mapper: m, typ: t, model: model, opts: opts}}, nil
	case reflect.Slice, reflect.Array:
		elem, err := m.referenceCodec(td.Arg(0), opts)
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
			!(m.conversions.Has(key, stringType) && m.conversions.Has(stringType, key)) {
			return nil, &CodecConfigurationError{
				TypeName: t.String(),
				Reason:   fmt.Sprintf("map key type %s cannot be converted to and from string", key),
			}
		}
		elem, err := m.referenceCodec(td.Arg(1), opts)
		if err != nil {
			return nil, err
		}
		return &mapCodec{typ: t, elem: elem, conversions: m.conversions}, nil
	}
	return nil, &CodecConfigurationError{TypeName: t.String(), Reason: "not a reference target"}
}

type refCodecBase struct {
	mapper *Mapper
	typ    reflect.Type
	model  *EntityModel
	opts   ReferenceOptions
}

func (c *refCodecBase) EncoderType() reflect.Type { return c.typ }

// entityID encodes the id property of an entity value.
func (c *refCodecBase) entityID(ec EncodeContext, entity reflect.Value) (bson.RawValue, error) {
	p := c.model.IDProperty
	if p == nil {
		return bson.RawValue{}, &CodecConfigurationError{TypeName: c.model.Type.String(), Reason: "referenced type has no id property"}
	}
	v, err := p.Accessor.Get(entity)
	if err != nil {
		return bson.RawValue{}, err
	}
	if v.IsZero() {
		return bson.RawValue{}, fmt.Errorf("referenced %s has no id", c.model.Type)
	}
	codec, err := c.mapper.propertyCodec(p)
	if err != nil {
		return bson.RawValue{}, err
	}

	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		return bson.RawValue{}, err
	}
	dw, err := vw.WriteDocument()
	if err != nil {
		return bson.RawValue{}, err
	}
	evw, err := dw.WriteDocumentElement("v")
	if err != nil {
		return bson.RawValue{}, err
	}
	if err := codec.EncodeValue(ec, evw, v); err != nil {
		return bson.RawValue{}, err
	}
	if err := dw.WriteDocumentEnd(); err != nil {
		return bson.RawValue{}, err
	}
	return bson.Raw(buf.Bytes()).Lookup("v"), nil
}

func (c *refCodecBase) writeToken(vw bsonrw.ValueWriter, collection string, id bson.RawValue) error {
	if collection == "" {
		collection = c.model.Collection
	}
	if c.opts.IDOnly {
		return bsonrw.Copier{}.CopyValueFromBytes(vw, id.Type, id.Value)
	}
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	evw, err := dw.WriteDocumentElement(refKey)
	if err != nil {
		return err
	}
	if err := evw.WriteString(collection); err != nil {
		return err
	}
	evw, err = dw.WriteDocumentElement(idKey)
	if err != nil {
		return err
	}
	if err := (bsonrw.Copier{}).CopyValueFromBytes(evw, id.Type, id.Value); err != nil {
		return err
	}
	return dw.WriteDocumentEnd()
}

// readToken reads either token shape. A bare value is an id in the
// target's own collection; that includes documents without $ref or $id,
// which are compound ids.
func (c *refCodecBase) readToken(vr bsonrw.ValueReader) (string, bson.RawValue, error) {
	t, b, err := bsonrw.Copier{}.CopyValueToBytes(vr)
	if err != nil {
		return "", bson.RawValue{}, err
	}
	value := bson.RawValue{Type: t, Value: b}
	if t != bsontype.EmbeddedDocument || !isReferenceToken(bson.Raw(b)) {
		return c.model.Collection, value, nil
	}

	elems, err := bson.Raw(b).Elements()
	if err != nil {
		return "", bson.RawValue{}, err
	}
	collection := c.model.Collection
	var id bson.RawValue
	for _, elem := range elems {
		ev := elem.Value()
		switch name := elem.Key(); name {
		case refKey:
			ref, ok := ev.StringValueOK()
			if !ok {
				return "", bson.RawValue{}, &ReferenceTokenError{
					TypeName: c.model.Type.String(),
					Reason:   fmt.Sprintf("%s is a %s, not a string", refKey, ev.Type),
				}
			}
			collection = ref
		case idKey:
			id = ev
		case dbKey:
		default:
			return "", bson.RawValue{}, &ReferenceTokenError{
				TypeName: c.model.Type.String(),
				Reason:   fmt.Sprintf("unexpected field %q", name),
			}
		}
	}
	if id.Type == 0 {
		return "", bson.RawValue{}, &ReferenceTokenError{TypeName: c.model.Type.String(), Reason: "missing " + idKey}
	}
	return collection, id, nil
}

// isReferenceToken reports whether doc is a {$ref, $id} token rather than
// a compound id. Stored property names never start with '$'.
func isReferenceToken(doc bson.Raw) bool {
	for _, key := range []string{refKey, idKey} {
		if _, err := doc.LookupErr(key); err == nil {
			return true
		}
	}
	return false
}

// fetch loads and decodes the target of a token. It returns an invalid
// value when the target is missing and missing references are ignored.
func (c *refCodecBase) fetch(dc DecodeContext, fetcher Fetcher, mode, collection string, id bson.RawValue) (reflect.Value, error) {
	m := c.mapper
	if fetcher == nil {
		return reflect.Value{}, &CodecConfigurationError{
			TypeName: c.model.Type.String(),
			Reason:   "no fetcher configured to resolve references",
		}
	}
	key := identityKey(c.model.Type, collection, id.Value, id.Type)
	if dc.refs != nil {
		if v, ok := dc.refs.get(key); ok {
			return v, nil
		}
	}

	doc, err := fetcher.Fetch(dc, collection, id)
	if err != nil {
		m.metrics.referenceResolved(mode, "error")
		return reflect.Value{}, fmt.Errorf("fetching %s/%s: %w", collection, id, err)
	}
	if doc == nil {
		if c.opts.IgnoreMissing {
			m.metrics.referenceResolved(mode, "ignored")
			m.log.WithFields(logrus.Fields{
				"collection": collection,
				"id":         id.String(),
			}).Debug("ignoring missing reference")
			return reflect.Value{}, nil
		}
		m.metrics.referenceResolved(mode, "missing")
		return reflect.Value{}, &ReferenceNotFoundError{Collection: collection, ID: id}
	}

	ptr := reflect.New(c.model.Type)
	if dc.refs != nil {
		dc.refs.put(key, ptr)
	}
	codec, err := m.codecs.Lookup(c.model.Type)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := codec.DecodeValue(dc.nested(), bsonrw.NewBSONDocumentReader(doc), ptr.Elem()); err != nil {
		return reflect.Value{}, err
	}
	m.metrics.referenceResolved(mode, "resolved")
	return ptr, nil
}

// eagerRefCodec stores *T or T as a reference token and resolves it while
// decoding.
type eagerRefCodec struct {
	refCodecBase
}

func (c *eagerRefCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	entity := val
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return vw.WriteNull()
		}
		entity = val.Elem()
	}
	id, err := c.entityID(ec, entity)
	if err != nil {
		return err
	}
	return c.writeToken(vw, "", id)
}

func (c *eagerRefCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	collection, id, err := c.readToken(vr)
	if err != nil {
		return err
	}
	ptr, err := c.fetch(dc, dc.fetcher, "eager", collection, id)
	if err != nil {
		return err
	}
	switch {
	case !ptr.IsValid():
		val.Set(reflect.Zero(c.typ))
	case c.typ.Kind() == reflect.Ptr:
		val.Set(ptr)
	default:
		val.Set(ptr.Elem())
	}
	return nil
}

// lazyRefCodec stores Ref[T]. Decoding records the token and defers the
// fetch to Ref.Get.
type lazyRefCodec struct {
	refCodecBase
}

func (c *lazyRefCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	collection, id, target := val.Interface().(refValue).refToken()
	if id.IsZero() {
		if !target.IsValid() || target.IsNil() {
			return vw.WriteNull()
		}
		var err error
		if id, err = c.entityID(ec, target.Elem()); err != nil {
			return err
		}
		if collection == "" {
			collection = c.model.Collection
		}
		if val.CanAddr() {
			val.Addr().Interface().(refInitializer).setToken(collection, id)
		}
	}
	return c.writeToken(vw, collection, id)
}

func (c *lazyRefCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if vr.Type() == bsontype.Null {
		val.Set(reflect.Zero(c.typ))
		return vr.ReadNull()
	}
	collection, id, err := c.readToken(vr)
	if err != nil {
		return err
	}
	fetcher := dc.fetcher
	ref := reflect.New(c.typ)
	ref.Interface().(refInitializer).setUnresolved(collection, id, func(ctx context.Context) (reflect.Value, error) {
		lazy := newDecodeContext(ctx, c.mapper)
		lazy.fetcher = fetcher
		return c.fetch(lazy, fetcher, "lazy", collection, id)
	})
	val.Set(ref.Elem())
	return nil
}
