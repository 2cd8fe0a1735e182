package gotype

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// Mapper maps Go values to BSON documents and back. A Mapper holds its own
// model, discriminator and codec registries and is safe for concurrent use.
type Mapper struct {
	opts        Options
	log         logrus.FieldLogger
	fetcher     Fetcher
	custom      []CodecProvider
	conversions *Conversions
	policy      SerializationPolicy

	metricsReg prometheus.Registerer
	metrics    *Metrics

	codecs         *codecRegistry
	models         modelCache
	discriminators discriminatorTable
	enums          sync.Map // reflect.Type -> *enumCodec
}

// NewMapper creates a mapper. Custom providers are consulted before the
// built-in chain, which resolves in this order: expression nodes, well-known
// types, references, pointers, enums, containers, interfaces, scalars, text
// marshalers and entities.
func NewMapper(opts ...Option) (*Mapper, error) {
	m := &Mapper{
		opts:   DefaultOptions(),
		log:    logrus.StandardLogger(),
		policy: DefaultPolicy,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid mapper options")
	}
	if m.conversions == nil {
		m.conversions = NewConversions()
	}
	if m.metricsReg != nil {
		m.metrics = NewMetrics()
		if err := m.metrics.Register(m.metricsReg); err != nil {
			return nil, errors.Wrap(err, "registering mapper metrics")
		}
	}

	var providers []namedProvider
	for _, p := range m.custom {
		providers = append(providers, namedProvider{name: "custom", provider: p})
	}
	providers = append(providers,
		namedProvider{name: "expression", provider: CodecProviderFunc(m.expressionProvider)},
		namedProvider{name: "wellknown", provider: newWellKnownProvider()},
		namedProvider{name: "reference", provider: CodecProviderFunc(m.referenceProvider)},
		namedProvider{name: "pointer", provider: CodecProviderFunc(pointerProvider)},
		namedProvider{name: "enum", provider: CodecProviderFunc(m.enumProvider)},
		namedProvider{name: "container", provider: newContainerProvider(m.conversions)},
		namedProvider{name: "object", provider: CodecProviderFunc(m.objectProvider)},
		namedProvider{name: "scalar", provider: CodecProviderFunc(scalarProvider)},
		namedProvider{name: "text", provider: CodecProviderFunc(textProvider)},
		namedProvider{name: "entity", provider: CodecProviderFunc(m.entityProvider)},
	)
	m.codecs = &codecRegistry{providers: providers, metrics: m.metrics}
	return m, nil
}

// MustNewMapper is like NewMapper but panics on error.
func MustNewMapper(opts ...Option) *Mapper {
	m, err := NewMapper(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Options returns the mapping options in effect.
func (m *Mapper) Options() Options { return m.opts }

// Conversions returns the mapper's conversion registry.
func (m *Mapper) Conversions() *Conversions { return m.conversions }

// CodecFor resolves the codec of t through the provider chain.
func (m *Mapper) CodecFor(t reflect.Type) (Codec, error) {
	return m.codecs.Lookup(t)
}

// Marshal encodes v, which must encode as a document, such as an entity or
// a map.
func (m *Mapper) Marshal(v any) (bson.Raw, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot marshal nil")
	}
	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := m.encodeTop(vw, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return bson.Raw(buf.Bytes()), nil
}

func (m *Mapper) encodeTop(vw bsonrw.ValueWriter, val reflect.Value) error {
	codec, err := m.codecs.Lookup(val.Type())
	if err != nil {
		return err
	}
	ec := newEncodeContext(m)
	return codec.EncodeValue(ec, vw, val)
}

// EncodeValue encodes v into vw. The value is encoded into a buffer first,
// so vw is left untouched when encoding fails.
func (m *Mapper) EncodeValue(vw bsonrw.ValueWriter, v any) error {
	var buf bytes.Buffer
	bw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		return err
	}
	dw, err := bw.WriteDocument()
	if err != nil {
		return err
	}
	ew, err := dw.WriteDocumentElement("v")
	if err != nil {
		return err
	}
	if err := newEncodeContext(m).EncodeAny(ew, v); err != nil {
		return err
	}
	if err := dw.WriteDocumentEnd(); err != nil {
		return err
	}
	rv, err := bson.Raw(buf.Bytes()).LookupErr("v")
	if err != nil {
		return err
	}
	return (bsonrw.Copier{}).CopyValueFromBytes(vw, rv.Type, rv.Value)
}

// MarshalValue encodes a single value, such as an id, as the mapper would
// store it inside a document.
func (m *Mapper) MarshalValue(v any) (bson.RawValue, error) {
	if rv, ok := v.(bson.RawValue); ok {
		return rv, nil
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
	ew, err := dw.WriteDocumentElement("v")
	if err != nil {
		return bson.RawValue{}, err
	}
	if err := m.EncodeValue(ew, v); err != nil {
		return bson.RawValue{}, err
	}
	if err := dw.WriteDocumentEnd(); err != nil {
		return bson.RawValue{}, err
	}
	return bson.Raw(buf.Bytes()).LookupErr("v")
}

// DecodeOption adjusts a single decode call.
type DecodeOption func(*DecodeContext)

// UsingFetcher resolves references with f instead of the mapper's fetcher.
func UsingFetcher(f Fetcher) DecodeOption {
	return func(dc *DecodeContext) {
		dc.fetcher = f
	}
}

// Refreshing decodes into the existing target, keeping the values of
// properties absent from the document.
func Refreshing() DecodeOption {
	return func(dc *DecodeContext) {
		dc.creator = existingInstance{}
	}
}

// Unmarshal decodes a document into the value pointed to by v.
func (m *Mapper) Unmarshal(data []byte, v any) error {
	return m.UnmarshalContext(context.Background(), data, v)
}

// UnmarshalContext decodes a document into the value pointed to by v. ctx
// is passed to the fetcher when references are resolved.
func (m *Mapper) UnmarshalContext(ctx context.Context, data []byte, v any, opts ...DecodeOption) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot unmarshal empty document")
	}
	if err := bson.Raw(data).Validate(); err != nil {
		return errors.Wrap(err, "invalid document")
	}
	return m.DecodeValue(ctx, bsonrw.NewBSONDocumentReader(data), v, opts...)
}

// Refresh reloads v from data, keeping the values of properties the
// document does not contain.
func (m *Mapper) Refresh(ctx context.Context, data []byte, v any) error {
	return m.UnmarshalContext(ctx, data, v, Refreshing())
}

// DecodeValue decodes the value under vr into the value pointed to by v.
func (m *Mapper) DecodeValue(ctx context.Context, vr bsonrw.ValueReader, v any, opts ...DecodeOption) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", v)
	}
	codec, err := m.codecs.Lookup(rv.Type().Elem())
	if err != nil {
		return err
	}
	dc := newDecodeContext(ctx, m)
	for _, opt := range opts {
		opt(&dc)
	}
	return codec.DecodeValue(dc, vr, rv.Elem())
}

// BSONRegistry returns a driver registry that encodes and decodes every
// model registered so far with this mapper, so entities can be passed
// directly to driver calls.
func (m *Mapper) BSONRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	for _, model := range m.RegisteredModels() {
		codec, err := m.codecs.Lookup(model.Type)
		if err != nil {
			m.log.WithError(err).WithField("type", model.Type.String()).Warn("skipping model in driver registry")
			continue
		}
		adapter := &registryAdapter{mapper: m, codec: codec}
		reg.RegisterTypeEncoder(model.Type, adapter)
		reg.RegisterTypeDecoder(model.Type, adapter)
	}
	return reg
}

// registryAdapter adapts a mapper codec to the driver's codec interfaces.
type registryAdapter struct {
	mapper *Mapper
	codec  Codec
}

func (d *registryAdapter) EncodeValue(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	return d.codec.EncodeValue(newEncodeContext(d.mapper), vw, val)
}

func (d *registryAdapter) DecodeValue(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	return d.codec.DecodeValue(newDecodeContext(context.Background(), d.mapper), vr, val)
}
