package gotype

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// entityCodec encodes a mapped struct as a document: the id first, then the
// discriminator, then the remaining properties in declaration order.
type entityCodec struct {
	mapper *Mapper
	model  *EntityModel
}

func (m *Mapper) entityProvider(td TypeData, _ CodecLookup) (Codec, error) {
	if td.Type.Kind() != reflect.Struct {
		return nil, nil
	}
	model, err := m.Model(td.Type)
	if err != nil {
		return nil, err
	}
	return &entityCodec{mapper: m, model: model}, nil
}

func (c *entityCodec) EncoderType() reflect.Type { return c.model.Type }

func (c *entityCodec) acceptsWireType(t bsontype.Type) bool {
	return t == bsontype.EmbeddedDocument
}

// propertyCodec resolves the codec of a property on first use.
func (m *Mapper) propertyCodec(p *PropertyModel) (Codec, error) {
	p.once.Do(func() {
		switch {
		case p.Serialized:
			p.codec = &serializedCodec{typ: p.Type}
		case p.Reference != nil:
			p.codec, p.codecErr = m.referenceCodec(p.TypeData, *p.Reference)
		default:
			p.codec, p.codecErr = m.codecs.Lookup(p.Type)
		}
	})
	return p.codec, p.codecErr
}

func (c *entityCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	model := c.model
	if model.usesMethods && !val.CanAddr() {
		cp := reflect.New(val.Type()).Elem()
		cp.Set(val)
		val = cp
	}
	polymorphic := ec.Polymorphic
	ec.Polymorphic = false

	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	if id := model.IDProperty; id != nil {
		if err := c.encodeProperty(ec, dw, val, id); err != nil {
			return err
		}
	}
	if model.UseDiscriminator && (polymorphic || c.mapper.opts.AlwaysDiscriminate) {
		evw, err := dw.WriteDocumentElement(model.DiscriminatorKey)
		if err != nil {
			return err
		}
		if err := evw.WriteString(model.Discriminator); err != nil {
			return err
		}
	}
	for _, p := range model.Properties {
		if p.IsID {
			continue
		}
		if err := c.encodeProperty(ec, dw, val, p); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}

func (c *entityCodec) encodeProperty(ec EncodeContext, dw bsonrw.DocumentWriter, val reflect.Value, p *PropertyModel) error {
	v, err := p.Accessor.Get(val)
	if err != nil {
		return c.propertyError(p, err)
	}
	if !c.mapper.policy(p, v, c.mapper.opts) {
		return nil
	}
	codec, err := c.mapper.propertyCodec(p)
	if err != nil {
		return err
	}
	evw, err := dw.WriteDocumentElement(p.StorageName)
	if err != nil {
		return err
	}
	if err := codec.EncodeValue(ec, evw, v); err != nil {
		return c.propertyError(p, err)
	}
	return nil
}

func (c *entityCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	switch wireType(vr) {
	case bsontype.EmbeddedDocument:
	case bsontype.Null:
		val.Set(reflect.Zero(val.Type()))
		return vr.ReadNull()
	default:
		return &MappingError{TypeName: c.model.Type.String(), Cause: wireTypeError(c.model.Type, vr.Type())}
	}

	dr, err := vr.ReadDocument()
	if err != nil {
		return err
	}
	dc.instance(val)
	nested := dc.nested()
	for {
		name, evr, err := dr.ReadElement()
		if err == bsonrw.ErrEOD {
			return nil
		}
		if err != nil {
			return err
		}
		if c.model.UseDiscriminator && name == c.model.DiscriminatorKey && evr.Type() == bsontype.String {
			if err := c.checkDiscriminator(evr); err != nil {
				return err
			}
			continue
		}
		p, ok := c.model.Property(name)
		if !ok {
			c.mapper.log.WithFields(logrus.Fields{
				"type":  c.model.Type.String(),
				"field": name,
			}).Debug("skipping unmapped field")
			if err := evr.Skip(); err != nil {
				return err
			}
			continue
		}
		if err := c.decodeProperty(nested, evr, val, p); err != nil {
			return err
		}
	}
}

// checkDiscriminator rejects documents whose discriminator names another
// registered model. Unknown discriminators are accepted.
func (c *entityCodec) checkDiscriminator(vr bsonrw.ValueReader) error {
	value, err := vr.ReadString()
	if err != nil {
		return err
	}
	if value == c.model.Discriminator {
		return nil
	}
	if other, ok := c.mapper.Lookup(value); ok && other.Type != c.model.Type {
		return &MappingError{
			TypeName: c.model.Type.String(),
			Cause:    fmt.Errorf("document holds a %s (discriminator %q)", other.Type, value),
		}
	}
	return nil
}

func (c *entityCodec) decodeProperty(dc DecodeContext, vr bsonrw.ValueReader, inst reflect.Value, p *PropertyModel) error {
	if vr.Type() == bsontype.Null {
		if err := vr.ReadNull(); err != nil {
			return err
		}
		return c.setProperty(inst, p, reflect.Zero(p.Type))
	}
	codec, err := c.mapper.propertyCodec(p)
	if err != nil {
		return err
	}

	if !accepts(codec, wireType(vr)) {
		v, err := c.convertProperty(dc, vr, p)
		if err != nil {
			return c.propertyError(p, err)
		}
		return c.setProperty(inst, p, v)
	}

	tmp := reflect.New(p.Type).Elem()
	if cur, err := p.Accessor.Get(inst); err == nil && cur.IsValid() {
		tmp.Set(cur)
	}
	if err := codec.DecodeValue(dc, vr, tmp); err != nil {
		return c.propertyError(p, err)
	}
	return c.setProperty(inst, p, tmp)
}

// convertProperty decodes a value stored with an unexpected wire type by
// its default representation and converts it to the property type.
func (c *entityCodec) convertProperty(dc DecodeContext, vr bsonrw.ValueReader, p *PropertyModel) (reflect.Value, error) {
	wire := vr.Type()
	raw, err := decodeAny(dc, vr)
	if err != nil {
		return reflect.Value{}, err
	}
	target := p.Type
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	v, err := c.mapper.conversions.Convert(reflect.ValueOf(raw), target)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot decode %s into %s: %w", wire, p.Type, err)
	}
	if p.Type.Kind() == reflect.Ptr {
		ptr := reflect.New(target)
		ptr.Elem().Set(v)
		return ptr, nil
	}
	return v, nil
}

func (c *entityCodec) setProperty(inst reflect.Value, p *PropertyModel, v reflect.Value) error {
	if err := p.Accessor.Set(inst, v); err != nil {
		return c.propertyError(p, err)
	}
	return nil
}

// propertyError attributes err to a property. Configuration and cycle
// errors are returned as is.
func (c *entityCodec) propertyError(p *PropertyModel, err error) error {
	var cfg *CodecConfigurationError
	var cyc *CyclicReferenceError
	if errors.As(err, &cfg) || errors.As(err, &cyc) {
		return err
	}
	return &MappingError{TypeName: c.model.Type.String(), Property: p.Name, Cause: err}
}
