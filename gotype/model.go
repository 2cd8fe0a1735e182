// Package gotype provides reflection-based mapping between Go types and
// documents.
package gotype

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

var documentType = reflect.TypeOf(Document{})

// ReferenceOptions configures how a reference property is stored and
// resolved.
type ReferenceOptions struct {
	// Lazy defers resolution until Ref.Get is called.
	Lazy bool
	// IDOnly stores the bare id instead of {$ref, $id}.
	IDOnly bool
	// IgnoreMissing decodes references to missing documents as nil.
	IgnoreMissing bool
}

// PropertyModel contains metadata about a single persistable property.
type PropertyModel struct {
	// Name is the Go field (or accessor) name.
	Name string
	// StorageName is the document field name.
	StorageName string
	// AlternateNames are legacy field names accepted on decode.
	AlternateNames []string
	// Type is the declared Go type.
	Type reflect.Type
	// TypeData describes Type with its element and key types.
	TypeData TypeData
	// Accessor reads and writes the property on an instance.
	Accessor PropertyAccessor
	// IsID marks the document id property.
	IsID bool
	// LoadOnly properties are never encoded.
	LoadOnly bool
	// ReadOnly properties are skipped on encode when IgnoreFinals is set.
	ReadOnly bool
	// Serialized properties are stored as msgpack binary.
	Serialized bool
	// Reference is non-nil for reference properties.
	Reference *ReferenceOptions

	once     sync.Once
	codec    Codec
	codecErr error
}

// EntityModel contains the mapping metadata of one struct type.
type EntityModel struct {
	// Type is the reflection type of the mapped struct.
	Type reflect.Type
	// Name is the Go type name.
	Name string
	// Collection is the collection documents of this type are stored in.
	Collection string
	// Discriminator identifies this type in polymorphic documents.
	Discriminator string
	// DiscriminatorKey is the field holding the discriminator.
	DiscriminatorKey string
	// UseDiscriminator is false when the Document marker suppresses it.
	UseDiscriminator bool
	// Properties lists the mapped properties in declaration order.
	Properties []*PropertyModel
	// IDProperty is the document id property, or nil.
	IDProperty *PropertyModel

	byStorage   map[string]*PropertyModel
	byName      map[string]*PropertyModel
	usesMethods bool
}

// Property retrieves a property by storage name or alternate name.
func (m *EntityModel) Property(storageName string) (*PropertyModel, bool) {
	p, ok := m.byStorage[storageName]
	return p, ok
}

// PropertyByName retrieves a property by its Go name.
func (m *EntityModel) PropertyByName(name string) (*PropertyModel, bool) {
	p, ok := m.byName[name]
	return p, ok
}

// ExtractEntityModel analyzes a struct type and builds its mapping metadata.
func ExtractEntityModel(t reflect.Type, opts Options, log logrus.FieldLogger) (*EntityModel, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct, got %s", t.Kind())
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &EntityModel{
		Type:             t,
		Name:             t.Name(),
		Discriminator:    t.Name(),
		DiscriminatorKey: opts.DiscriminatorKey,
		UseDiscriminator: true,
		Collection:       opts.CollectionNaming.Apply(t.Name()),
		byStorage:        make(map[string]*PropertyModel),
		byName:           make(map[string]*PropertyModel),
	}

	hasMarker, err := m.collect(t, nil, opts)
	if err != nil {
		return nil, err
	}

	if m.IDProperty == nil {
		for _, p := range m.Properties {
			if (p.Name == "ID" || p.Name == "Id") && p.StorageName == opts.PropertyNaming.Apply(p.Name) {
				if err := m.promoteID(p); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	if len(m.Properties) == 0 && !hasMarker {
		return nil, fmt.Errorf("%s has no mapped properties", t)
	}
	if err := ValidateIdentifier(m.Collection, "collection"); err != nil {
		return nil, err
	}
	if m.UseDiscriminator {
		if err := ValidateIdentifier(m.DiscriminatorKey, "discriminator key"); err != nil {
			return nil, err
		}
		if p, clash := m.byStorage[m.DiscriminatorKey]; clash {
			log.WithFields(logrus.Fields{
				"type":     t.String(),
				"property": p.Name,
				"key":      m.DiscriminatorKey,
			}).Warn("property storage name collides with the discriminator key, the discriminator wins on decode")
		}
	}

	return m, nil
}

// collect scans the fields of t, flattening untagged embedded structs.
// It reports whether a Document marker was found.
func (m *EntityModel) collect(t reflect.Type, index []int, opts Options) (bool, error) {
	hasMarker := false
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		idx := append(append([]int(nil), index...), i)

		tagStr, tagged := field.Tag.Lookup(TagKey)
		tag, err := ParseTag(tagStr)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", field.Name, err)
		}

		if field.Type == documentType {
			if len(index) == 0 {
				hasMarker = true
				m.applyDocumentTag(tag)
			}
			continue
		}
		if tag.Skip {
			continue
		}

		// Untagged embedded structs contribute their fields.
		if field.Anonymous && !tagged {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				inner, err := m.collect(ft, idx, opts)
				if err != nil {
					return false, err
				}
				hasMarker = hasMarker || inner
				continue
			}
		}

		var accessor PropertyAccessor
		propType := field.Type
		switch {
		case tag.Accessor != "":
			if len(index) != 0 {
				return false, fmt.Errorf("field %s: accessors are only supported on top-level fields", field.Name)
			}
			ma, err := newMethodAccessor(m.Type, tag.Accessor)
			if err != nil {
				return false, fmt.Errorf("field %s: %w", field.Name, err)
			}
			accessor, propType = ma, ma.typ
			m.usesMethods = true
		case field.IsExported():
			accessor = fieldAccessor{index: idx, typ: field.Type}
		default:
			continue
		}

		p, err := m.buildProperty(field, tag, propType, accessor, opts)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if err := m.addProperty(p); err != nil {
			return false, err
		}
	}
	return hasMarker, nil
}

func (m *EntityModel) applyDocumentTag(tag FieldTag) {
	if tag.Collection != "" {
		m.Collection = tag.Collection
	}
	if tag.Discriminator != "" {
		m.Discriminator = tag.Discriminator
	}
	if tag.DiscriminatorKey != "" {
		m.DiscriminatorKey = tag.DiscriminatorKey
	}
	if tag.NoDiscriminator {
		m.UseDiscriminator = false
	}
}

func (m *EntityModel) buildProperty(field reflect.StructField, tag FieldTag, typ reflect.Type, accessor PropertyAccessor, opts Options) (*PropertyModel, error) {
	name := field.Name
	if tag.Accessor != "" {
		name = tag.Accessor
	}
	p := &PropertyModel{
		Name:           name,
		StorageName:    tag.Name,
		AlternateNames: tag.AltNames,
		Type:           typ,
		TypeData:       TypeDataOf(typ),
		Accessor:       accessor,
		LoadOnly:       tag.LoadOnly,
		ReadOnly:       tag.ReadOnly,
		Serialized:     tag.Serialized,
	}
	if p.StorageName == "" {
		p.StorageName = opts.PropertyNaming.Apply(name)
	}
	if tag.ID || p.StorageName == IDField {
		p.IsID = true
		p.StorageName = IDField
	} else {
		if err := ValidateIdentifier(p.StorageName, "property"); err != nil {
			return nil, err
		}
		if IsReservedName(p.StorageName) {
			return nil, &InvalidIdentifierError{Name: p.StorageName, Context: "property", Reason: "reserved name"}
		}
	}
	for _, alt := range p.AlternateNames {
		if err := ValidateIdentifier(alt, "alternate property"); err != nil {
			return nil, err
		}
	}

	_, isRefType := refTarget(typ)
	if tag.IsReference() || containsRef(typ) {
		if tag.Lazy && !containsRef(typ) {
			return nil, fmt.Errorf("lazy references must be declared as gotype.Ref[T], got %s", typ)
		}
		if p.Serialized {
			return nil, fmt.Errorf("a reference cannot also be serialized")
		}
		target, ok := entityTarget(typ)
		if !ok {
			return nil, fmt.Errorf("reference target of %s is not a struct", typ)
		}
		if !hasIDProperty(target, opts) {
			return nil, &CodecConfigurationError{
				TypeName: target.String(),
				Reason:   "referenced type has no id property",
			}
		}
		p.Reference = &ReferenceOptions{
			Lazy:          tag.Lazy || isRefType || containsRef(typ),
			IDOnly:        tag.IDOnly,
			IgnoreMissing: tag.IgnoreMissing,
		}
	}
	return p, nil
}

func (m *EntityModel) addProperty(p *PropertyModel) error {
	names := append([]string{p.StorageName}, p.AlternateNames...)
	for _, n := range names {
		if other, dup := m.byStorage[n]; dup {
			return fmt.Errorf("%s: storage name %q of %s is already used by %s", m.Type, n, p.Name, other.Name)
		}
	}
	for _, n := range names {
		m.byStorage[n] = p
	}
	m.byName[p.Name] = p
	m.Properties = append(m.Properties, p)
	if p.IsID {
		if m.IDProperty != nil {
			return fmt.Errorf("%s: both %s and %s are marked as id", m.Type, m.IDProperty.Name, p.Name)
		}
		m.IDProperty = p
	}
	return nil
}

func (m *EntityModel) promoteID(p *PropertyModel) error {
	if other, dup := m.byStorage[IDField]; dup && other != p {
		return fmt.Errorf("%s: storage name %q of %s is already used by %s", m.Type, IDField, p.Name, other.Name)
	}
	delete(m.byStorage, p.StorageName)
	p.IsID = true
	p.StorageName = IDField
	m.byStorage[IDField] = p
	m.IDProperty = p
	return nil
}

// hasIDProperty reports whether t would get an id property, without
// building its model. Building referenced models here could recurse
// through reference cycles.
func hasIDProperty(t reflect.Type, opts Options) bool {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tagStr, tagged := field.Tag.Lookup(TagKey)
		tag, err := ParseTag(tagStr)
		if err != nil || tag.Skip || field.Type == documentType {
			continue
		}
		if field.Anonymous && !tagged {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && hasIDProperty(ft, opts) {
				return true
			}
			continue
		}
		if !field.IsExported() && tag.Accessor == "" {
			continue
		}
		if tag.ID || tag.Name == IDField {
			return true
		}
		if (field.Name == "ID" || field.Name == "Id") && tag.Name == "" {
			return true
		}
	}
	return false
}

func containsRef(t reflect.Type) bool {
	for i := 0; i < 8 && t != nil; i++ {
		if _, ok := refTarget(t); ok {
			return true
		}
		switch t.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Array, reflect.Map:
			t = t.Elem()
		default:
			return false
		}
	}
	return false
}
