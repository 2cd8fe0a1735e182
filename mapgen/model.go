// Package mapgen parses mapping schemas and generates Go entity types for
// the gotype mapper.
package mapgen

import "strings"

// ParsedSchema holds every definition of a mapping schema in source order.
type ParsedSchema struct {
	// Enums lists the enum definitions.
	Enums []EnumSpec
	// Entities lists the entity definitions, abstract ones included.
	Entities []EntitySpec
	// Docs maps a definition name to the comment lines written above it.
	Docs map[string]string
}

// EnumSpec describes an enum and its constants.
type EnumSpec struct {
	Name   string
	Values []EnumValueSpec
}

// EnumValueSpec is one enum constant. Stored is the name written to
// documents and defaults to Name.
type EnumValueSpec struct {
	Name   string
	Stored string
}

// EntitySpec describes an entity definition.
type EntitySpec struct {
	// Name is the entity's schema name.
	Name string
	// Parent is the entity this one extends, if any.
	Parent string
	// Abstract entities are generated for embedding but never registered.
	Abstract bool

	// Collection is the collection set on this definition. Use
	// ParsedSchema.CollectionOf for the inherited value.
	Collection string
	// Discriminator overrides the stored discriminator value.
	Discriminator string
	// DiscriminatorKey overrides the field holding the discriminator.
	DiscriminatorKey string
	// NoDiscriminator suppresses the discriminator.
	NoDiscriminator bool

	// Fields are the properties declared on this definition only.
	Fields []FieldSpec
}

// FieldSpec describes one property of an entity.
type FieldSpec struct {
	// Name is the schema name of the field.
	Name string
	// Type is the field's declared type.
	Type TypeSpec

	ID            bool
	StoredName    string
	AltNames      []string
	LoadOnly      bool
	ReadOnly      bool
	Serialized    bool
	Lazy          bool
	IDOnly        bool
	IgnoreMissing bool
}

// StorageName returns the name the field is stored under.
func (f FieldSpec) StorageName() string {
	switch {
	case f.ID:
		return "_id"
	case f.StoredName != "":
		return f.StoredName
	}
	return f.Name
}

// TypeSpec is a possibly generic type expression such as list<ref<Book>>.
type TypeSpec struct {
	Name     string
	Args     []TypeSpec
	Optional bool
}

// String renders the type in schema syntax.
func (t TypeSpec) String() string {
	var b strings.Builder
	b.WriteString(t.Name)
	if len(t.Args) > 0 {
		b.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.String())
		}
		b.WriteByte('>')
	}
	if t.Optional {
		b.WriteByte('?')
	}
	return b.String()
}

// ContainsRef reports whether the type is or contains a ref<...>.
func (t TypeSpec) ContainsRef() bool {
	if t.Name == "ref" {
		return true
	}
	for _, a := range t.Args {
		if a.ContainsRef() {
			return true
		}
	}
	return false
}

// Entity returns the entity named name.
func (s *ParsedSchema) Entity(name string) (EntitySpec, bool) {
	for _, e := range s.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return EntitySpec{}, false
}

// Enum returns the enum named name.
func (s *ParsedSchema) Enum(name string) (EnumSpec, bool) {
	for _, e := range s.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return EnumSpec{}, false
}

// Ancestors returns the parent chain of the named entity, nearest first.
// It stops at an unknown parent or a cycle.
func (s *ParsedSchema) Ancestors(name string) []EntitySpec {
	var chain []EntitySpec
	seen := map[string]bool{name: true}
	e, ok := s.Entity(name)
	for ok && e.Parent != "" && !seen[e.Parent] {
		seen[e.Parent] = true
		e, ok = s.Entity(e.Parent)
		if ok {
			chain = append(chain, e)
		}
	}
	return chain
}

// CollectionOf returns the collection of the named entity, inherited from
// the nearest ancestor that sets one.
func (s *ParsedSchema) CollectionOf(name string) string {
	if e, ok := s.Entity(name); ok && e.Collection != "" {
		return e.Collection
	}
	for _, a := range s.Ancestors(name) {
		if a.Collection != "" {
			return a.Collection
		}
	}
	return ""
}

// AllFields returns the fields of the named entity, starting with those
// of its root ancestor.
func (s *ParsedSchema) AllFields(name string) []FieldSpec {
	e, ok := s.Entity(name)
	if !ok {
		return nil
	}
	var fields []FieldSpec
	ancestors := s.Ancestors(name)
	for i := len(ancestors) - 1; i >= 0; i-- {
		fields = append(fields, ancestors[i].Fields...)
	}
	return append(fields, e.Fields...)
}
