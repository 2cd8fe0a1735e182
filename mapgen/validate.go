package mapgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CaliLuke/go-odm/gotype"
)

// scalarTypes maps schema scalar names to the Go type they generate and
// the import that type needs.
var scalarTypes = map[string]struct{ goType, pkg string }{
	"string":   {"string", ""},
	"bool":     {"bool", ""},
	"int":      {"int32", ""},
	"long":     {"int64", ""},
	"double":   {"float64", ""},
	"decimal":  {"primitive.Decimal128", pkgPrimitive},
	"objectid": {"primitive.ObjectID", pkgPrimitive},
	"datetime": {"time.Time", "time"},
	"duration": {"time.Duration", "time"},
	"uuid":     {"uuid.UUID", pkgUUID},
	"bytes":    {"[]byte", ""},
	"any":      {"any", ""},
}

// genericArity is the number of type arguments each generic type takes.
// map accepts one (string keys) or two.
var genericArity = map[string][2]int{
	"list": {1, 1},
	"map":  {1, 2},
	"ref":  {1, 1},
}

// Validate checks names, inheritance, types and annotations. It reports
// every problem found, joined into one error.
func (s *ParsedSchema) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	defined := make(map[string]string)
	for _, e := range s.Enums {
		if prev, dup := defined[e.Name]; dup {
			add("enum %s: name already used by %s", e.Name, prev)
		}
		defined[e.Name] = "enum"
		if len(e.Values) == 0 {
			add("enum %s: no values", e.Name)
		}
		seen := make(map[string]bool)
		for _, v := range e.Values {
			if seen[v.Stored] {
				add("enum %s: duplicate stored name %q", e.Name, v.Stored)
			}
			seen[v.Stored] = true
		}
	}
	for _, e := range s.Entities {
		if prev, dup := defined[e.Name]; dup {
			add("entity %s: name already used by %s", e.Name, prev)
		}
		defined[e.Name] = "entity"
	}

	for _, e := range s.Entities {
		errs = append(errs, s.validateEntity(e)...)
	}
	return errors.Join(errs...)
}

func (s *ParsedSchema) validateEntity(e EntitySpec) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("entity %s: "+format, append([]any{e.Name}, args...)...))
	}

	if e.Parent != "" {
		parent, ok := s.Entity(e.Parent)
		switch {
		case !ok:
			add("unknown parent %s", e.Parent)
		case parent.Name == e.Name || s.inheritsFrom(parent.Name, e.Name):
			add("inheritance cycle through %s", e.Parent)
		}
	}
	if e.Collection != "" {
		if err := gotype.ValidateIdentifier(e.Collection, "collection"); err != nil {
			add("%v", err)
		}
	}
	if e.DiscriminatorKey != "" {
		if err := gotype.ValidateIdentifier(e.DiscriminatorKey, "discriminator key"); err != nil {
			add("%v", err)
		}
	}
	if e.NoDiscriminator && e.Discriminator != "" {
		add("nodiscriminator conflicts with discriminator %q", e.Discriminator)
	}

	names := make(map[string]bool)
	for _, a := range s.Ancestors(e.Name) {
		for _, f := range a.Fields {
			names[f.Name] = true
		}
	}
	for _, f := range e.Fields {
		if names[f.Name] {
			add("duplicate field %s", f.Name)
		}
		names[f.Name] = true
		for _, err := range s.validateField(f) {
			add("field %s: %v", f.Name, err)
		}
	}

	var ids int
	stored := make(map[string]string)
	for _, f := range s.AllFields(e.Name) {
		if f.ID {
			ids++
		}
		name := f.StorageName()
		if prev, dup := stored[name]; dup {
			add("fields %s and %s are both stored as %q", prev, f.Name, name)
		}
		stored[name] = f.Name
	}
	if ids > 1 {
		add("more than one @id field")
	}
	return errs
}

func (s *ParsedSchema) validateField(f FieldSpec) []error {
	var errs []error
	if err := s.validateType(f.Type); err != nil {
		errs = append(errs, err)
	}
	if !f.ID {
		name := f.StorageName()
		if gotype.IsReservedName(name) {
			errs = append(errs, fmt.Errorf("stored name %q is reserved", name))
		} else if err := gotype.ValidateIdentifier(name, "property"); err != nil {
			errs = append(errs, err)
		} else if ft, err := gotype.ParseTag(name); err != nil || ft.Name != name {
			errs = append(errs, fmt.Errorf("stored name %q is read as a tag option", name))
		}
	} else if f.StoredName != "" {
		errs = append(errs, errors.New("@id fields are always stored as _id"))
	}
	for _, alt := range f.AltNames {
		if err := gotype.ValidateIdentifier(alt, "alternate"); err != nil {
			errs = append(errs, err)
		} else if strings.ContainsAny(alt, ",|:") {
			errs = append(errs, fmt.Errorf("alternate name %q contains a tag separator", alt))
		}
	}

	hasRef := f.Type.ContainsRef()
	if (f.Lazy || f.IDOnly || f.IgnoreMissing) && !hasRef {
		errs = append(errs, errors.New("@lazy, @idonly and @ignoremissing need a ref<...> type"))
	}
	if f.Serialized && hasRef {
		errs = append(errs, errors.New("@serialized cannot be combined with references"))
	}
	if f.ID && hasRef {
		errs = append(errs, errors.New("@id cannot be a reference"))
	}
	return errs
}

func (s *ParsedSchema) validateType(t TypeSpec) error {
	if arity, generic := genericArity[t.Name]; generic {
		if n := len(t.Args); n < arity[0] || n > arity[1] {
			return fmt.Errorf("%s: wrong number of type arguments", t)
		}
		if t.Name == "map" && len(t.Args) == 2 && (t.Args[0].Name != "string" || t.Args[0].Optional || len(t.Args[0].Args) > 0) {
			return fmt.Errorf("%s: map keys must be string", t)
		}
		if t.Name == "ref" {
			target := t.Args[0]
			e, ok := s.Entity(target.Name)
			if !ok || len(target.Args) > 0 {
				return fmt.Errorf("%s: references must target an entity", t)
			}
			if e.Abstract {
				return fmt.Errorf("%s: cannot reference abstract entity %s", t, e.Name)
			}
			if !s.hasID(e.Name) {
				return fmt.Errorf("%s: %s has no @id field", t, e.Name)
			}
			return nil
		}
		for _, a := range t.Args {
			if err := s.validateType(a); err != nil {
				return err
			}
		}
		return nil
	}

	if len(t.Args) > 0 {
		return fmt.Errorf("%s: %s is not generic", t, t.Name)
	}
	if _, ok := scalarTypes[t.Name]; ok {
		return nil
	}
	if _, ok := s.Enum(t.Name); ok {
		return nil
	}
	if _, ok := s.Entity(t.Name); ok {
		return nil
	}
	return fmt.Errorf("unknown type %s", t.Name)
}

func (s *ParsedSchema) hasID(name string) bool {
	for _, f := range s.AllFields(name) {
		if f.ID {
			return true
		}
	}
	return false
}

// inheritsFrom reports whether name has ancestor in its parent chain.
func (s *ParsedSchema) inheritsFrom(name, ancestor string) bool {
	for _, a := range s.Ancestors(name) {
		if a.Name == ancestor {
			return true
		}
	}
	return false
}
