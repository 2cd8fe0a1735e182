// Package gotype provides parsing and representation of 'odm' struct tags.
package gotype

import (
	"fmt"
	"strings"
)

// TagKey is the struct tag key read by the mapper.
const TagKey = "odm"

// FieldTag contains the structured representation of a parsed `odm` struct tag.
type FieldTag struct {
	// Name is the storage name of the property.
	Name string
	// ID marks the property as the document id (stored as _id).
	ID bool
	// AltNames are legacy storage names accepted on decode.
	AltNames []string
	// Accessor names a getter/setter pair (X and SetX) used instead of the field.
	Accessor string
	// Ref stores the property as a reference token instead of embedding it.
	Ref bool
	// Lazy defers reference resolution until first access (gotype.Ref only).
	Lazy bool
	// IDOnly stores references as the bare id instead of {$ref, $id}.
	IDOnly bool
	// IgnoreMissing decodes references to missing documents as nil.
	IgnoreMissing bool
	// LoadOnly properties are decoded but never encoded.
	LoadOnly bool
	// ReadOnly marks the property final; it is skipped when IgnoreFinals is set.
	ReadOnly bool
	// Serialized stores the value as msgpack-encoded binary.
	Serialized bool
	// Skip indicates the field should be ignored by the mapper.
	Skip bool

	// Collection overrides the collection name (Document marker only).
	Collection string
	// Discriminator overrides the discriminator value (Document marker only).
	Discriminator string
	// DiscriminatorKey overrides the discriminator field (Document marker only).
	DiscriminatorKey string
	// NoDiscriminator suppresses the discriminator (Document marker only).
	NoDiscriminator bool
}

// IsReference returns true if the tag requests reference storage.
func (ft FieldTag) IsReference() bool {
	return ft.Ref || ft.Lazy || ft.IDOnly || ft.IgnoreMissing
}

var tagFlags = map[string]func(*FieldTag){
	"id":              func(ft *FieldTag) { ft.ID = true },
	"ref":             func(ft *FieldTag) { ft.Ref = true },
	"lazy":            func(ft *FieldTag) { ft.Lazy = true },
	"idonly":          func(ft *FieldTag) { ft.IDOnly = true },
	"ignoremissing":   func(ft *FieldTag) { ft.IgnoreMissing = true },
	"loadonly":        func(ft *FieldTag) { ft.LoadOnly = true },
	"readonly":        func(ft *FieldTag) { ft.ReadOnly = true },
	"serialized":      func(ft *FieldTag) { ft.Serialized = true },
	"nodiscriminator": func(ft *FieldTag) { ft.NoDiscriminator = true },
}

var tagValues = map[string]func(*FieldTag, string){
	"alt":              func(ft *FieldTag, v string) { ft.AltNames = append(ft.AltNames, strings.Split(v, "|")...) },
	"accessor":         func(ft *FieldTag, v string) { ft.Accessor = v },
	"collection":       func(ft *FieldTag, v string) { ft.Collection = v },
	"discriminator":    func(ft *FieldTag, v string) { ft.Discriminator = v },
	"discriminatorkey": func(ft *FieldTag, v string) { ft.DiscriminatorKey = v },
}

// ParseTag parses the content of an `odm` struct tag into a FieldTag structure.
// The first element is the storage name unless it is an option. It supports
// flags like id, ref, lazy, idonly and readonly, and valued options like
// alt:old|older and accessor:Name.
func ParseTag(tag string) (FieldTag, error) {
	if tag == "" || tag == "-" {
		return FieldTag{Skip: tag == "-"}, nil
	}

	parts := strings.Split(tag, ",")
	ft := FieldTag{}

	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if set, ok := tagFlags[part]; ok {
			set(&ft)
			continue
		}
		if key, value, ok := strings.Cut(part, ":"); ok {
			set, known := tagValues[key]
			if !known {
				return FieldTag{}, fmt.Errorf("unknown tag option: %q", part)
			}
			if value == "" {
				return FieldTag{}, fmt.Errorf("empty value for tag option %q", key)
			}
			set(&ft, value)
			continue
		}
		if i == 0 {
			ft.Name = part
			continue
		}
		return FieldTag{}, fmt.Errorf("unknown tag option: %q", part)
	}

	return ft, nil
}
