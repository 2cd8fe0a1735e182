package gotype

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// IDField is the storage name every document id is written under.
const IDField = "_id"

// ReservedNames holds storage names that only the mapper itself may write.
var ReservedNames = map[string]bool{
	IDField: true,
	"$ref":  true,
	"$id":   true,
	"$db":   true,
}

// IsReservedName returns true if name is reserved for ids or reference
// tokens.
func IsReservedName(name string) bool {
	return ReservedNames[name]
}

// ValidateIdentifier checks that a name can be used as a document field or
// collection name. Valid names are non-empty UTF-8, do not start with '$'
// and contain neither '.' nor NUL. Returns nil if valid, or an error
// describing the problem.
func ValidateIdentifier(name, context string) error {
	if name == "" {
		return fmt.Errorf("empty %s name", context)
	}
	if !utf8.ValidString(name) {
		return &InvalidIdentifierError{Name: name, Context: context, Reason: "not valid UTF-8"}
	}
	if strings.HasPrefix(name, "$") {
		return &InvalidIdentifierError{Name: name, Context: context, Reason: "must not start with '$'"}
	}
	for i, r := range name {
		if r == '.' || r == 0 {
			return &InvalidIdentifierError{
				Name:    name,
				Context: context,
				Reason:  fmt.Sprintf("invalid character %q at position %d", r, i),
			}
		}
	}
	return nil
}

// InvalidIdentifierError is returned when a name contains characters
// not allowed in document field or collection names.
type InvalidIdentifierError struct {
	Name    string
	Context string
	Reason  string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Context, e.Name, e.Reason)
}
