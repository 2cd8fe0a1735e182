// Package gotype defines the error types returned by codec resolution,
// encoding, decoding and reference resolution.
package gotype

import (
	"fmt"

	"github.com/CaliLuke/go-odm/ast"
	"go.mongodb.org/mongo-driver/bson"
)

// CodecConfigurationError is returned when no codec can be resolved for a
// type, or when a provider recognizes a type it cannot support.
type CodecConfigurationError struct {
	TypeName string
	Reason   string
	Cause    error
}

// Error returns the error message for CodecConfigurationError.
func (e *CodecConfigurationError) Error() string {
	msg := fmt.Sprintf("gotype: no codec for %s", e.TypeName)
	if e.Reason != "" {
		msg = fmt.Sprintf("gotype: codec for %s: %s", e.TypeName, e.Reason)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the CodecConfigurationError.
func (e *CodecConfigurationError) Unwrap() error {
	return e.Cause
}

// MappingError is returned when a document does not fit the mapped type,
// such as a wire type that cannot be decoded into the declared property type.
type MappingError struct {
	TypeName string
	Property string
	Cause    error
}

// Error returns the error message for MappingError.
func (e *MappingError) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("mapping %s: %v", e.TypeName, e.Cause)
	}
	return fmt.Sprintf("mapping %s.%s: %v", e.TypeName, e.Property, e.Cause)
}

// Unwrap returns the underlying cause of the MappingError.
func (e *MappingError) Unwrap() error {
	return e.Cause
}

// ReferenceNotFoundError is returned when a reference points to a document
// that no longer exists.
type ReferenceNotFoundError struct {
	Collection string
	ID         bson.RawValue
}

// Error returns the error message for ReferenceNotFoundError.
func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("gotype: referenced document %s/%s not found", e.Collection, e.ID)
}

// ReferenceTokenError is returned when an encoded reference has an
// unexpected shape.
type ReferenceTokenError struct {
	TypeName string
	Reason   string
}

// Error returns the error message for ReferenceTokenError.
func (e *ReferenceTokenError) Error() string {
	return fmt.Sprintf("gotype: malformed reference to %s: %s", e.TypeName, e.Reason)
}

// DiscriminatorConflictError is returned when two mapped types claim the
// same discriminator value.
type DiscriminatorConflictError struct {
	Value    string
	Existing string
	Conflict string
}

// Error returns the error message for DiscriminatorConflictError.
func (e *DiscriminatorConflictError) Error() string {
	return fmt.Sprintf("gotype: discriminator %q of %s is already used by %s",
		e.Value, e.Conflict, e.Existing)
}

// CyclicReferenceError is returned when encoding revisits a pointer that is
// already being encoded. Cycles must be expressed with references.
type CyclicReferenceError struct {
	TypeName string
}

// Error returns the error message for CyclicReferenceError.
func (e *CyclicReferenceError) Error() string {
	return fmt.Sprintf("gotype: cyclic embedding of %s, use a reference instead", e.TypeName)
}

// NotRegisteredError is returned when a discriminator does not name a
// registered type.
type NotRegisteredError struct {
	TypeName string
}

// Error returns the error message for NotRegisteredError.
func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("type %q is not registered", e.TypeName)
}

// NotFoundError is returned when a document expected to exist is missing.
type NotFoundError struct {
	TypeName string
	ID       string
}

// Error returns the error message for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.TypeName, e.ID)
}

// DuplicateKeyError is returned when inserting a document whose id is
// already stored.
type DuplicateKeyError struct {
	TypeName string
	ID       string
}

// Error returns the error message for DuplicateKeyError.
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %s: already exists", e.TypeName, e.ID)
}

// UnsupportedOperationError is returned when decoding is requested from a
// write-only codec such as a filter or update operator.
type UnsupportedOperationError = ast.UnsupportedOperationError
