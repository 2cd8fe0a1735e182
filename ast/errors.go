package ast

import "fmt"

// UnsupportedOperationError is returned when an operation is requested that
// a node codec cannot perform, such as decoding a filter from a document.
type UnsupportedOperationError struct {
	Type      string
	Operation string
}

// Error returns the error message for UnsupportedOperationError.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("ast: %s is not supported for %s", e.Operation, e.Type)
}

// UnknownNodeError is returned when the compiler is given a node type that
// has no registered codec.
type UnknownNodeError struct {
	Type string
}

// Error returns the error message for UnknownNodeError.
func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("ast: no codec for node type %s", e.Type)
}
