package driver

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed store or batch.
	ErrClosed = errors.New("driver: store closed")
	// ErrUnsupportedURI is returned by Open for an unknown URI scheme.
	ErrUnsupportedURI = errors.New("driver: unsupported store uri")
	// ErrInvalidID is returned when a document id is empty or has no BSON type.
	ErrInvalidID = errors.New("driver: invalid document id")
)

// StoreError wraps a failure from the underlying storage with the
// operation and collection it happened in.
type StoreError struct {
	// Op is the store operation, such as "fetch" or "put".
	Op string
	// Collection is the collection the operation targeted.
	Collection string
	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("driver: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("driver: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Collection: collection, Err: err}
}
