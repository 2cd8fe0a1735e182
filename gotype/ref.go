package gotype

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Ref is a lazily resolved reference to a T stored in another document.
// A decoded Ref starts unresolved, holding only the collection and id of
// its target; the first successful Get fetches and decodes the target and
// every later Get returns the same instance.
//
// Example usage:
//
//	type Book struct {
//	    ID     primitive.ObjectID `odm:"_id"`
//	    Author gotype.Ref[Author]  `odm:"author"`
//	}
//
//	author, err := book.Author.Get(ctx)
type Ref[T any] struct {
	s *refState[T]
}

type refState[T any] struct {
	mu         sync.Mutex
	collection string
	id         bson.RawValue
	value      *T
	resolved   bool
	load       func(ctx context.Context) (*T, error)
}

// NewRef returns a resolved reference to v. The collection and id are
// taken from v's model when the reference is encoded.
func NewRef[T any](v *T) Ref[T] {
	if v == nil {
		return Ref[T]{}
	}
	return Ref[T]{s: &refState[T]{value: v, resolved: true}}
}

// RefByID returns an unresolved reference to the document with the given
// id. An empty collection is filled in from T's model on encode. The
// reference can be encoded, but Get fails until it is decoded through a
// Mapper that can fetch its target.
func RefByID[T any](collection string, id any) (Ref[T], error) {
	raw, err := marshalID(id)
	if err != nil {
		return Ref[T]{}, err
	}
	return Ref[T]{s: &refState[T]{collection: collection, id: raw}}, nil
}

// Get resolves the reference. Resolution happens at most once: errors
// leave the reference unresolved so a later Get can retry.
func (r Ref[T]) Get(ctx context.Context) (*T, error) {
	if r.s == nil {
		return nil, nil
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return s.value, nil
	}
	if s.load == nil {
		return nil, &CodecConfigurationError{
			TypeName: reflect.TypeOf((*T)(nil)).Elem().String(),
			Reason:   "reference was not decoded by a mapper and cannot be resolved",
		}
	}
	v, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.value, s.resolved, s.load = v, true, nil
	return v, nil
}

// ID returns the stored id of the target. It is empty for references built
// with NewRef until they are encoded.
func (r Ref[T]) ID() bson.RawValue {
	if r.s == nil {
		return bson.RawValue{}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.id
}

// Collection returns the collection of the target.
func (r Ref[T]) Collection() string {
	if r.s == nil {
		return ""
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.collection
}

// Resolved reports whether the target has been loaded.
func (r Ref[T]) Resolved() bool {
	if r.s == nil {
		return false
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.resolved
}

// IsZero reports whether the reference points nowhere.
func (r Ref[T]) IsZero() bool {
	if r.s == nil {
		return true
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.value == nil && r.s.id.IsZero()
}

// Equal reports whether both references point at the same document. The
// resolution state is ignored.
func (r Ref[T]) Equal(o Ref[T]) bool {
	if r.IsZero() || o.IsZero() {
		return r.IsZero() == o.IsZero()
	}
	if r.s == o.s {
		return true
	}
	return r.Collection() == o.Collection() && r.ID().Equal(o.ID())
}

// String renders the reference as collection/id.
func (r Ref[T]) String() string {
	if r.IsZero() {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%s", r.Collection(), r.ID())
}

// refValue is implemented by every Ref[T] so codecs can handle references
// without knowing T.
type refValue interface {
	refTargetType() reflect.Type
	refToken() (collection string, id bson.RawValue, value reflect.Value)
}

// refInitializer is implemented by *Ref[T].
type refInitializer interface {
	setResolved(collection string, id bson.RawValue, value reflect.Value)
	setUnresolved(collection string, id bson.RawValue, load func(ctx context.Context) (reflect.Value, error))
	setToken(collection string, id bson.RawValue)
}

func (r Ref[T]) refTargetType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (r Ref[T]) refToken() (string, bson.RawValue, reflect.Value) {
	if r.s == nil {
		return "", bson.RawValue{}, reflect.Value{}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.value == nil {
		return r.s.collection, r.s.id, reflect.Value{}
	}
	return r.s.collection, r.s.id, reflect.ValueOf(r.s.value)
}

func (r *Ref[T]) setResolved(collection string, id bson.RawValue, value reflect.Value) {
	s := &refState[T]{collection: collection, id: id, resolved: true}
	if value.IsValid() && !value.IsNil() {
		s.value = value.Interface().(*T)
	}
	r.s = s
}

func (r *Ref[T]) setUnresolved(collection string, id bson.RawValue, load func(ctx context.Context) (reflect.Value, error)) {
	r.s = &refState[T]{
		collection: collection,
		id:         id,
		load: func(ctx context.Context) (*T, error) {
			v, err := load(ctx)
			if err != nil {
				return nil, err
			}
			if !v.IsValid() || v.IsNil() {
				return nil, nil
			}
			return v.Interface().(*T), nil
		},
	}
}

// setToken records the collection and id computed while encoding a
// reference built with NewRef.
func (r *Ref[T]) setToken(collection string, id bson.RawValue) {
	if r.s == nil {
		return
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.collection, r.s.id = collection, id
}

var (
	refValueType       = reflect.TypeOf((*refValue)(nil)).Elem()
	refInitializerType = reflect.TypeOf((*refInitializer)(nil)).Elem()
)

// refTarget reports whether t is a Ref[T] and returns T.
func refTarget(t reflect.Type) (reflect.Type, bool) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, false
	}
	if !t.Implements(refValueType) || !reflect.PointerTo(t).Implements(refInitializerType) {
		return nil, false
	}
	return reflect.Zero(t).Interface().(refValue).refTargetType(), true
}

// marshalID encodes an id value through the driver into a RawValue.
func marshalID(id any) (bson.RawValue, error) {
	if rv, ok := id.(bson.RawValue); ok {
		return rv, nil
	}
	doc, err := bson.Marshal(bson.D{{Key: "v", Value: id}})
	if err != nil {
		return bson.RawValue{}, fmt.Errorf("encoding id %v: %w", id, err)
	}
	return bson.Raw(doc).Lookup("v"), nil
}
