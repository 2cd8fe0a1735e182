package gotype

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// Hydrate populates target, a pointer, from a generic map such as one
// decoded from JSON. Values are routed through the same codecs and
// conversions as stored documents, so a float64 age fills an int field.
func (m *Mapper) Hydrate(target any, data map[string]any) error {
	raw, err := m.Marshal(data)
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	return m.Unmarshal(raw, target)
}

// HydrateNew is a convenience function that creates a new instance of type T,
// hydrates it with the provided data, and returns a pointer to it.
func HydrateNew[T any](m *Mapper, data map[string]any) (*T, error) {
	result := new(T)
	if err := m.Hydrate(result, data); err != nil {
		return nil, err
	}
	return result, nil
}

// HydrateAny creates and hydrates an instance of the concrete type named by
// the discriminator in data. The result is a pointer to the registered
// struct.
func (m *Mapper) HydrateAny(data map[string]any) (any, error) {
	raw, err := m.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("hydrate_any: %w", err)
	}
	return m.DecodeAny(context.Background(), raw)
}

// DecodeAny decodes a stored document into a new instance of the model its
// discriminator names.
func (m *Mapper) DecodeAny(ctx context.Context, raw bson.Raw, opts ...DecodeOption) (any, error) {
	model, value, found := m.discriminatorOf(raw)
	if !found {
		return nil, fmt.Errorf("decode_any: document has no %s field", m.opts.DiscriminatorKey)
	}
	if model == nil {
		return nil, &NotRegisteredError{TypeName: value}
	}
	instance := reflect.New(model.Type)
	if err := m.UnmarshalContext(ctx, raw, instance.Interface(), opts...); err != nil {
		return nil, fmt.Errorf("decode_any type %s: %w", value, err)
	}
	return instance.Interface(), nil
}

// ToDocument encodes v and returns the result as a bson.M. Nested
// documents are bson.D values and arrays are []any.
func (m *Mapper) ToDocument(v any) (bson.M, error) {
	raw, err := m.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := m.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return bson.M(out), nil
}

// FromDocument decodes doc, typically built by hand or returned by
// ToDocument, into the value pointed to by v.
func (m *Mapper) FromDocument(doc bson.M, v any) error {
	raw, err := m.Marshal(map[string]any(doc))
	if err != nil {
		return err
	}
	return m.Unmarshal(raw, v)
}
