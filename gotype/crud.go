package gotype

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DocumentStore persists encoded documents by collection and id. Fetch
// returns (nil, nil) for a missing document; Delete reports whether one
// was removed.
type DocumentStore interface {
	Fetcher
	Put(ctx context.Context, collection string, id bson.RawValue, doc bson.Raw) error
	Delete(ctx context.Context, collection string, id bson.RawValue) (bool, error)
}

// Datastore saves and loads entities through a mapper and a document
// store. References are resolved from the same store.
type Datastore struct {
	mapper *Mapper
	store  DocumentStore
}

// NewDatastore creates a Datastore.
func NewDatastore(m *Mapper, store DocumentStore) *Datastore {
	return &Datastore{mapper: m, store: store}
}

// Mapper returns the datastore's mapper.
func (d *Datastore) Mapper() *Mapper { return d.mapper }

// Save stores entity, replacing any document with the same id. A zero
// ObjectID id is assigned a new ObjectID first.
func (d *Datastore) Save(ctx context.Context, entity any) error {
	model, val, err := d.entity("save", entity)
	if err != nil {
		return err
	}
	if err := assignID(model, val); err != nil {
		return fmt.Errorf("save %s: %w", model.Name, err)
	}
	id, raw, err := d.encode(model, entity)
	if err != nil {
		return fmt.Errorf("save %s: %w", model.Name, err)
	}
	if err := d.store.Put(ctx, model.Collection, id, raw); err != nil {
		return fmt.Errorf("save %s: %w", model.Name, err)
	}
	return nil
}

// Insert stores entity, failing with DuplicateKeyError when its id is
// already present.
func (d *Datastore) Insert(ctx context.Context, entity any) error {
	model, val, err := d.entity("insert", entity)
	if err != nil {
		return err
	}
	if err := assignID(model, val); err != nil {
		return fmt.Errorf("insert %s: %w", model.Name, err)
	}
	id, raw, err := d.encode(model, entity)
	if err != nil {
		return fmt.Errorf("insert %s: %w", model.Name, err)
	}
	existing, err := d.store.Fetch(ctx, model.Collection, id)
	if err != nil {
		return fmt.Errorf("insert %s: %w", model.Name, err)
	}
	if existing != nil {
		return &DuplicateKeyError{TypeName: model.Name, ID: id.String()}
	}
	if err := d.store.Put(ctx, model.Collection, id, raw); err != nil {
		return fmt.Errorf("insert %s: %w", model.Name, err)
	}
	return nil
}

// Get loads the entity of type T stored under id.
func Get[T any](ctx context.Context, d *Datastore, id any) (*T, error) {
	model, err := d.mapper.Model(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	raw, rid, err := d.fetch(ctx, model, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &NotFoundError{TypeName: model.Name, ID: rid.String()}
	}
	result := new(T)
	if err := d.mapper.UnmarshalContext(ctx, raw, result, UsingFetcher(d.store)); err != nil {
		return nil, fmt.Errorf("get %s: %w", model.Name, err)
	}
	return result, nil
}

// GetAny loads the document stored under id in collection and decodes it
// into the type its discriminator names.
func (d *Datastore) GetAny(ctx context.Context, collection string, id any) (any, error) {
	rid, err := d.mapper.MarshalValue(id)
	if err != nil {
		return nil, err
	}
	raw, err := d.store.Fetch(ctx, collection, rid)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", collection, err)
	}
	if raw == nil {
		return nil, &NotFoundError{TypeName: collection, ID: rid.String()}
	}
	return d.mapper.DecodeAny(ctx, raw, UsingFetcher(d.store))
}

// Delete removes the stored document of entity. It reports whether a
// document was removed.
func (d *Datastore) Delete(ctx context.Context, entity any) (bool, error) {
	model, val, err := d.entity("delete", entity)
	if err != nil {
		return false, err
	}
	id, err := d.idOf(model, val)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", model.Name, err)
	}
	deleted, err := d.store.Delete(ctx, model.Collection, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", model.Name, err)
	}
	return deleted, nil
}

// Refresh reloads entity from its stored document. Properties missing from
// the document keep their current values.
func (d *Datastore) Refresh(ctx context.Context, entity any) error {
	model, val, err := d.entity("refresh", entity)
	if err != nil {
		return err
	}
	id, err := d.idOf(model, val)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", model.Name, err)
	}
	raw, err := d.store.Fetch(ctx, model.Collection, id)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", model.Name, err)
	}
	if raw == nil {
		return &NotFoundError{TypeName: model.Name, ID: id.String()}
	}
	return d.mapper.UnmarshalContext(ctx, raw, entity, Refreshing(), UsingFetcher(d.store))
}

// entity checks that v points to a struct with an id property.
func (d *Datastore) entity(op string, v any) (*EntityModel, reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, reflect.Value{}, fmt.Errorf("%s: expected non-nil struct pointer, got %T", op, v)
	}
	model, err := d.mapper.Model(rv.Type().Elem())
	if err != nil {
		return nil, reflect.Value{}, err
	}
	if model.IDProperty == nil {
		return nil, reflect.Value{}, &CodecConfigurationError{TypeName: model.Type.String(), Reason: "no id property"}
	}
	return model, rv.Elem(), nil
}

func (d *Datastore) encode(model *EntityModel, entity any) (bson.RawValue, bson.Raw, error) {
	raw, err := d.mapper.Marshal(entity)
	if err != nil {
		return bson.RawValue{}, nil, err
	}
	id, err := raw.LookupErr(IDField)
	if err != nil {
		return bson.RawValue{}, nil, fmt.Errorf("encoded %s has no %s", model.Name, IDField)
	}
	return id, raw, nil
}

// idOf encodes the id property of val the way it is stored.
func (d *Datastore) idOf(model *EntityModel, val reflect.Value) (bson.RawValue, error) {
	base := refCodecBase{mapper: d.mapper, typ: model.Type, model: model}
	return base.entityID(newEncodeContext(d.mapper), val)
}

func (d *Datastore) fetch(ctx context.Context, model *EntityModel, id any) (bson.Raw, bson.RawValue, error) {
	rid, err := d.mapper.MarshalValue(id)
	if err != nil {
		return nil, bson.RawValue{}, err
	}
	raw, err := d.store.Fetch(ctx, model.Collection, rid)
	if err != nil {
		return nil, rid, fmt.Errorf("get %s: %w", model.Name, err)
	}
	return raw, rid, nil
}

// assignID gives a zero ObjectID id a new value.
func assignID(model *EntityModel, val reflect.Value) error {
	p := model.IDProperty
	if p.Type != objectIDType {
		return nil
	}
	current, err := p.Accessor.Get(val)
	if err != nil {
		return err
	}
	if !current.IsZero() {
		return nil
	}
	return p.Accessor.Set(val, reflect.ValueOf(primitive.NewObjectID()))
}

// Manager provides typed CRUD operations for entities of type T.
type Manager[T any] struct {
	ds    *Datastore
	model *EntityModel
}

// NewManager creates a Manager for the entity type T. It panics when T
// cannot be mapped.
func NewManager[T any](ds *Datastore) *Manager[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	model, err := ds.mapper.Model(t)
	if err != nil {
		panic(fmt.Sprintf("gotype: type %s cannot be mapped: %v", t.Name(), err))
	}
	return &Manager[T]{ds: ds, model: model}
}

// Model returns the entity model of T.
func (m *Manager[T]) Model() *EntityModel { return m.model }

// Insert adds a new instance, failing if its id is already stored.
func (m *Manager[T]) Insert(ctx context.Context, instance *T) error {
	if instance == nil {
		return fmt.Errorf("insert %s: instance must not be nil", m.model.Name)
	}
	return m.ds.Insert(ctx, instance)
}

// InsertMany inserts instances in order, stopping at the first failure.
func (m *Manager[T]) InsertMany(ctx context.Context, instances []*T) error {
	for i, instance := range instances {
		if err := m.Insert(ctx, instance); err != nil {
			return fmt.Errorf("insert many: instance %d: %w", i, err)
		}
	}
	return nil
}

// Put inserts or replaces an instance.
func (m *Manager[T]) Put(ctx context.Context, instance *T) error {
	if instance == nil {
		return fmt.Errorf("put %s: instance must not be nil", m.model.Name)
	}
	return m.ds.Save(ctx, instance)
}

// Get loads the instance stored under id.
func (m *Manager[T]) Get(ctx context.Context, id any) (*T, error) {
	return Get[T](ctx, m.ds, id)
}

// Delete removes an instance. Deleting an instance that is not stored
// returns NotFoundError.
func (m *Manager[T]) Delete(ctx context.Context, instance *T) error {
	deleted, err := m.ds.Delete(ctx, instance)
	if err != nil {
		return err
	}
	if !deleted {
		id, _ := m.ds.idOf(m.model, reflect.ValueOf(instance).Elem())
		return &NotFoundError{TypeName: m.model.Name, ID: id.String()}
	}
	return nil
}

// Refresh reloads an instance from the store.
func (m *Manager[T]) Refresh(ctx context.Context, instance *T) error {
	return m.ds.Refresh(ctx, instance)
}

// Query starts a query over T's collection.
func (m *Manager[T]) Query() *Query[T] {
	return NewQuery[T](m.ds.mapper)
}
