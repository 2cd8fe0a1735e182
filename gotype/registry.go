// Package gotype provides the per-mapper registries: entity models,
// discriminators and resolved codecs.
package gotype

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// modelEntry builds a model exactly once, however many goroutines ask for
// the same type concurrently.
type modelEntry struct {
	once  sync.Once
	model *EntityModel
	err   error
}

// modelCache maps struct types to their entity models.
type modelCache struct {
	entries sync.Map // reflect.Type -> *modelEntry
}

// discriminatorTable maps discriminator values to models.
type discriminatorTable struct {
	mu      sync.RWMutex
	byValue map[string]*EntityModel
	keys    map[string]bool
}

func (d *discriminatorTable) add(m *EntityModel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byValue == nil {
		d.byValue = make(map[string]*EntityModel)
		d.keys = make(map[string]bool)
	}
	if existing, ok := d.byValue[m.Discriminator]; ok && existing.Type != m.Type {
		return &DiscriminatorConflictError{
			Value:    m.Discriminator,
			Existing: existing.Type.String(),
			Conflict: m.Type.String(),
		}
	}
	d.byValue[m.Discriminator] = m
	d.keys[m.DiscriminatorKey] = true
	return nil
}

func (d *discriminatorTable) lookup(value string) (*EntityModel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byValue[value]
	return m, ok
}

// discriminatorKeys returns the default discriminator key followed by the
// other keys registered models use.
func (m *Mapper) discriminatorKeys() []string {
	d := &m.discriminators
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := []string{m.opts.DiscriminatorKey}
	var others []string
	for k := range d.keys {
		if k != m.opts.DiscriminatorKey {
			others = append(others, k)
		}
	}
	sort.Strings(others)
	return append(keys, others...)
}

// Model returns the entity model of a struct type, building and caching it
// on first use.
func (m *Mapper) Model(t reflect.Type) (*EntityModel, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct, got %s", t)
	}
	v, _ := m.models.entries.LoadOrStore(t, &modelEntry{})
	e := v.(*modelEntry)
	e.once.Do(func() {
		e.model, e.err = m.buildModel(t)
	})
	return e.model, e.err
}

func (m *Mapper) buildModel(t reflect.Type) (*EntityModel, error) {
	model, err := ExtractEntityModel(t, m.opts, m.log)
	if err != nil {
		return nil, &CodecConfigurationError{TypeName: t.String(), Reason: "invalid model", Cause: err}
	}
	if model.UseDiscriminator {
		if err := m.discriminators.add(model); err != nil {
			return nil, err
		}
	}
	m.metrics.modelBuilt()
	m.log.WithFields(logrus.Fields{
		"type":          t.String(),
		"collection":    model.Collection,
		"discriminator": model.Discriminator,
		"properties":    len(model.Properties),
	}).Debug("built entity model")
	return model, nil
}

// Register builds the model of T so its discriminator is known before any
// document naming it is decoded.
func Register[T any](m *Mapper) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if _, err := m.Model(t); err != nil {
		return fmt.Errorf("registering %s: %w", t.Name(), err)
	}
	return nil
}

// MustRegister is a helper that calls Register and panics if an error occurs.
// It is intended for use during application initialization.
func MustRegister[T any](m *Mapper) {
	if err := Register[T](m); err != nil {
		panic(err)
	}
}

// Lookup retrieves the model registered under a discriminator value.
func (m *Mapper) Lookup(discriminator string) (*EntityModel, bool) {
	return m.discriminators.lookup(discriminator)
}

// LookupType retrieves the model of a type that has already been built.
// Unlike Model it never builds one.
func (m *Mapper) LookupType(t reflect.Type) (*EntityModel, bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	v, ok := m.models.entries.Load(t)
	if !ok {
		return nil, false
	}
	e := v.(*modelEntry)
	// Do blocks until a concurrent build finishes.
	e.once.Do(func() {
		e.model, e.err = m.buildModel(t)
	})
	return e.model, e.err == nil && e.model != nil
}

// RegisteredModels returns the successfully built models, sorted by
// discriminator.
func (m *Mapper) RegisteredModels() []*EntityModel {
	var result []*EntityModel
	m.models.entries.Range(func(_, v any) bool {
		e := v.(*modelEntry)
		if e.model != nil {
			result = append(result, e.model)
		}
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Discriminator < result[j].Discriminator
	})
	return result
}

// namedProvider labels a provider for metrics.
type namedProvider struct {
	name     string
	provider CodecProvider
}

// codecRegistry resolves codecs through the provider chain and caches them
// per type. Concurrent first lookups may build a codec twice; the first
// one stored wins.
type codecRegistry struct {
	providers []namedProvider
	cache     sync.Map // reflect.Type -> Codec
	metrics   *Metrics
}

// Lookup implements CodecLookup.
func (r *codecRegistry) Lookup(t reflect.Type) (Codec, error) {
	if t == nil {
		return nil, &CodecConfigurationError{TypeName: "<nil>"}
	}
	if c, ok := r.cache.Load(t); ok {
		return c.(Codec), nil
	}
	res := &resolver{registry: r, pending: make(map[reflect.Type]*deferredCodec)}
	return res.Lookup(t)
}

// resolvedUsing returns a cached type whose codec was built with t in its
// structure: a pointer, slice, array, map or struct reaching t, else t
// itself.
func (r *codecRegistry) resolvedUsing(t reflect.Type) (reflect.Type, bool) {
	var user reflect.Type
	r.cache.Range(func(k, _ any) bool {
		cached := k.(reflect.Type)
		if !typeReaches(cached, t, make(map[reflect.Type]bool)) {
			return true
		}
		user = cached
		return cached == t
	})
	return user, user != nil
}

func typeReaches(from, target reflect.Type, seen map[reflect.Type]bool) bool {
	if from == target {
		return true
	}
	if seen[from] {
		return false
	}
	seen[from] = true
	switch from.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return typeReaches(from.Elem(), target, seen)
	case reflect.Map:
		return typeReaches(from.Key(), target, seen) || typeReaches(from.Elem(), target, seen)
	case reflect.Struct:
		for i := 0; i < from.NumField(); i++ {
			if typeReaches(from.Field(i).Type, target, seen) {
				return true
			}
		}
	}
	return false
}

// resolver is one lookup in progress. Types requested again while their
// own codec is being built get a deferred codec.
type resolver struct {
	registry *codecRegistry
	pending  map[reflect.Type]*deferredCodec
}

// Lookup implements CodecLookup.
func (res *resolver) Lookup(t reflect.Type) (Codec, error) {
	r := res.registry
	if c, ok := r.cache.Load(t); ok {
		return c.(Codec), nil
	}
	if d, ok := res.pending[t]; ok {
		return d, nil
	}
	res.pending[t] = &deferredCodec{typ: t, registry: r}
	defer delete(res.pending, t)

	td := TypeDataOf(t)
	for _, np := range r.providers {
		c, err := np.provider.Codec(td, res)
		if err != nil {
			r.metrics.lookupFailed()
			return nil, err
		}
		if c == nil {
			continue
		}
		actual, _ := r.cache.LoadOrStore(t, c)
		r.metrics.lookupResolved(np.name)
		return actual.(Codec), nil
	}
	r.metrics.lookupFailed()
	return nil, &CodecConfigurationError{TypeName: t.String()}
}

// deferredCodec stands in for a codec that is still being built. It
// resolves from the registry cache on first use.
type deferredCodec struct {
	typ      reflect.Type
	registry *codecRegistry
	once     sync.Once
	codec    Codec
	err      error
}

func (d *deferredCodec) resolve() (Codec, error) {
	d.once.Do(func() {
		d.codec, d.err = d.registry.Lookup(d.typ)
	})
	return d.codec, d.err
}

func (d *deferredCodec) EncoderType() reflect.Type { return d.typ }

func (d *deferredCodec) EncodeValue(ec EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	c, err := d.resolve()
	if err != nil {
		return err
	}
	return c.EncodeValue(ec, vw, val)
}

func (d *deferredCodec) DecodeValue(dc DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	c, err := d.resolve()
	if err != nil {
		return err
	}
	return c.DecodeValue(dc, vr, val)
}
