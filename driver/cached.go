package driver

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/singleflight"
)

// CachedStore is a read-through cache in front of another store.
// Concurrent fetches of the same uncached document share one call to the
// inner store. Missing documents are not cached, and a fetch that overlaps
// a write to the same document does not fill the cache.
type CachedStore struct {
	inner Store
	cache *lru.Cache[string, bson.Raw]
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is one shared fetch from the inner store.
type flight struct {
	stale bool
}

// NewCachedStore wraps inner with a cache of up to size documents.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	cache, err := lru.New[string, bson.Raw](size)
	if err != nil {
		return nil, errors.Wrap(err, "driver: creating document cache")
	}
	return &CachedStore{inner: inner, cache: cache, flights: make(map[string]*flight)}, nil
}

// Inner returns the wrapped store.
func (s *CachedStore) Inner() Store { return s.inner }

// Len reports how many documents are cached.
func (s *CachedStore) Len() int { return s.cache.Len() }

func (s *CachedStore) Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := keyOf(id)
	if err != nil {
		return nil, storeError("fetch", collection, err)
	}
	ck := cacheKey(collection, key)
	if doc, ok := s.cache.Get(ck); ok {
		return doc, nil
	}

	// The shared fetch outlives any one caller's cancellation.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(ck, func() (any, error) {
		return s.load(shared, collection, id, ck)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		doc, _ := res.Val.(bson.Raw)
		return doc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load reads a document from the inner store and caches it unless a write
// to the same key happened while the read was in flight.
func (s *CachedStore) load(ctx context.Context, collection string, id bson.RawValue, ck string) (any, error) {
	f := &flight{}
	s.mu.Lock()
	s.flights[ck] = f
	s.mu.Unlock()

	doc, err := s.inner.Fetch(ctx, collection, id)
	if doc != nil {
		doc = cloneRaw(doc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flights[ck] == f {
		delete(s.flights, ck)
	}
	if err == nil && doc != nil && !f.stale {
		s.cache.Add(ck, doc)
	}
	return doc, err
}

func (s *CachedStore) Put(ctx context.Context, collection string, id bson.RawValue, doc bson.Raw) error {
	key, err := keyOf(id)
	if err != nil {
		return storeError("put", collection, err)
	}
	err = s.inner.Put(ctx, collection, id, doc)
	s.invalidate(cacheKey(collection, key))
	return err
}

func (s *CachedStore) Delete(ctx context.Context, collection string, id bson.RawValue) (bool, error) {
	key, err := keyOf(id)
	if err != nil {
		return false, storeError("delete", collection, err)
	}
	deleted, err := s.inner.Delete(ctx, collection, id)
	s.invalidate(cacheKey(collection, key))
	return deleted, err
}

func (s *CachedStore) invalidate(ck string) {
	s.mu.Lock()
	if f, ok := s.flights[ck]; ok {
		f.stale = true
	}
	s.cache.Remove(ck)
	s.mu.Unlock()
	s.group.Forget(ck)
}

func (s *CachedStore) Count(ctx context.Context, collection string) (int, error) {
	return s.inner.Count(ctx, collection)
}

// Close empties the cache and closes the inner store.
func (s *CachedStore) Close() error {
	s.cache.Purge()
	return s.inner.Close()
}
