package driver

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
)

const snapshotVersion = 1

// MemoryStore keeps documents in process memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[docKey]bson.Raw
	closed      bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[docKey]bson.Raw)}
}

func (s *MemoryStore) Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := keyOf(id)
	if err != nil {
		return nil, storeError("fetch", collection, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.collections[collection][key], nil
}

func (s *MemoryStore) Put(ctx context.Context, collection string, id bson.RawValue, doc bson.Raw) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := keyOf(id)
	if err != nil {
		return storeError("put", collection, err)
	}
	if err := doc.Validate(); err != nil {
		return storeError("put", collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[docKey]bson.Raw)
		s.collections[collection] = docs
	}
	docs[key] = cloneRaw(doc)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, id bson.RawValue) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := keyOf(id)
	if err != nil {
		return false, storeError("delete", collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	docs := s.collections[collection]
	if _, ok := docs[key]; !ok {
		return false, nil
	}
	delete(docs, key)
	if len(docs) == 0 {
		delete(s.collections, collection)
	}
	return true, nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.collections[collection]), nil
}

// Collections lists the non-empty collections in name order.
func (s *MemoryStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close drops every document. Later calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}

// --- Snapshots ---

type snapshot struct {
	Version     int                      `msgpack:"v"`
	Collections map[string][]snapshotDoc `msgpack:"c"`
}

type snapshotDoc struct {
	Key  docKey `msgpack:"k"`
	Body []byte `msgpack:"b"`
}

// Snapshot writes every stored document to w as msgpack.
func (s *MemoryStore) Snapshot(w io.Writer) error {
	s.mu.RLock()
	snap := snapshot{Version: snapshotVersion, Collections: make(map[string][]snapshotDoc, len(s.collections))}
	closed := s.closed
	for name, docs := range s.collections {
		out := make([]snapshotDoc, 0, len(docs))
		for key, body := range docs {
			out = append(out, snapshotDoc{Key: key, Body: body})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Key.IDType != out[j].Key.IDType {
				return out[i].Key.IDType < out[j].Key.IDType
			}
			return out[i].Key.ID < out[j].Key.ID
		})
		snap.Collections[name] = out
	}
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&snap); err != nil {
		return errors.Wrap(err, "driver: encoding snapshot")
	}
	return nil
}

// Restore replaces the store's contents with a snapshot read from r. The
// store is left unchanged if the snapshot is malformed.
func (s *MemoryStore) Restore(r io.Reader) error {
	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return errors.Wrap(err, "driver: decoding snapshot")
	}
	if snap.Version != snapshotVersion {
		return errors.Errorf("driver: unsupported snapshot version %d", snap.Version)
	}

	collections := make(map[string]map[docKey]bson.Raw, len(snap.Collections))
	for name, docs := range snap.Collections {
		if len(docs) == 0 {
			continue
		}
		m := make(map[docKey]bson.Raw, len(docs))
		for _, d := range docs {
			if _, err := keyOf(d.Key.rawValue()); err != nil {
				return errors.Wrapf(err, "driver: snapshot collection %s", name)
			}
			if err := bson.Raw(d.Body).Validate(); err != nil {
				return errors.Wrapf(err, "driver: snapshot collection %s", name)
			}
			m[d.Key] = bson.Raw(d.Body)
		}
		collections[name] = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.collections = collections
	return nil
}
