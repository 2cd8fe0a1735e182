package driver

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/CaliLuke/go-odm/gotype"
	"github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func rawID(t *testing.T, v any) bson.RawValue {
	t.Helper()
	typ, data, err := bson.MarshalValue(v)
	assert.NilError(t, err)
	return bson.RawValue{Type: typ, Value: data}
}

func rawDoc(t *testing.T, d bson.D) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(d)
	assert.NilError(t, err)
	return b
}

func testOptions() *Options {
	logger, _ := test.NewNullLogger()
	return NewOptions().SetLogger(logger)
}

// storeFactories opens each store kind for the shared conformance tests.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite-memory": func(t *testing.T) Store {
			s, err := OpenSQLite(":memory:", testOptions())
			assert.NilError(t, err)
			return s
		},
		"sqlite-file": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"), testOptions())
			assert.NilError(t, err)
			return s
		},
		"cached-memory": func(t *testing.T) Store {
			s, err := NewCachedStore(NewMemoryStore(), 8)
			assert.NilError(t, err)
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

// --- Conformance ---

func TestStore_PutFetch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := rawID(t, "b1")
		doc := rawDoc(t, bson.D{{Key: "_id", Value: "b1"}, {Key: "title", Value: "Go"}})

		assert.NilError(t, s.Put(ctx, "books", id, doc))
		got, err := s.Fetch(ctx, "books", id)
		assert.NilError(t, err)
		assert.Equal(t, "Go", got.Lookup("title").StringValue())

		replaced := rawDoc(t, bson.D{{Key: "_id", Value: "b1"}, {Key: "title", Value: "Rust"}})
		assert.NilError(t, s.Put(ctx, "books", id, replaced))
		got, err = s.Fetch(ctx, "books", id)
		assert.NilError(t, err)
		assert.Equal(t, "Rust", got.Lookup("title").StringValue())

		n, err := s.Count(ctx, "books")
		assert.NilError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_Missing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		got, err := s.Fetch(context.Background(), "books", rawID(t, "nope"))
		assert.NilError(t, err)
		assert.Check(t, is.Nil(got))
	})
}

func TestStore_KeysIncludeIDType(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		assert.NilError(t, s.Put(ctx, "c", rawID(t, int32(1)), rawDoc(t, bson.D{{Key: "n", Value: "int32"}})))
		assert.NilError(t, s.Put(ctx, "c", rawID(t, int64(1)), rawDoc(t, bson.D{{Key: "n", Value: "int64"}})))
		assert.NilError(t, s.Put(ctx, "other", rawID(t, int32(1)), rawDoc(t, bson.D{{Key: "n", Value: "other"}})))

		got, err := s.Fetch(ctx, "c", rawID(t, int32(1)))
		assert.NilError(t, err)
		assert.Equal(t, "int32", got.Lookup("n").StringValue())

		n, err := s.Count(ctx, "c")
		assert.NilError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := rawID(t, primitive.NewObjectID())
		assert.NilError(t, s.Put(ctx, "authors", id, rawDoc(t, bson.D{{Key: "name", Value: "ada"}})))

		deleted, err := s.Delete(ctx, "authors", id)
		assert.NilError(t, err)
		assert.Check(t, deleted)

		deleted, err = s.Delete(ctx, "authors", id)
		assert.NilError(t, err)
		assert.Check(t, !deleted)

		got, err := s.Fetch(ctx, "authors", id)
		assert.NilError(t, err)
		assert.Check(t, is.Nil(got))
	})
}

func TestStore_InvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		doc := rawDoc(t, bson.D{{Key: "x", Value: 1}})

		err := s.Put(ctx, "c", bson.RawValue{}, doc)
		assert.ErrorIs(t, err, ErrInvalidID)
		var serr *StoreError
		assert.Assert(t, errors.As(err, &serr))
		assert.Equal(t, "put", serr.Op)
		assert.Equal(t, "c", serr.Collection)

		_, err = s.Fetch(ctx, "c", bson.RawValue{Type: bsontype.Null})
		assert.ErrorIs(t, err, ErrInvalidID)
		_, err = s.Delete(ctx, "c", bson.RawValue{Type: bsontype.Undefined})
		assert.ErrorIs(t, err, ErrInvalidID)

		err = s.Put(ctx, "c", rawID(t, "x"), bson.Raw{5, 0, 0, 0, 1})
		assert.Check(t, err != nil)
	})
}

func TestStore_Closed(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			assert.NilError(t, s.Close())
			assert.NilError(t, s.Close())

			_, err := s.Fetch(ctx, "c", rawID(t, "x"))
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, s.Put(ctx, "c", rawID(t, "x"), rawDoc(t, bson.D{})), ErrClosed)
			_, err = s.Count(ctx, "c")
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.Check(t, s.Put(ctx, "c", rawID(t, int32(i)), rawDoc(t, bson.D{{Key: "i", Value: int32(i)}})))
			}()
		}
		wg.Wait()
		n, err := s.Count(ctx, "c")
		assert.NilError(t, err)
		assert.Equal(t, 20, n)
	})
}

// --- Datastore integration ---

type note struct {
	ID   primitive.ObjectID `odm:"_id"`
	Text string
}

func TestStore_WithDatastore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m, err := gotype.NewMapper()
		assert.NilError(t, err)
		gotype.MustRegister[note](m)
		ds := gotype.NewDatastore(m, s)

		n := &note{Text: "hello"}
		assert.NilError(t, ds.Save(ctx, n))
		assert.Assert(t, !n.ID.IsZero())

		got, err := gotype.Get[note](ctx, ds, n.ID)
		assert.NilError(t, err)
		assert.Equal(t, "hello", got.Text)
	})
}

// --- Open ---

func TestOpen(t *testing.T) {
	s, err := Open("mem://", nil)
	assert.NilError(t, err)
	_, ok := s.(*MemoryStore)
	assert.Check(t, ok, "mem:// opens a %T", s)
	assert.NilError(t, s.Close())

	path := filepath.Join(t.TempDir(), "odm.db")
	s, err = Open("sqlite://"+path, testOptions())
	assert.NilError(t, err)
	sq, ok := s.(*SQLiteStore)
	assert.Assert(t, ok)
	assert.Equal(t, path, sq.Path())
	assert.NilError(t, s.Close())

	s, err = Open("mem://", testOptions().SetCacheSize(4))
	assert.NilError(t, err)
	cached, ok := s.(*CachedStore)
	assert.Assert(t, ok)
	_, ok = cached.Inner().(*MemoryStore)
	assert.Check(t, ok, "cached store wraps a %T", cached.Inner())
	assert.NilError(t, s.Close())
}

func TestOpen_Unsupported(t *testing.T) {
	for _, uri := range []string{"", "postgres://localhost", "sqlite://"} {
		_, err := Open(uri, nil)
		assert.ErrorIs(t, err, ErrUnsupportedURI, uri)
	}
}

func TestSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "odm.db")
	s, err := OpenSQLite(path, testOptions().SetJournalMode(JournalDelete))
	assert.NilError(t, err)
	assert.NilError(t, s.Put(ctx, "books", rawID(t, "b1"), rawDoc(t, bson.D{{Key: "title", Value: "Go"}})))
	assert.NilError(t, s.Close())

	s, err = OpenSQLite(path, testOptions())
	assert.NilError(t, err)
	defer s.Close()
	got, err := s.Fetch(ctx, "books", rawID(t, "b1"))
	assert.NilError(t, err)
	assert.Equal(t, "Go", got.Lookup("title").StringValue())

	names, err := s.Collections(ctx)
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{"books"}, names)
}

// --- Batches ---

func TestBatch_Commit(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "odm.db"), testOptions())
	assert.NilError(t, err)
	defer s.Close()

	b, err := s.Begin(ctx)
	assert.NilError(t, err)
	assert.Assert(t, b.IsOpen())
	assert.NilError(t, b.Put(ctx, "c", rawID(t, "a"), rawDoc(t, bson.D{{Key: "v", Value: 1}})))
	assert.NilError(t, b.Put(ctx, "c", rawID(t, "b"), rawDoc(t, bson.D{{Key: "v", Value: 2}})))

	// the batch reads its own writes
	got, err := b.Fetch(ctx, "c", rawID(t, "a"))
	assert.NilError(t, err)
	assert.Check(t, got != nil)

	assert.NilError(t, b.Commit())
	assert.Check(t, !b.IsOpen())
	assert.ErrorIs(t, b.Commit(), ErrClosed)
	assert.ErrorIs(t, b.Put(ctx, "c", rawID(t, "z"), rawDoc(t, bson.D{})), ErrClosed)

	n, err := s.Count(ctx, "c")
	assert.NilError(t, err)
	assert.Equal(t, 2, n)
}

func TestBatch_Rollback(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:", testOptions())
	assert.NilError(t, err)
	defer s.Close()
	assert.NilError(t, s.Put(ctx, "c", rawID(t, "keep"), rawDoc(t, bson.D{})))

	b, err := s.Begin(ctx)
	assert.NilError(t, err)
	assert.NilError(t, b.Put(ctx, "c", rawID(t, "new"), rawDoc(t, bson.D{})))
	deleted, err := b.Delete(ctx, "c", rawID(t, "keep"))
	assert.NilError(t, err)
	assert.Check(t, deleted)
	assert.NilError(t, b.Rollback())

	n, err := s.Count(ctx, "c")
	assert.NilError(t, err)
	assert.Equal(t, 1, n)

	b, err = s.Begin(ctx)
	assert.NilError(t, err)
	assert.NilError(t, b.Put(ctx, "c", rawID(t, "dropped"), rawDoc(t, bson.D{})))
	b.Close()
	assert.Check(t, !b.IsOpen())
	got, err := s.Fetch(ctx, "c", rawID(t, "dropped"))
	assert.NilError(t, err)
	assert.Check(t, is.Nil(got))
}

// --- Snapshots ---

func TestMemoryStore_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore()
	oid := primitive.NewObjectID()
	assert.NilError(t, src.Put(ctx, "authors", rawID(t, oid), rawDoc(t, bson.D{{Key: "name", Value: "ada"}})))
	assert.NilError(t, src.Put(ctx, "books", rawID(t, "b1"), rawDoc(t, bson.D{{Key: "title", Value: "Go"}})))
	assert.NilError(t, src.Put(ctx, "books", rawID(t, int32(7)), rawDoc(t, bson.D{{Key: "title", Value: "Seven"}})))

	var buf bytes.Buffer
	assert.NilError(t, src.Snapshot(&buf))

	dst := NewMemoryStore()
	assert.NilError(t, dst.Put(ctx, "stale", rawID(t, "x"), rawDoc(t, bson.D{})))
	assert.NilError(t, dst.Restore(bytes.NewReader(buf.Bytes())))

	assert.DeepEqual(t, []string{"authors", "books"}, dst.Collections())
	got, err := dst.Fetch(ctx, "authors", rawID(t, oid))
	assert.NilError(t, err)
	assert.Equal(t, "ada", got.Lookup("name").StringValue())
	got, err = dst.Fetch(ctx, "books", rawID(t, int32(7)))
	assert.NilError(t, err)
	assert.Equal(t, "Seven", got.Lookup("title").StringValue())
}

func TestMemoryStore_RestoreRejectsCorruptSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	assert.NilError(t, s.Put(ctx, "c", rawID(t, "x"), rawDoc(t, bson.D{})))

	assert.Check(t, s.Restore(bytes.NewReader([]byte{0xc1})) != nil)

	var buf bytes.Buffer
	bad := NewMemoryStore()
	bad.collections["c"] = map[docKey]bson.Raw{{IDType: 0x02, ID: "\x02\x00\x00\x00y\x00"}: {1, 2, 3}}
	assert.NilError(t, bad.Snapshot(&buf))
	assert.Check(t, s.Restore(&buf) != nil)

	n, err := s.Count(ctx, "c")
	assert.NilError(t, err)
	assert.Equal(t, 1, n, "a failed restore leaves the store unchanged")
}

// --- Cache ---

// countingStore counts fetches that reach the wrapped store.
type countingStore struct {
	Store
	fetches atomic.Int32
}

func (s *countingStore) Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	s.fetches.Add(1)
	return s.Store.Fetch(ctx, collection, id)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemoryStore()}
	s, err := NewCachedStore(inner, 2)
	assert.NilError(t, err)
	id := rawID(t, "b1")
	assert.NilError(t, s.Put(ctx, "books", id, rawDoc(t, bson.D{{Key: "title", Value: "Go"}})))

	for range 3 {
		got, err := s.Fetch(ctx, "books", id)
		assert.NilError(t, err)
		assert.Equal(t, "Go", got.Lookup("title").StringValue())
	}
	assert.Equal(t, int32(1), inner.fetches.Load())
	assert.Equal(t, 1, s.Len())

	assert.NilError(t, s.Put(ctx, "books", id, rawDoc(t, bson.D{{Key: "title", Value: "Rust"}})))
	got, err := s.Fetch(ctx, "books", id)
	assert.NilError(t, err)
	assert.Equal(t, "Rust", got.Lookup("title").StringValue(), "Put invalidates the cached document")
	assert.Equal(t, int32(2), inner.fetches.Load())

	_, err = s.Delete(ctx, "books", id)
	assert.NilError(t, err)
	got, err = s.Fetch(ctx, "books", id)
	assert.NilError(t, err)
	assert.Check(t, is.Nil(got))
}

func TestCachedStore_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemoryStore()}
	s, err := NewCachedStore(inner, 2)
	assert.NilError(t, err)

	for range 2 {
		got, err := s.Fetch(ctx, "books", rawID(t, "none"))
		assert.NilError(t, err)
		assert.Check(t, is.Nil(got))
	}
	assert.Equal(t, int32(2), inner.fetches.Load())
	assert.Check(t, is.Equal(0, s.Len()))
}

func TestCachedStore_Eviction(t *testing.T) {
	ctx := context.Background()
	s, err := NewCachedStore(NewMemoryStore(), 2)
	assert.NilError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		assert.NilError(t, s.Put(ctx, "c", rawID(t, id), rawDoc(t, bson.D{})))
		_, err := s.Fetch(ctx, "c", rawID(t, id))
		assert.NilError(t, err)
	}
	assert.Equal(t, 2, s.Len())

	_, err = NewCachedStore(NewMemoryStore(), 0)
	assert.Check(t, err != nil)
}

// gatedStore holds its first fetch after reading from the wrapped store
// until release is closed. The held fetch then honours its context.
type gatedStore struct {
	Store
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedStore(inner Store) *gatedStore {
	return &gatedStore{Store: inner, started: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStore) Fetch(ctx context.Context, collection string, id bson.RawValue) (bson.Raw, error) {
	doc, err := s.Store.Fetch(ctx, collection, id)
	held := false
	s.once.Do(func() { held = true })
	if !held {
		return doc, err
	}
	close(s.started)
	<-s.release
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return doc, err
}

func TestCachedStore_WriteDuringFetch(t *testing.T) {
	ctx := context.Background()
	inner := newGatedStore(NewMemoryStore())
	s, err := NewCachedStore(inner, 4)
	assert.NilError(t, err)
	id := rawID(t, "k")
	assert.NilError(t, inner.Put(ctx, "c", id, rawDoc(t, bson.D{{Key: "v", Value: int32(1)}})))

	done := make(chan error, 1)
	go func() {
		_, err := s.Fetch(ctx, "c", id)
		done <- err
	}()
	<-inner.started
	assert.NilError(t, s.Put(ctx, "c", id, rawDoc(t, bson.D{{Key: "v", Value: int32(2)}})))
	close(inner.release)
	assert.NilError(t, <-done)

	got, err := s.Fetch(ctx, "c", id)
	assert.NilError(t, err)
	assert.Equal(t, int32(2), got.Lookup("v").Int32(), "a fetch overlapping a write must not fill the cache")
}

func TestCachedStore_CallerCancellation(t *testing.T) {
	ctx := context.Background()
	inner := newGatedStore(NewMemoryStore())
	s, err := NewCachedStore(inner, 4)
	assert.NilError(t, err)
	id := rawID(t, "k")
	assert.NilError(t, inner.Put(ctx, "c", id, rawDoc(t, bson.D{{Key: "v", Value: int32(1)}})))

	first, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Fetch(first, "c", id)
		firstErr <- err
	}()
	<-inner.started

	type result struct {
		doc bson.Raw
		err error
	}
	second := make(chan result, 1)
	go func() {
		doc, err := s.Fetch(ctx, "c", id)
		second <- result{doc, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(inner.release)

	res := <-second
	assert.NilError(t, res.err, "one caller's cancellation must not fail the others")
	assert.Equal(t, int32(1), res.doc.Lookup("v").Int32())

	got, err := s.Fetch(ctx, "c", id)
	assert.NilError(t, err)
	assert.Equal(t, int32(1), got.Lookup("v").Int32())
}
