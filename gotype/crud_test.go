package gotype

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Test stores ---

// failingStore fails every write.
type failingStore struct {
	*memoryStore
	err error
}

func (s *failingStore) Put(context.Context, string, bson.RawValue, bson.Raw) error {
	return s.err
}

func newTestDatastore(t *testing.T) (*Datastore, *memoryStore) {
	t.Helper()
	m := newTestMapper(t)
	MustRegister[testAuthor](m)
	MustRegister[testBook](m)
	store := newMemoryStore()
	return NewDatastore(m, store), store
}

// --- Datastore ---

func TestDatastore_SaveAssignsObjectID(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)

	author := &testAuthor{Name: "ada"}
	if err := ds.Save(ctx, author); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if author.ID.IsZero() {
		t.Fatal("Save should assign an ObjectID")
	}

	got, err := Get[testAuthor](ctx, ds, author.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != author.ID || got.Name != "ada" {
		t.Errorf("got %+v", got)
	}
}

func TestDatastore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)

	book := &testBook{ID: "b1", Title: "draft"}
	if err := ds.Save(ctx, book); err != nil {
		t.Fatalf("Save: %v", err)
	}
	book.Title = "final"
	if err := ds.Save(ctx, book); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Get[testBook](ctx, ds, "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "final" {
		t.Errorf("Title: got %q", got.Title)
	}
}

func TestDatastore_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)

	if err := ds.Insert(ctx, &testBook{ID: "b1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := ds.Insert(ctx, &testBook{ID: "b1"})
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	if dup.TypeName != "testBook" {
		t.Errorf("TypeName: got %q", dup.TypeName)
	}
}

func TestDatastore_InvalidEntities(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)

	if err := ds.Save(ctx, testBook{ID: "b1"}); err == nil {
		t.Error("saving a struct value should fail")
	}
	if err := ds.Save(ctx, (*testBook)(nil)); err == nil {
		t.Error("saving a nil pointer should fail")
	}
	err := ds.Save(ctx, &testPlayer{Name: "ada"})
	var cfg *CodecConfigurationError
	if !errors.As(err, &cfg) {
		t.Errorf("saving an entity without id: expected CodecConfigurationError, got %v", err)
	}
}

func TestDatastore_StoreErrors(t *testing.T) {
	boom := errors.New("disk full")
	m := newTestMapper(t)
	ds := NewDatastore(m, &failingStore{memoryStore: newMemoryStore(), err: boom})

	err := ds.Save(context.Background(), &testBook{ID: "b1"})
	if !errors.Is(err, boom) {
		t.Errorf("expected the store error, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	ds, _ := newTestDatastore(t)
	_, err := Get[testBook](context.Background(), ds, "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.TypeName != "testBook" {
		t.Errorf("TypeName: got %q", nf.TypeName)
	}
}

func TestGet_ResolvesReferences(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)

	author := &testAuthor{Name: "ada"}
	if err := ds.Save(ctx, author); err != nil {
		t.Fatalf("Save author: %v", err)
	}
	if err := ds.Save(ctx, &testBook{ID: "b1", Author: author, Editor: NewRef(author)}); err != nil {
		t.Fatalf("Save book: %v", err)
	}

	book, err := Get[testBook](ctx, ds, "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if book.Author == nil || book.Author.Name != "ada" {
		t.Errorf("Author: got %+v", book.Author)
	}
	editor, err := book.Editor.Get(ctx)
	if err != nil {
		t.Fatalf("Editor.Get: %v", err)
	}
	if editor.ID != author.ID {
		t.Errorf("Editor: got %s, want %s", editor.ID.Hex(), author.ID.Hex())
	}
}

func TestDatastore_GetAny(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)
	if err := ds.Save(ctx, &testBook{ID: "b1", Title: "Go"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	v, err := ds.GetAny(ctx, "books", "b1")
	if err != nil {
		t.Fatalf("GetAny: %v", err)
	}
	book, ok := v.(*testBook)
	if !ok || book.Title != "Go" {
		t.Errorf("got %#v", v)
	}

	_, err = ds.GetAny(ctx, "books", "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestDatastore_Delete(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)
	book := &testBook{ID: "b1"}
	if err := ds.Save(ctx, book); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deleted, err := ds.Delete(ctx, book)
	if err != nil || !deleted {
		t.Fatalf("Delete: got (%v, %v)", deleted, err)
	}
	deleted, err = ds.Delete(ctx, book)
	if err != nil || deleted {
		t.Errorf("second Delete: got (%v, %v), want (false, nil)", deleted, err)
	}
	if _, err := Get[testBook](ctx, ds, "b1"); err == nil {
		t.Error("deleted book is still stored")
	}
}

func TestDatastore_Refresh(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)
	book := &testBook{ID: "b1", Title: "stored"}
	if err := ds.Save(ctx, book); err != nil {
		t.Fatalf("Save: %v", err)
	}

	book.Title = "edited"
	book.Internal = "kept"
	if err := ds.Refresh(ctx, book); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if book.Title != "stored" {
		t.Errorf("Title: got %q, want the stored value", book.Title)
	}
	if book.Internal != "kept" {
		t.Errorf("Internal: got %q, unmapped fields keep their values", book.Internal)
	}

	err := ds.Refresh(ctx, &testBook{ID: "missing"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// --- Manager ---

func TestManager_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)
	mgr := NewManager[testAuthor](ds)

	author := &testAuthor{Name: "ada"}
	if err := mgr.Insert(ctx, author); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := mgr.Get(ctx, author.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "ada" {
		t.Errorf("Name: got %q", got.Name)
	}
	if err := mgr.Insert(ctx, nil); err == nil {
		t.Error("inserting nil should fail")
	}
}

func TestManager_InsertMany(t *testing.T) {
	ctx := context.Background()
	ds, store := newTestDatastore(t)
	mgr := NewManager[testBook](ds)

	err := mgr.InsertMany(ctx, []*testBook{{ID: "b1"}, {ID: "b2"}, {ID: "b1"}, {ID: "b3"}})
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}
	for _, id := range []string{"b1", "b2"} {
		if _, err := mgr.Get(ctx, id); err != nil {
			t.Errorf("Get(%s): %v", id, err)
		}
	}
	if _, err := mgr.Get(ctx, "b3"); err == nil {
		t.Error("InsertMany should stop at the first failure")
	}
	if store.fetchCount() == 0 {
		t.Error("Insert should check for existing documents")
	}
}

func TestManager_PutDeleteRefresh(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestDatastore(t)
	mgr := NewManager[testBook](ds)

	book := &testBook{ID: "b1", Title: "one"}
	if err := mgr.Put(ctx, book); err != nil {
		t.Fatalf("Put: %v", err)
	}
	book.Title = "local"
	if err := mgr.Refresh(ctx, book); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if book.Title != "one" {
		t.Errorf("Title: got %q", book.Title)
	}
	if err := mgr.Delete(ctx, book); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	err := mgr.Delete(ctx, book)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("second Delete: expected NotFoundError, got %v", err)
	}
}

func TestManager_Model(t *testing.T) {
	ds, _ := newTestDatastore(t)
	mgr := NewManager[testBook](ds)
	if mgr.Model().Collection != "books" {
		t.Errorf("Collection: got %q", mgr.Model().Collection)
	}
	cmd, err := mgr.Query().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cmd.Collection != "books" {
		t.Errorf("query collection: got %q", cmd.Collection)
	}
}

func TestNewManager_PanicsOnInvalidType(t *testing.T) {
	ds, _ := newTestDatastore(t)
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	NewManager[testUnmarked](ds)
}

func TestAssignID_KeepsExisting(t *testing.T) {
	ds, _ := newTestDatastore(t)
	id := primitive.NewObjectID()
	author := &testAuthor{ID: id}
	if err := ds.Save(context.Background(), author); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if author.ID != id {
		t.Error("Save must not replace an existing id")
	}
}
