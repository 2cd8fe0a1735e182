package gotype

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

type testProfile struct {
	Name  string
	Email string
	Age   *int
	Tags  []string
}

func TestHydrate_Entity(t *testing.T) {
	m := newTestMapper(t)
	data := map[string]any{
		"name":  "Alice",
		"email": "alice@example.com",
		"age":   float64(30), // JSON numbers come as float64
		"tags":  []any{"a", "b"},
	}

	profile := &testProfile{}
	if err := m.Hydrate(profile, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Name != "Alice" {
		t.Errorf("Name: got %q, want %q", profile.Name, "Alice")
	}
	if profile.Email != "alice@example.com" {
		t.Errorf("Email: got %q, want %q", profile.Email, "alice@example.com")
	}
	if profile.Age == nil {
		t.Fatal("Age should not be nil")
	}
	if *profile.Age != 30 {
		t.Errorf("Age: got %d, want 30", *profile.Age)
	}
	if len(profile.Tags) != 2 || profile.Tags[1] != "b" {
		t.Errorf("Tags: got %v", profile.Tags)
	}
}

func TestHydrate_NilOptional(t *testing.T) {
	m := newTestMapper(t)
	profile := &testProfile{}
	if err := m.Hydrate(profile, map[string]any{"name": "Bob", "age": nil}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Age != nil {
		t.Error("Age should be nil")
	}
}

func TestHydrate_StringNumber(t *testing.T) {
	m := newTestMapper(t)
	profile := &testProfile{}
	if err := m.Hydrate(profile, map[string]any{"age": "41"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Age == nil || *profile.Age != 41 {
		t.Errorf("Age: got %v", profile.Age)
	}
}

func TestHydrate_TypeMismatch(t *testing.T) {
	m := newTestMapper(t)
	err := m.Hydrate(&testProfile{}, map[string]any{"age": 1.5})
	var merr *MappingError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	if merr.Property != "Age" {
		t.Errorf("Property: got %q, want Age", merr.Property)
	}
}

func TestHydrate_FloatOverflow(t *testing.T) {
	type counter struct{ N int64 }
	m := newTestMapper(t)
	err := m.Hydrate(&counter{}, map[string]any{"n": float64(1 << 63)})
	var merr *MappingError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MappingError, got %v", err)
	}
}

func TestHydrateNew(t *testing.T) {
	m := newTestMapper(t)
	player, err := HydrateNew[testPlayer](m, map[string]any{"name": "ada", "score": 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if player.Name != "ada" || player.Score != 7 {
		t.Errorf("got %+v", player)
	}
}

func TestHydrateAny(t *testing.T) {
	m := newTestMapper(t)
	MustRegister[testPlayer](m)
	MustRegister[testBook](m)

	v, err := m.HydrateAny(map[string]any{"_t": "book", "_id": "b1", "title": "Go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	book, ok := v.(*testBook)
	if !ok {
		t.Fatalf("expected *testBook, got %T", v)
	}
	if book.ID != "b1" || book.Title != "Go" {
		t.Errorf("got %+v", book)
	}
}

func TestHydrateAny_Errors(t *testing.T) {
	m := newTestMapper(t)
	MustRegister[testPlayer](m)

	if _, err := m.HydrateAny(map[string]any{"name": "ada"}); err == nil {
		t.Error("data without a discriminator should fail")
	}

	_, err := m.HydrateAny(map[string]any{"_t": "ghost"})
	var nre *NotRegisteredError
	if !errors.As(err, &nre) {
		t.Fatalf("expected NotRegisteredError, got %v", err)
	}
	if nre.TypeName != "ghost" {
		t.Errorf("TypeName: got %q", nre.TypeName)
	}
}

func TestDecodeAny_AlternateNames(t *testing.T) {
	m := newTestMapper(t)
	MustRegister[testBook](m)

	raw := mustRaw(t, bson.D{{Key: "_t", Value: "book"}, {Key: "_id", Value: "b1"}, {Key: "heading", Value: "Old title"}})
	v, err := m.DecodeAny(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.(*testBook).Title; got != "Old title" {
		t.Errorf("Title: got %q", got)
	}
}
