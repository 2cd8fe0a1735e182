package gotype

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// --- Options ---

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]byte("storeNulls: true\npropertyNaming: snake\n"))
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	want := DefaultOptions()
	want.StoreNulls = true
	want.PropertyNaming = NamingSnake
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown naming", "propertyNaming: shouting\n"},
		{"reserved discriminator key", "discriminatorKey: $type\n"},
		{"empty discriminator key", "discriminatorKey: \"\"\n"},
		{"malformed", "storeNulls: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseOptions([]byte(tc.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapper.yaml")
	if err := os.WriteFile(path, []byte("collectionNaming: kebab\nalwaysDiscriminate: false\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if opts.CollectionNaming != NamingKebab || opts.AlwaysDiscriminate {
		t.Errorf("got %+v", opts)
	}
	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestNewMapper_InvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.PropertyNaming = "shouting"
	if _, err := NewMapper(WithOptions(opts)); err == nil {
		t.Error("NewMapper should reject invalid options")
	}
}

// --- Encoding entry points ---

func TestMarshal_Nil(t *testing.T) {
	m := newTestMapper(t)
	if _, err := m.Marshal(nil); err == nil {
		t.Error("Marshal(nil) should fail")
	}
}

func TestEncodeValue_LeavesWriterUntouchedOnError(t *testing.T) {
	type unsigned struct{ N uint64 }
	m := newTestMapper(t)

	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	dw, err := vw.WriteDocument()
	if err != nil {
		t.Fatal(err)
	}
	ew, err := dw.WriteDocumentElement("x")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EncodeValue(ew, unsigned{N: math.MaxUint64}); err == nil {
		t.Fatal("expected an overflow error")
	}
	// the element is still writable
	if err := ew.WriteString("fallback"); err != nil {
		t.Fatalf("WriteString after failed encode: %v", err)
	}
	if err := dw.WriteDocumentEnd(); err != nil {
		t.Fatal(err)
	}
	if got := bson.Raw(buf.Bytes()).Lookup("x").StringValue(); got != "fallback" {
		t.Errorf("x: got %q", got)
	}
}

func TestMarshalValue(t *testing.T) {
	m := newTestMapper(t)
	u := uuid.New()
	rv, err := m.MarshalValue(u)
	if err != nil {
		t.Fatalf("MarshalValue: %v", err)
	}
	subtype, data := rv.Binary()
	if subtype != bsontype.BinaryUUID || !bytes.Equal(data, u[:]) {
		t.Errorf("uuid: got subtype %d", subtype)
	}

	rv, err = m.MarshalValue("b1")
	if err != nil {
		t.Fatalf("MarshalValue: %v", err)
	}
	if rv.StringValue() != "b1" {
		t.Errorf("string: got %s", rv)
	}

	same, err := m.MarshalValue(rv)
	if err != nil || !same.Equal(rv) {
		t.Errorf("raw values pass through, got %s (%v)", same, err)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	m := newTestMapper(t)
	var out testPlayer
	if err := m.Unmarshal(nil, &out); err == nil {
		t.Error("empty input should fail")
	}
	if err := m.Unmarshal([]byte{5, 0, 0, 0, 1}, &out); err == nil {
		t.Error("corrupt document should fail")
	}
	raw := mustRaw(t, bson.D{{Key: "name", Value: "ada"}})
	if err := m.Unmarshal(raw, out); err == nil {
		t.Error("non-pointer target should fail")
	}
}

func TestRefresh_KeepsAbsentProperties(t *testing.T) {
	m := newTestMapper(t)
	out := testWithDefaults{Name: "old", Status: "published"}
	raw := mustRaw(t, bson.D{{Key: "name", Value: "new"}})
	if err := m.Refresh(t.Context(), raw, &out); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	want := testWithDefaults{Name: "new", Status: "published"}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

// --- Documents ---

func TestToDocument(t *testing.T) {
	m := newTestMapper(t)
	doc, err := m.ToDocument(testPlayer{Name: "ada", Score: 42, Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}
	want := bson.M{"_t": "testPlayer", "name": "ada", "score": int32(42), "tags": []any{"x"}}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	var out testPlayer
	if err := m.FromDocument(doc, &out); err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if diff := cmp.Diff(testPlayer{Name: "ada", Score: 42, Tags: []string{"x"}}, out); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

// --- Driver interop ---

func TestBSONRegistry(t *testing.T) {
	m := newTestMapper(t)
	if err := RegisterEnum(m, colorRed, colorGreen, colorBlue); err != nil {
		t.Fatal(err)
	}
	if err := RegisterEnum(m, sizeSmall, sizeLarge); err != nil {
		t.Fatal(err)
	}
	MustRegister[testPlayer](m)
	MustRegister[testShirt](m)
	reg := m.BSONRegistry()

	raw, err := bson.MarshalWithRegistry(reg, bson.D{
		{Key: "player", Value: testPlayer{Name: "ada", Score: 1}},
		{Key: "shirt", Value: testShirt{Color: colorGreen, Size: sizeSmall}},
	})
	if err != nil {
		t.Fatalf("MarshalWithRegistry: %v", err)
	}
	doc := bson.Raw(raw)
	if got := doc.Lookup("player", "_t").StringValue(); got != "testPlayer" {
		t.Errorf("player._t: got %q", got)
	}
	if got := doc.Lookup("shirt", "color").StringValue(); got != "green" {
		t.Errorf("shirt.color: got %q", got)
	}

	var out struct {
		Player testPlayer `bson:"player"`
		Shirt  testShirt  `bson:"shirt"`
	}
	if err := bson.UnmarshalWithRegistry(reg, raw, &out); err != nil {
		t.Fatalf("UnmarshalWithRegistry: %v", err)
	}
	if out.Player.Name != "ada" || out.Shirt.Color != colorGreen || out.Shirt.Size != sizeSmall {
		t.Errorf("got %+v", out)
	}
}

func TestBSONRegistry_DecodeErrors(t *testing.T) {
	m := newTestMapper(t)
	MustRegister[testPlayer](m)
	raw := mustRaw(t, bson.D{{Key: "p", Value: bson.D{{Key: "score", Value: 2.5}}}})

	var out struct {
		P testPlayer `bson:"p"`
	}
	err := bson.UnmarshalWithRegistry(m.BSONRegistry(), raw, &out)
	var merr *MappingError
	if !errors.As(err, &merr) {
		t.Errorf("expected MappingError, got %v", err)
	}
}
