package mapgen

import (
	"strings"
	"testing"
)

const testSchema = `
# Genre of a book.
enum Genre {
    fiction "fic",
    poetry
}

enum Format { hardcover paperback ebook }

entity Author collection "authors" {
    id objectid @id
    name string
    email string? @alt("mail", "e_mail")
}

// Media is anything in the catalogue.
abstract entity Media collection "media" {
    id objectid @id;
    title string;
}

entity Book extends Media discriminator "book" {
    author ref<Author> @lazy
    editors list<ref<Author>> @idonly @ignoremissing
    genre Genre
    tags list<string>
    ratings map<string, double>
    isbn string @name("isbn13") @readonly
    blob any @serialized
    cached int @loadonly
}

entity Note nodiscriminator discriminatorkey "kind" {
    id string @id
    text string
}
`

func TestParseSchema_Enums(t *testing.T) {
	schema, err := ParseSchema(testSchema)
	if err != nil {
		t.Fatalf("ParseSchema failed: %v", err)
	}
	if len(schema.Enums) != 2 {
		t.Fatalf("expected 2 enums, got %d", len(schema.Enums))
	}

	genre := schema.Enums[0]
	if genre.Name != "Genre" || len(genre.Values) != 2 {
		t.Fatalf("unexpected enum: %+v", genre)
	}
	if genre.Values[0] != (EnumValueSpec{Name: "fiction", Stored: "fic"}) {
		t.Errorf("fiction: got %+v", genre.Values[0])
	}
	if genre.Values[1] != (EnumValueSpec{Name: "poetry", Stored: "poetry"}) {
		t.Errorf("poetry should default its stored name, got %+v", genre.Values[1])
	}

	if got := len(schema.Enums[1].Values); got != 3 {
		t.Errorf("Format: expected 3 values without separators, got %d", got)
	}
}

func TestParseSchema_Entities(t *testing.T) {
	schema, err := ParseSchema(testSchema)
	if err != nil {
		t.Fatalf("ParseSchema failed: %v", err)
	}
	if len(schema.Entities) != 4 {
		t.Fatalf("expected 4 entities, got %d", len(schema.Entities))
	}

	media, _ := schema.Entity("Media")
	if !media.Abstract || media.Collection != "media" {
		t.Errorf("Media: got %+v", media)
	}

	book, ok := schema.Entity("Book")
	if !ok {
		t.Fatal("Book not found")
	}
	if book.Parent != "Media" || book.Discriminator != "book" || book.Abstract {
		t.Errorf("Book: got parent=%q discriminator=%q abstract=%v", book.Parent, book.Discriminator, book.Abstract)
	}
	if len(book.Fields) != 8 {
		t.Fatalf("Book: expected 8 fields, got %d", len(book.Fields))
	}

	note, _ := schema.Entity("Note")
	if !note.NoDiscriminator || note.DiscriminatorKey != "kind" {
		t.Errorf("Note: got %+v", note)
	}
}

func TestParseSchema_FieldAnnotations(t *testing.T) {
	schema, err := ParseSchema(testSchema)
	if err != nil {
		t.Fatalf("ParseSchema failed: %v", err)
	}
	book, _ := schema.Entity("Book")
	fields := make(map[string]FieldSpec)
	for _, f := range book.Fields {
		fields[f.Name] = f
	}

	if f := fields["author"]; !f.Lazy || f.Type.String() != "ref<Author>" {
		t.Errorf("author: got %+v", f)
	}
	if f := fields["editors"]; !f.IDOnly || !f.IgnoreMissing || f.Type.String() != "list<ref<Author>>" {
		t.Errorf("editors: got %+v", f)
	}
	if f := fields["ratings"]; f.Type.String() != "map<string, double>" {
		t.Errorf("ratings: got %s", f.Type)
	}
	if f := fields["isbn"]; f.StorageName() != "isbn13" || !f.ReadOnly {
		t.Errorf("isbn: got %+v", f)
	}
	if !fields["blob"].Serialized || !fields["cached"].LoadOnly {
		t.Error("blob should be serialized and cached loadonly")
	}

	author, _ := schema.Entity("Author")
	email := author.Fields[2]
	if !email.Type.Optional {
		t.Error("email should be optional")
	}
	if strings.Join(email.AltNames, ",") != "mail,e_mail" {
		t.Errorf("email alt names: got %v", email.AltNames)
	}
	if id := author.Fields[0]; !id.ID || id.StorageName() != "_id" {
		t.Errorf("id: got %+v", id)
	}
}

func TestParseSchema_Docs(t *testing.T) {
	schema, err := ParseSchema(testSchema)
	if err != nil {
		t.Fatalf("ParseSchema failed: %v", err)
	}
	if got := schema.Docs["Genre"]; got != "Genre of a book." {
		t.Errorf("Genre doc: got %q", got)
	}
	if got := schema.Docs["Media"]; got != "Media is anything in the catalogue." {
		t.Errorf("Media doc: got %q", got)
	}
	if _, ok := schema.Docs["Author"]; ok {
		t.Error("Author has no doc comment")
	}
}

func TestParseSchema_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"missing brace", "entity Book { title string"},
		{"unknown keyword", "table Book { }"},
		{"unclosed generic", "entity Book { tags list<string }"},
		{"unknown annotation", "entity Book { title string @unique }"},
		{"flag with arguments", `entity Book { title string @readonly("x") }`},
		{"name without argument", "entity Book { title string @name }"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseSchema(tc.schema); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseSchemaFile_Missing(t *testing.T) {
	if _, err := ParseSchemaFile(t.TempDir() + "/missing.odm"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestExtractDocs(t *testing.T) {
	input := `
# first line
# second line
entity A { }

# orphaned

entity B { }
// abstract doc
abstract entity C { }
`
	docs := ExtractDocs(input)
	if got := docs["A"]; got != "first line\nsecond line" {
		t.Errorf("A: got %q", got)
	}
	if _, ok := docs["B"]; ok {
		t.Error("a blank line should detach the comment from B")
	}
	if got := docs["C"]; got != "abstract doc" {
		t.Errorf("C: got %q", got)
	}
}
