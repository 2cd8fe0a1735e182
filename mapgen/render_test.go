package mapgen

import (
	"bytes"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
	"testing"
)

var spaces = regexp.MustCompile(`[ \t]+`)

// renderSchema parses and renders src, failing the test if the output is
// not valid Go. Runs of blanks are collapsed so gofmt alignment does not
// matter to assertions.
func renderSchema(t *testing.T, src string, cfg RenderConfig) string {
	t.Helper()
	schema, err := ParseSchema(src)
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	var buf bytes.Buffer
	if err := Render(&buf, schema, cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "models_gen.go", buf.Bytes(), parser.ParseComments); err != nil {
		t.Fatalf("generated code does not parse: %v\n%s", err, buf.String())
	}
	return spaces.ReplaceAllString(buf.String(), " ")
}

func assertContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("missing %q in\n%s", w, out)
		}
	}
}

func TestRender_Enums(t *testing.T) {
	out := renderSchema(t, testSchema, DefaultConfig())
	assertContains(t, out,
		"// Genre of a book.\ntype Genre string",
		`GenreFiction Genre = "fic"`,
		`GenrePoetry Genre = "poetry"`,
		"// Format values are stored by name.",
		`FormatEbook Format = "ebook"`,
		"gotype.RegisterEnum(m, GenreFiction, GenrePoetry)",
		"gotype.RegisterEnum(m, FormatHardcover, FormatPaperback, FormatEbook)",
	)
}

func TestRender_Entities(t *testing.T) {
	out := renderSchema(t, testSchema, DefaultConfig())
	assertContains(t, out,
		"// Code generated by mapgen. DO NOT EDIT.",
		"package models",
		`"github.com/CaliLuke/go-odm/gotype"`,
		`"go.mongodb.org/mongo-driver/bson/primitive"`,

		"type Author struct {",
		"gotype.Document `odm:\"collection:authors,discriminator:Author\"`",
		"ID primitive.ObjectID `odm:\"_id\"`",
		"Email *string `odm:\"email,alt:mail|e_mail\"`",

		"type Book struct {",
		"gotype.Document `odm:\"collection:media,discriminator:book\"`",
		"\n Media\n",
		"Author gotype.Ref[Author] `odm:\"author\"`",
		"Editors []*Author `odm:\"editors,ref,idonly,ignoremissing\"`",
		"Genre Genre `odm:\"genre\"`",
		"Ratings map[string]float64 `odm:\"ratings\"`",
		"ISBN string `odm:\"isbn13,readonly\"`",
		"Blob any `odm:\"blob,serialized\"`",
		"Cached int32 `odm:\"cached,loadonly\"`",

		"gotype.Document `odm:\"nodiscriminator,discriminatorkey:kind\"`",
	)
	if strings.Contains(out, `"time"`) || strings.Contains(out, "uuid") {
		t.Error("unused imports rendered")
	}
}

func TestRender_AbstractEntities(t *testing.T) {
	out := renderSchema(t, testSchema, DefaultConfig())
	assertContains(t, out,
		"// Media is anything in the catalogue.\ntype Media struct {\n ID primitive.ObjectID",
		"type MediaKind interface {\n isMedia()\n}",
		"func (*Media) isMedia() {}",
		"gotype.Register[Book](m)",
	)
	if strings.Contains(out, "gotype.Register[Media]") {
		t.Error("abstract entities must not be registered")
	}
	media := out[strings.Index(out, "type Media struct"):]
	media = media[:strings.Index(media, "}")]
	if strings.Contains(media, "gotype.Document") {
		t.Error("abstract entities carry no Document marker")
	}
}

func TestRender_TypeMapping(t *testing.T) {
	out := renderSchema(t, `
abstract entity Shape { area double }
entity Circle extends Shape { radius double }
entity Drawing collection "drawings" {
    id uuid @id
    created datetime
    ttl duration?
    price decimal?
    count long?
    data bytes?
    main Shape
    shapes list<Shape>
    border Circle?
    layers map<list<string>>
    meta any?
}
`, DefaultConfig())
	assertContains(t, out,
		"\"time\"\n\n \"github.com/CaliLuke/go-odm/gotype\"",
		`"github.com/google/uuid"`,
		"ID uuid.UUID `odm:\"_id\"`",
		"Created time.Time",
		"TTL *time.Duration",
		"Price *primitive.Decimal128",
		"Count *int64",
		"Data []byte",
		"Main ShapeKind",
		"Shapes []ShapeKind",
		"Border *Circle",
		"Layers map[string][]string",
		"Meta any",
		"gotype.Document `odm:\"discriminator:Circle\"`",
	)
}

func TestRender_Config(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PackageName = "catalog"
	cfg.UseAcronyms = false
	cfg.SchemaVersion = "2024-01"
	out := renderSchema(t, `entity Item collection "items" { id string @id; homepage_url string }`, cfg)
	assertContains(t, out,
		"// Schema version: 2024-01",
		"package catalog",
		"Id string `odm:\"_id\"`",
		"HomepageUrl string",
	)
}

func TestRender_EmptySchema(t *testing.T) {
	out := renderSchema(t, "", RenderConfig{})
	assertContains(t, out, "package models", "func Register(m *gotype.Mapper) error {\n return nil\n}")
}
