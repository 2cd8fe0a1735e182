package mapgen

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// --- Participle grammar structs ---

// schemaFile is the top-level grammar: a sequence of enum and entity
// definitions.
type schemaFile struct {
	Definitions []*definition `parser:"@@*"`
}

type definition struct {
	Enum   *enumDef   `parser:"  @@"`
	Entity *entityDef `parser:"| @@"`
}

// enumDef parses: enum Name { value ["stored"] [,] ... }
type enumDef struct {
	Pos    lexer.Position
	Name   string          `parser:"'enum' @Ident '{'"`
	Values []*enumValueDef `parser:"@@* '}'"`
}

type enumValueDef struct {
	Name   string `parser:"@Ident"`
	Stored string `parser:"@String? ','?"`
}

// entityDef parses: [abstract] entity Name [extends Parent] option* { field* }
type entityDef struct {
	Pos      lexer.Position
	Abstract bool            `parser:"@'abstract'?"`
	Name     string          `parser:"'entity' @Ident"`
	Parent   string          `parser:"( 'extends' @Ident )?"`
	Options  []*entityOption `parser:"@@*"`
	Fields   []*fieldDef     `parser:"'{' @@* '}'"`
}

type entityOption struct {
	Collection       *string `parser:"  'collection' @String"`
	Discriminator    *string `parser:"| 'discriminator' @String"`
	DiscriminatorKey *string `parser:"| 'discriminatorkey' @String"`
	NoDiscriminator  bool    `parser:"| @'nodiscriminator'"`
}

// fieldDef parses: name type annotation* [;]
type fieldDef struct {
	Pos    lexer.Position
	Name   string        `parser:"@Ident"`
	Type   *typeExpr     `parser:"@@"`
	Annots []*annotation `parser:"@@* ';'?"`
}

// typeExpr parses: name [< type {, type} >] [?]
type typeExpr struct {
	Name     string      `parser:"@Ident"`
	Args     []*typeExpr `parser:"( '<' @@ ( ',' @@ )* '>' )?"`
	Optional bool        `parser:"@'?'?"`
}

// annotation parses: @name [( "arg" {, "arg"} )]
type annotation struct {
	Pos  lexer.Position
	Name string   `parser:"@Annot"`
	Args []string `parser:"( '(' ( @String ( ',' @String )* )? ')' )?"`
}

var schemaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(?:#|//)[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "Annot", Pattern: `@[a-zA-Z]+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[{}<>(),;?]`},
})

var schemaParser = participle.MustBuild[schemaFile](
	participle.Lexer(schemaLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// --- Parser entry points ---

// ParseSchema parses a mapping schema and validates it.
func ParseSchema(input string) (*ParsedSchema, error) {
	file, err := schemaParser.ParseString("schema.odm", input)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	schema, err := convertAST(file)
	if err != nil {
		return nil, err
	}
	schema.Docs = ExtractDocs(input)
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

// ParseSchemaFile reads a mapping schema from path and parses it.
func ParseSchemaFile(path string) (*ParsedSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return ParseSchema(string(data))
}

// --- AST conversion ---

func convertAST(file *schemaFile) (*ParsedSchema, error) {
	schema := &ParsedSchema{}
	for _, def := range file.Definitions {
		switch {
		case def.Enum != nil:
			schema.Enums = append(schema.Enums, convertEnum(def.Enum))
		case def.Entity != nil:
			e, err := convertEntity(def.Entity)
			if err != nil {
				return nil, err
			}
			schema.Entities = append(schema.Entities, e)
		}
	}
	return schema, nil
}

func convertEnum(d *enumDef) EnumSpec {
	spec := EnumSpec{Name: d.Name}
	for _, v := range d.Values {
		stored := v.Stored
		if stored == "" {
			stored = v.Name
		}
		spec.Values = append(spec.Values, EnumValueSpec{Name: v.Name, Stored: stored})
	}
	return spec
}

func convertEntity(d *entityDef) (EntitySpec, error) {
	spec := EntitySpec{
		Name:     d.Name,
		Parent:   d.Parent,
		Abstract: d.Abstract,
	}
	for _, o := range d.Options {
		switch {
		case o.Collection != nil:
			spec.Collection = *o.Collection
		case o.Discriminator != nil:
			spec.Discriminator = *o.Discriminator
		case o.DiscriminatorKey != nil:
			spec.DiscriminatorKey = *o.DiscriminatorKey
		case o.NoDiscriminator:
			spec.NoDiscriminator = true
		}
	}
	for _, f := range d.Fields {
		field, err := convertField(f)
		if err != nil {
			return EntitySpec{}, fmt.Errorf("%s: entity %s: %w", f.Pos, d.Name, err)
		}
		spec.Fields = append(spec.Fields, field)
	}
	return spec, nil
}

func convertType(t *typeExpr) TypeSpec {
	spec := TypeSpec{Name: t.Name, Optional: t.Optional}
	for _, a := range t.Args {
		spec.Args = append(spec.Args, convertType(a))
	}
	return spec
}

// annotationFlags are the argument-less field annotations.
var annotationFlags = map[string]func(*FieldSpec){
	"@id":            func(f *FieldSpec) { f.ID = true },
	"@loadonly":      func(f *FieldSpec) { f.LoadOnly = true },
	"@readonly":      func(f *FieldSpec) { f.ReadOnly = true },
	"@serialized":    func(f *FieldSpec) { f.Serialized = true },
	"@lazy":          func(f *FieldSpec) { f.Lazy = true },
	"@idonly":        func(f *FieldSpec) { f.IDOnly = true },
	"@ignoremissing": func(f *FieldSpec) { f.IgnoreMissing = true },
}

func convertField(d *fieldDef) (FieldSpec, error) {
	spec := FieldSpec{Name: d.Name, Type: convertType(d.Type)}
	for _, a := range d.Annots {
		if set, ok := annotationFlags[a.Name]; ok {
			if len(a.Args) > 0 {
				return FieldSpec{}, fmt.Errorf("field %s: %s takes no arguments", d.Name, a.Name)
			}
			set(&spec)
			continue
		}
		switch a.Name {
		case "@name":
			if len(a.Args) != 1 || a.Args[0] == "" {
				return FieldSpec{}, fmt.Errorf("field %s: @name takes one non-empty argument", d.Name)
			}
			spec.StoredName = a.Args[0]
		case "@alt":
			if len(a.Args) == 0 {
				return FieldSpec{}, fmt.Errorf("field %s: @alt needs at least one name", d.Name)
			}
			spec.AltNames = append(spec.AltNames, a.Args...)
		default:
			return FieldSpec{}, fmt.Errorf("field %s: unknown annotation %s", d.Name, a.Name)
		}
	}
	return spec, nil
}

// --- Doc comments ---

var (
	docLineRe = regexp.MustCompile(`^(?:#|//)\s?(.*)$`)
	docDefRe  = regexp.MustCompile(`^(?:abstract\s+)?(?:entity|enum)\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExtractDocs collects the comment lines written directly above each
// definition, keyed by definition name.
func ExtractDocs(input string) map[string]string {
	result := make(map[string]string)
	var pending []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := docLineRe.FindStringSubmatch(trimmed); m != nil {
			pending = append(pending, strings.TrimRight(m[1], " \t"))
			continue
		}
		if m := docDefRe.FindStringSubmatch(trimmed); m != nil && len(pending) > 0 {
			result[m[1]] = strings.Join(pending, "\n")
		}
		pending = nil
	}
	return result
}
