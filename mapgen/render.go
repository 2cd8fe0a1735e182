package mapgen

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/template"
)

const (
	defaultModulePath = "github.com/CaliLuke/go-odm/gotype"
	pkgPrimitive      = "go.mongodb.org/mongo-driver/bson/primitive"
	pkgUUID           = "github.com/google/uuid"
)

// RenderConfig specifies the settings for generating Go code from a schema.
type RenderConfig struct {
	// PackageName is the name of the generated Go package.
	PackageName string
	// ModulePath is the import path of the gotype package.
	ModulePath string
	// UseAcronyms applies Go acronym conventions (ID instead of Id).
	UseAcronyms bool
	// SchemaVersion is an optional string included in the file header.
	SchemaVersion string
}

// DefaultConfig returns a RenderConfig with the usual defaults.
func DefaultConfig() RenderConfig {
	return RenderConfig{
		PackageName: "models",
		ModulePath:  defaultModulePath,
		UseAcronyms: true,
	}
}

// Render writes gofmt-formatted Go source for schema to w: one type per
// enum and entity plus a Register function for the mapper.
func Render(w io.Writer, schema *ParsedSchema, cfg RenderConfig) error {
	if cfg.PackageName == "" {
		cfg.PackageName = "models"
	}
	if cfg.ModulePath == "" {
		cfg.ModulePath = defaultModulePath
	}

	r := &renderer{schema: schema, cfg: cfg, imports: map[string]bool{cfg.ModulePath: true}}
	data := &renderData{
		PackageName:   cfg.PackageName,
		SchemaVersion: cfg.SchemaVersion,
	}
	for _, e := range schema.Enums {
		data.Enums = append(data.Enums, r.enumCtx(e))
	}
	for _, e := range schema.Entities {
		ctx := r.entityCtx(e)
		data.Entities = append(data.Entities, ctx)
		if !e.Abstract {
			data.Registered = append(data.Registered, ctx.GoName)
		}
	}
	data.ImportBlock = r.importBlock()

	var buf bytes.Buffer
	if err := renderTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("format generated code: %w", err)
	}
	_, err = w.Write(src)
	return err
}

// --- Template context types ---

type renderData struct {
	PackageName   string
	SchemaVersion string
	ImportBlock   string
	Enums         []enumCtx
	Entities      []entityCtx
	Registered    []string
}

type enumCtx struct {
	GoName string
	Doc    []string
	Values []enumValueCtx
}

type enumValueCtx struct {
	GoName string // e.g. "GenreFiction"
	Stored string // e.g. "fic"
}

type entityCtx struct {
	GoName   string
	Doc      []string
	Abstract bool
	Marker   string // tag of the gotype.Document marker; empty for abstract entities
	Embed    string // Go name of the parent
	Fields   []fieldCtx
}

type fieldCtx struct {
	GoName string
	GoType string
	Tag    string
}

// --- Context builders ---

type renderer struct {
	schema  *ParsedSchema
	cfg     RenderConfig
	imports map[string]bool
}

func (r *renderer) goName(name string) string {
	if r.cfg.UseAcronyms {
		return ToPascalCaseAcronyms(name)
	}
	return ToPascalCase(name)
}

func (r *renderer) doc(name, fallback string) []string {
	if d, ok := r.schema.Docs[name]; ok {
		return strings.Split(d, "\n")
	}
	return []string{fallback}
}

func (r *renderer) enumCtx(e EnumSpec) enumCtx {
	ctx := enumCtx{GoName: r.goName(e.Name)}
	ctx.Doc = r.doc(e.Name, fmt.Sprintf("%s values are stored by name.", ctx.GoName))
	for _, v := range e.Values {
		ctx.Values = append(ctx.Values, enumValueCtx{
			GoName: ctx.GoName + r.goName(v.Name),
			Stored: v.Stored,
		})
	}
	return ctx
}

func (r *renderer) entityCtx(e EntitySpec) entityCtx {
	ctx := entityCtx{GoName: r.goName(e.Name), Abstract: e.Abstract}
	switch {
	case e.Abstract:
		ctx.Doc = r.doc(e.Name, fmt.Sprintf("%s is embedded by the entities that extend it.", ctx.GoName))
	case e.Parent != "":
		ctx.Doc = r.doc(e.Name, fmt.Sprintf("%s extends %s.", ctx.GoName, r.goName(e.Parent)))
	default:
		ctx.Doc = r.doc(e.Name, fmt.Sprintf("%s is stored in the %q collection.", ctx.GoName, r.schema.CollectionOf(e.Name)))
	}
	if e.Parent != "" {
		ctx.Embed = r.goName(e.Parent)
	}
	if !e.Abstract {
		ctx.Marker = fmt.Sprintf("`odm:%s`", quote(r.markerTag(e)))
	}
	for _, f := range e.Fields {
		ctx.Fields = append(ctx.Fields, fieldCtx{
			GoName: r.goName(f.Name),
			GoType: r.goType(f.Type, f.Lazy),
			Tag:    fmt.Sprintf("`odm:%s`", quote(fieldTag(f))),
		})
	}
	return ctx
}

func (r *renderer) markerTag(e EntitySpec) string {
	var parts []string
	if c := r.schema.CollectionOf(e.Name); c != "" {
		parts = append(parts, "collection:"+c)
	}
	if e.NoDiscriminator {
		parts = append(parts, "nodiscriminator")
	} else {
		disc := e.Discriminator
		if disc == "" {
			disc = e.Name
		}
		parts = append(parts, "discriminator:"+disc)
	}
	if e.DiscriminatorKey != "" {
		parts = append(parts, "discriminatorkey:"+e.DiscriminatorKey)
	}
	return strings.Join(parts, ",")
}

func fieldTag(f FieldSpec) string {
	parts := []string{f.StorageName()}
	if f.Type.ContainsRef() && !f.Lazy {
		parts = append(parts, "ref")
	}
	for _, flag := range []struct {
		on   bool
		name string
	}{
		{f.IDOnly, "idonly"},
		{f.IgnoreMissing, "ignoremissing"},
		{f.LoadOnly, "loadonly"},
		{f.ReadOnly, "readonly"},
		{f.Serialized, "serialized"},
	} {
		if flag.on {
			parts = append(parts, flag.name)
		}
	}
	if len(f.AltNames) > 0 {
		parts = append(parts, "alt:"+strings.Join(f.AltNames, "|"))
	}
	return strings.Join(parts, ",")
}

// goType maps a schema type to Go. Lazy references become gotype.Ref.
func (r *renderer) goType(t TypeSpec, lazy bool) string {
	var (
		out      string
		nillable bool
	)
	switch t.Name {
	case "list":
		out, nillable = "[]"+r.goType(t.Args[len(t.Args)-1], lazy), true
	case "map":
		out, nillable = "map[string]"+r.goType(t.Args[len(t.Args)-1], lazy), true
	case "ref":
		target := r.goName(t.Args[0].Name)
		if lazy {
			out = "gotype.Ref[" + target + "]"
		} else {
			out, nillable = "*"+target, true
		}
	default:
		if s, ok := scalarTypes[t.Name]; ok {
			if s.pkg != "" {
				r.imports[s.pkg] = true
			}
			out = s.goType
			nillable = out == "any" || strings.HasPrefix(out, "[]")
		} else if e, ok := r.schema.Entity(t.Name); ok && e.Abstract {
			out, nillable = r.goName(t.Name)+"Kind", true
		} else {
			out = r.goName(t.Name)
		}
	}
	if t.Optional && !nillable {
		out = "*" + out
	}
	return out
}

// importBlock lists standard library imports first, then the rest, one
// quoted path per line.
func (r *renderer) importBlock() string {
	var std, other []string
	for pkg := range r.imports {
		if strings.Contains(strings.SplitN(pkg, "/", 2)[0], ".") {
			other = append(other, pkg)
		} else {
			std = append(std, pkg)
		}
	}
	sort.Strings(std)
	sort.Strings(other)

	var b strings.Builder
	for _, group := range [][]string{std, other} {
		if len(group) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		for _, pkg := range group {
			fmt.Fprintf(&b, "\t%s\n", quote(pkg))
		}
	}
	return b.String()
}

// quote renders s as a Go string literal.
func quote(s string) string {
	return strconv.Quote(s)
}

// --- Go template ---

var renderTemplate = template.Must(template.New("models").Funcs(template.FuncMap{
	"quote": quote,
}).Parse(`// Code generated by mapgen. DO NOT EDIT.
{{- if .SchemaVersion}}
// Schema version: {{.SchemaVersion}}
{{- end}}

package {{.PackageName}}

import (
{{.ImportBlock}})
{{- range .Enums}}
{{$enum := .GoName}}
{{- range .Doc}}
// {{.}}
{{- end}}
type {{.GoName}} string

const (
{{- range .Values}}
	{{.GoName}} {{$enum}} = {{quote .Stored}}
{{- end}}
)
{{- end}}
{{- range .Entities}}{{"\n"}}
{{- range .Doc}}
// {{.}}
{{- end}}
type {{.GoName}} struct {
{{- if .Marker}}
	gotype.Document {{.Marker}}
{{- end}}
{{- if .Embed}}
	{{.Embed}}
{{- end}}
{{- range .Fields}}
	{{.GoName}} {{.GoType}} {{.Tag}}
{{- end}}
}
{{- if .Abstract}}

// {{.GoName}}Kind is implemented by pointers to {{.GoName}} and to every
// entity that extends it.
type {{.GoName}}Kind interface {
	is{{.GoName}}()
}

func (*{{.GoName}}) is{{.GoName}}() {}
{{- end}}
{{- end}}

// Register registers the generated enums and entities with m.
func Register(m *gotype.Mapper) error {
{{- range .Enums}}
	if err := gotype.RegisterEnum(m{{range .Values}}, {{.GoName}}{{end}}); err != nil {
		return err
	}
{{- end}}
{{- range .Registered}}
	if err := gotype.Register[{{.}}](m); err != nil {
		return err
	}
{{- end}}
	return nil
}
`))
