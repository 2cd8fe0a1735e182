// Package ast provides a compiler to transform AST nodes into BSON documents.
package ast

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// ValueEncoder writes a Go value that appears as an operand inside a node.
type ValueEncoder interface {
	WriteValue(vw bsonrw.ValueWriter, v any) error
}

// DriverValues encodes operands with a bsoncodec registry, the driver's
// default registry when Registry is nil.
type DriverValues struct {
	Registry *bsoncodec.Registry
}

// WriteValue implements ValueEncoder.
func (d DriverValues) WriteValue(vw bsonrw.ValueWriter, v any) error {
	if v == nil {
		return vw.WriteNull()
	}
	reg := d.Registry
	if reg == nil {
		reg = bson.DefaultRegistry
	}
	enc, err := reg.LookupEncoder(reflect.TypeOf(v))
	if err != nil {
		return err
	}
	return enc.EncodeValue(bsoncodec.EncodeContext{Registry: reg}, vw, reflect.ValueOf(v))
}

// Compiler encodes AST nodes into BSON.
type Compiler struct {
	// Values encodes operand values. DriverValues{} is used when nil.
	Values ValueEncoder
	// Fields translates field paths before they are written. Identity when nil.
	Fields func(path string) string
}

// Encode writes n as a single value to vw.
func (c *Compiler) Encode(vw bsonrw.ValueWriter, n Node) error {
	n, ok := derefNode(n)
	if !ok {
		return vw.WriteNull()
	}
	nc, found := CodecFor(reflect.TypeOf(n))
	if !found {
		return &UnknownNodeError{Type: fmt.Sprintf("%T", n)}
	}
	return nc.Encode(c, vw, n)
}

// Compile encodes a document-shaped node (filters, updates, stages, object
// and operator expressions) as a standalone document.
func (c *Compiler) Compile(n Node) (bson.Raw, error) {
	n, ok := derefNode(n)
	if !ok {
		return nil, fmt.Errorf("ast: cannot compile a nil node")
	}
	nc, found := CodecFor(reflect.TypeOf(n))
	if !found {
		return nil, &UnknownNodeError{Type: fmt.Sprintf("%T", n)}
	}
	if !nc.document {
		return nil, fmt.Errorf("ast: %T does not compile to a document, use CompileValue", n)
	}
	return c.build(func(vw bsonrw.ValueWriter) error {
		return nc.Encode(c, vw, n)
	})
}

// CompileValue encodes any node, including field references and constants
// that are not documents.
func (c *Compiler) CompileValue(n Node) (bson.RawValue, error) {
	doc, err := c.build(func(vw bsonrw.ValueWriter) error {
		return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
			return writeNamed(dw, "v", func(vw bsonrw.ValueWriter) error {
				return c.Encode(vw, n)
			})
		})
	})
	if err != nil {
		return bson.RawValue{}, err
	}
	return doc.Lookup("v"), nil
}

// CompileFilter encodes filters as one query document. Filters whose
// top-level keys collide are combined with $and; no filters yield {}.
func (c *Compiler) CompileFilter(filters ...Filter) (bson.Raw, error) {
	return c.build(func(vw bsonrw.ValueWriter) error {
		return c.writeFilterDocument(vw, combineFilters(filters))
	})
}

// CompileUpdate encodes update operators as one update document, grouping
// operators by name in order of first appearance.
func (c *Compiler) CompileUpdate(updates ...Update) (bson.Raw, error) {
	var order []string
	groups := make(map[string][]Update)
	for _, u := range updates {
		if u == nil {
			continue
		}
		op := u.Operator()
		if _, seen := groups[op]; !seen {
			order = append(order, op)
		}
		groups[op] = append(groups[op], u)
	}
	return c.build(func(vw bsonrw.ValueWriter) error {
		return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
			for _, op := range order {
				err := writeNamed(dw, op, func(vw bsonrw.ValueWriter) error {
					return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
						for _, u := range groups[op] {
							if err := c.writeElements(dw, u); err != nil {
								return err
							}
						}
						return nil
					})
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// CompilePipeline encodes each stage as one pipeline document.
func (c *Compiler) CompilePipeline(stages ...Stage) ([]bson.Raw, error) {
	out := make([]bson.Raw, 0, len(stages))
	for i, s := range stages {
		doc, err := c.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Compiler) build(fn func(vw bsonrw.ValueWriter) error) (bson.Raw, error) {
	var buf bytes.Buffer
	vw, err := bsonrw.NewBSONValueWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := fn(vw); err != nil {
		return nil, err
	}
	return bson.Raw(buf.Bytes()), nil
}

// --- Shared writing helpers ---

func (c *Compiler) values() ValueEncoder {
	if c.Values == nil {
		return DriverValues{}
	}
	return c.Values
}

func (c *Compiler) field(path string) string {
	if c.Fields == nil || path == "" {
		return path
	}
	return c.Fields(path)
}

// relative returns a compiler that translates paths relative to parent,
// used for $elemMatch and $pull conditions on arrays of documents.
func (c *Compiler) relative(parent string) *Compiler {
	if c.Fields == nil {
		return c
	}
	prefix := c.field(parent) + "."
	return &Compiler{
		Values: c.Values,
		Fields: func(p string) string {
			return strings.TrimPrefix(c.field(parent+"."+p), prefix)
		},
	}
}

func (c *Compiler) writeValue(vw bsonrw.ValueWriter, v any) error {
	switch x := v.(type) {
	case nil:
		return vw.WriteNull()
	case Node:
		return c.Encode(vw, x)
	}
	return c.values().WriteValue(vw, v)
}

func (c *Compiler) writeNamedValue(dw bsonrw.DocumentWriter, name string, v any) error {
	return writeNamed(dw, name, func(vw bsonrw.ValueWriter) error {
		return c.writeValue(vw, v)
	})
}

func (c *Compiler) writeExpr(vw bsonrw.ValueWriter, e Expression) error {
	if e == nil {
		return vw.WriteNull()
	}
	return c.Encode(vw, e)
}

func (c *Compiler) writeNamedExpr(dw bsonrw.DocumentWriter, name string, e Expression) error {
	return writeNamed(dw, name, func(vw bsonrw.ValueWriter) error {
		return c.writeExpr(vw, e)
	})
}

func (c *Compiler) writeNamedExprs(dw bsonrw.DocumentWriter, fields []NamedExpr, translate bool) error {
	for _, f := range fields {
		name := f.Name
		if translate {
			name = c.field(name)
		}
		if err := c.writeNamedExpr(dw, name, f.Expr); err != nil {
			return err
		}
	}
	return nil
}

// writeElements writes the elements a document-shaped node contributes to
// an enclosing document.
func (c *Compiler) writeElements(dw bsonrw.DocumentWriter, n Node) error {
	n, ok := derefNode(n)
	if !ok {
		return nil
	}
	nc, found := CodecFor(reflect.TypeOf(n))
	if !found {
		return &UnknownNodeError{Type: fmt.Sprintf("%T", n)}
	}
	if nc.elements == nil {
		return fmt.Errorf("ast: %T cannot be written as document elements", n)
	}
	return nc.elements(c, dw, n)
}

// writeFilterElements writes f into dw. Field filters with an empty path
// contribute their operator document directly, as inside $elemMatch.
func (c *Compiler) writeFilterElements(dw bsonrw.DocumentWriter, f Filter) error {
	if ff, ok := f.(FieldFilter); ok && ff.fieldPath() == "" {
		return c.writeOperand(dw, ff)
	}
	return c.writeElements(dw, f)
}

func (c *Compiler) writeFilterDocument(vw bsonrw.ValueWriter, f Filter) error {
	return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
		if f == nil {
			return nil
		}
		return c.writeFilterElements(dw, f)
	})
}

// writeOperand writes the operator elements of a field filter, the part
// inside {field: {...}}.
func (c *Compiler) writeOperand(dw bsonrw.DocumentWriter, f FieldFilter) error {
	n, _ := derefNode(f)
	nc, found := CodecFor(reflect.TypeOf(n))
	if !found || nc.operand == nil {
		return &UnknownNodeError{Type: fmt.Sprintf("%T", f)}
	}
	return nc.operand(c, dw, n)
}

func (c *Compiler) writeFieldOperand(dw bsonrw.DocumentWriter, f FieldFilter) error {
	return writeNamed(dw, c.field(f.fieldPath()), func(vw bsonrw.ValueWriter) error {
		return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
			return c.writeOperand(dw, f)
		})
	})
}

func writeDocument(vw bsonrw.ValueWriter, fn func(dw bsonrw.DocumentWriter) error) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	if err := fn(dw); err != nil {
		return err
	}
	return dw.WriteDocumentEnd()
}

func writeArray(vw bsonrw.ValueWriter, n int, fn func(i int, vw bsonrw.ValueWriter) error) error {
	aw, err := vw.WriteArray()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		evw, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := fn(i, evw); err != nil {
			return err
		}
	}
	return aw.WriteArrayEnd()
}

func writeNamed(dw bsonrw.DocumentWriter, name string, fn func(vw bsonrw.ValueWriter) error) error {
	vw, err := dw.WriteDocumentElement(name)
	if err != nil {
		return err
	}
	return fn(vw)
}

func writePoint(vw bsonrw.ValueWriter, p Point) error {
	return writeArray(vw, 2, func(i int, vw bsonrw.ValueWriter) error {
		return vw.WriteDouble(p[i])
	})
}

func derefNode(n Node) (Node, bool) {
	if n == nil {
		return nil, false
	}
	rv := reflect.ValueOf(n)
	if rv.Kind() != reflect.Ptr {
		return n, true
	}
	if rv.IsNil() {
		return nil, false
	}
	inner, ok := rv.Elem().Interface().(Node)
	return inner, ok
}

// combineFilters folds filters into one, using $and only when two filters
// would write the same top-level key.
func combineFilters(filters []Filter) Filter {
	var kept []Filter
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	seen := make(map[string]bool)
	for _, f := range kept {
		for _, k := range filterKeys(f) {
			if seen[k] {
				return And(kept...)
			}
			seen[k] = true
		}
	}
	return mergedFilter(kept)
}

// mergedFilter writes several filters with distinct keys into one document.
type mergedFilter []Filter

func (mergedFilter) astNode() {}
func (mergedFilter) filter()  {}

func filterKeys(f Filter) []string {
	switch x := f.(type) {
	case FieldFilter:
		return []string{x.fieldPath()}
	case LogicalFilter:
		return []string{x.Op}
	case TextFilter:
		return []string{"$text"}
	case WhereFilter:
		return []string{"$where"}
	case ExprFilter:
		return []string{"$expr"}
	case RawFilter:
		keys := make([]string, len(x.Elements))
		for i, e := range x.Elements {
			keys[i] = e.Key
		}
		return keys
	case mergedFilter:
		var keys []string
		for _, inner := range x {
			keys = append(keys, filterKeys(inner)...)
		}
		return keys
	}
	return []string{fmt.Sprintf("%T", f)}
}
