package gotype

import (
	"reflect"
	"strings"

	"github.com/CaliLuke/go-odm/ast"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// expressionCodec encodes filter, update, expression and stage nodes with
// the ast compiler. Operand values go back through the mapper.
type expressionCodec struct {
	mapper *Mapper
	typ    reflect.Type
	node   *ast.NodeCodec
}

func (m *Mapper) expressionProvider(td TypeData, _ CodecLookup) (Codec, error) {
	if td.Type.Kind() == reflect.Interface {
		return nil, nil
	}
	nc, ok := ast.CodecFor(td.Type)
	if !ok {
		return nil, nil
	}
	return &expressionCodec{mapper: m, typ: td.Type, node: nc}, nil
}

func (c *expressionCodec) EncoderType() reflect.Type { return c.typ }

func (c *expressionCodec) EncodeValue(_ EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	compiler := &ast.Compiler{Values: c.mapper}
	return compiler.Encode(vw, val.Interface().(ast.Node))
}

func (c *expressionCodec) DecodeValue(_ DecodeContext, vr bsonrw.ValueReader, _ reflect.Value) error {
	_, err := c.node.Decode(vr)
	return err
}

// WriteValue implements ast.ValueEncoder, so operands inside filters and
// updates are encoded like entity properties.
func (m *Mapper) WriteValue(vw bsonrw.ValueWriter, v any) error {
	return newEncodeContext(m).EncodeAny(vw, v)
}

// Compiler returns an ast compiler whose operands are encoded by the
// mapper and whose field paths are translated from Go field names to
// storage names of model. A nil model leaves paths unchanged.
func (m *Mapper) Compiler(model *EntityModel) *ast.Compiler {
	c := &ast.Compiler{Values: m}
	if model != nil {
		c.Fields = func(path string) string {
			return m.storagePath(model, path)
		}
	}
	return c
}

// storagePath translates a dotted path of Go field names, e.g.
// "Author.Name", into storage names. Array indexes and positional
// operators are kept as is; other unknown segments stop the translation.
func (m *Mapper) storagePath(model *EntityModel, path string) string {
	parts := strings.Split(path, ".")
	current := model
	for i, part := range parts {
		if current == nil {
			break
		}
		if isPositional(part) {
			continue
		}
		p, ok := current.PropertyByName(part)
		if !ok {
			p, ok = current.Property(part)
		}
		if !ok {
			current = nil
			continue
		}
		parts[i] = p.StorageName
		current = nil
		if p.Reference == nil {
			if target, ok := entityTarget(p.Type); ok {
				if nested, err := m.Model(target); err == nil {
					current = nested
				}
			}
		}
	}
	return strings.Join(parts, ".")
}

func isPositional(segment string) bool {
	if strings.HasPrefix(segment, "$") {
		return true
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return segment != ""
}
