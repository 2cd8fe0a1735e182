package ast

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// NodeCodec encodes one node type. Node codecs are write-only.
type NodeCodec struct {
	typ reflect.Type
	// document reports whether the node encodes as a document.
	document bool
	// elements writes the node's elements into an enclosing document.
	elements func(c *Compiler, dw bsonrw.DocumentWriter, n Node) error
	// operand writes a field filter's operator elements.
	operand func(c *Compiler, dw bsonrw.DocumentWriter, n Node) error
	// value writes the node as a standalone value; when nil the node is
	// written as a document holding its elements.
	value func(c *Compiler, vw bsonrw.ValueWriter, n Node) error
}

// EncoderType returns the node type handled by the codec.
func (nc *NodeCodec) EncoderType() reflect.Type { return nc.typ }

// Document reports whether the node encodes as a document.
func (nc *NodeCodec) Document() bool { return nc.document }

// Encode writes n to vw.
func (nc *NodeCodec) Encode(c *Compiler, vw bsonrw.ValueWriter, n Node) error {
	if nc.value != nil {
		return nc.value(c, vw, n)
	}
	return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
		return nc.elements(c, dw, n)
	})
}

// Decode always fails: nodes cannot be read back from documents.
func (nc *NodeCodec) Decode(bsonrw.ValueReader) (Node, error) {
	return nil, &UnsupportedOperationError{Type: nc.typ.String(), Operation: "decode"}
}

var nodeCodecs = make(map[reflect.Type]*NodeCodec)

// CodecFor returns the codec for a node type. Pointer types resolve to the
// codec of their element type.
func CodecFor(t reflect.Type) (*NodeCodec, bool) {
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	nc, ok := nodeCodecs[t]
	return nc, ok
}

func typeOf[N Node]() reflect.Type {
	return reflect.TypeOf((*N)(nil)).Elem()
}

func registerElements[N Node](fn func(c *Compiler, dw bsonrw.DocumentWriter, n N) error) *NodeCodec {
	nc := &NodeCodec{
		typ:      typeOf[N](),
		document: true,
		elements: func(c *Compiler, dw bsonrw.DocumentWriter, n Node) error { return fn(c, dw, n.(N)) },
	}
	nodeCodecs[nc.typ] = nc
	return nc
}

func registerValue[N Node](document bool, fn func(c *Compiler, vw bsonrw.ValueWriter, n N) error) {
	nc := &NodeCodec{
		typ:      typeOf[N](),
		document: document,
		value:    func(c *Compiler, vw bsonrw.ValueWriter, n Node) error { return fn(c, vw, n.(N)) },
	}
	nodeCodecs[nc.typ] = nc
}

// registerField registers a field filter by its operand; the elements form
// is {field: {operand}}.
func registerField[N FieldFilter](fn func(c *Compiler, dw bsonrw.DocumentWriter, n N) error) *NodeCodec {
	nc := registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, n N) error {
		return c.writeFieldOperand(dw, n)
	})
	nc.operand = func(c *Compiler, dw bsonrw.DocumentWriter, n Node) error { return fn(c, dw, n.(N)) }
	return nc
}

// registerUpdate registers an update operator by its field elements; the
// standalone form is {op: {elements}}.
func registerUpdate[N Update](fn func(c *Compiler, dw bsonrw.DocumentWriter, n N) error) {
	nc := registerElements(fn)
	nc.value = func(c *Compiler, vw bsonrw.ValueWriter, n Node) error {
		return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
			return writeNamed(dw, n.(Update).Operator(), func(vw bsonrw.ValueWriter) error {
				return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
					return nc.elements(c, dw, n)
				})
			})
		})
	}
}

func init() {
	registerFilterCodecs()
	registerUpdateCodecs()
	registerExpressionCodecs()
	registerStageCodecs()
}

func registerFilterCodecs() {
	cmp := registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f Comparison) error {
		return c.writeNamedValue(dw, f.Op, f.Value)
	})
	// Equality uses the {field: value} shorthand.
	cmp.elements = func(c *Compiler, dw bsonrw.DocumentWriter, n Node) error {
		f := n.(Comparison)
		if f.Op == OpEq {
			return c.writeNamedValue(dw, c.field(f.Field), f.Value)
		}
		return c.writeFieldOperand(dw, f)
	}

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f RegexFilter) error {
		if err := c.writeNamedValue(dw, "$regex", f.Pattern); err != nil {
			return err
		}
		if f.Options == "" {
			return nil
		}
		return c.writeNamedValue(dw, "$options", f.Options)
	})

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f ModFilter) error {
		return writeNamed(dw, "$mod", func(vw bsonrw.ValueWriter) error {
			return writeArray(vw, 2, func(i int, vw bsonrw.ValueWriter) error {
				if i == 0 {
					return vw.WriteInt64(f.Divisor)
				}
				return vw.WriteInt64(f.Remainder)
			})
		})
	})

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f ElemMatchFilter) error {
		inner := c.relative(f.Field)
		return writeNamed(dw, "$elemMatch", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				for _, sub := range f.Filters {
					if err := inner.writeFilterElements(dw, sub); err != nil {
						return err
					}
				}
				return nil
			})
		})
	})

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f BitsFilter) error {
		return c.writeNamedValue(dw, f.Op, f.Mask)
	})

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f NotFilter) error {
		return writeNamed(dw, "$not", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return c.writeOperand(dw, f.Filter)
			})
		})
	})

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f NearFilter) error {
		op := "$near"
		if f.Sphere {
			op = "$nearSphere"
		}
		return writeNamed(dw, op, func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				if err := writeNamed(dw, "$geometry", func(vw bsonrw.ValueWriter) error {
					return c.Encode(vw, Geometry{Type: "Point", Coordinates: []float64{f.Point[0], f.Point[1]}})
				}); err != nil {
					return err
				}
				if f.MinDistance != nil {
					if err := c.writeNamedValue(dw, "$minDistance", *f.MinDistance); err != nil {
						return err
					}
				}
				if f.MaxDistance != nil {
					return c.writeNamedValue(dw, "$maxDistance", *f.MaxDistance)
				}
				return nil
			})
		})
	})

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f GeoWithinFilter) error {
		return writeNamed(dw, "$geoWithin", func(vw bsonrw.ValueWriter) error {
			if g, ok := f.Shape.(Geometry); ok {
				return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
					return writeNamed(dw, "$geometry", func(vw bsonrw.ValueWriter) error {
						return c.Encode(vw, g)
					})
				})
			}
			return c.Encode(vw, f.Shape)
		})
	})

	registerField(func(c *Compiler, dw bsonrw.DocumentWriter, f GeoIntersectsFilter) error {
		return writeNamed(dw, "$geoIntersects", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return writeNamed(dw, "$geometry", func(vw bsonrw.ValueWriter) error {
					return c.Encode(vw, f.Geometry)
				})
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, f LogicalFilter) error {
		return writeNamed(dw, f.Op, func(vw bsonrw.ValueWriter) error {
			return writeArray(vw, len(f.Filters), func(i int, vw bsonrw.ValueWriter) error {
				return c.writeFilterDocument(vw, f.Filters[i])
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, f TextFilter) error {
		return writeNamed(dw, "$text", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				if err := c.writeNamedValue(dw, "$search", f.Search); err != nil {
					return err
				}
				if f.Language != "" {
					if err := c.writeNamedValue(dw, "$language", f.Language); err != nil {
						return err
					}
				}
				if f.CaseSensitive != nil {
					if err := c.writeNamedValue(dw, "$caseSensitive", *f.CaseSensitive); err != nil {
						return err
					}
				}
				if f.DiacriticSensitive != nil {
					return c.writeNamedValue(dw, "$diacriticSensitive", *f.DiacriticSensitive)
				}
				return nil
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, f WhereFilter) error {
		return c.writeNamedValue(dw, "$where", f.JavaScript)
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, f ExprFilter) error {
		return c.writeNamedExpr(dw, "$expr", f.Expr)
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, f RawFilter) error {
		for _, e := range f.Elements {
			if err := c.writeNamedValue(dw, e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, f mergedFilter) error {
		for _, inner := range f {
			if err := c.writeFilterElements(dw, inner); err != nil {
				return err
			}
		}
		return nil
	})

	registerValue(true, func(c *Compiler, vw bsonrw.ValueWriter, g Geometry) error {
		return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
			if err := c.writeNamedValue(dw, "type", g.Type); err != nil {
				return err
			}
			return c.writeNamedValue(dw, "coordinates", g.Coordinates)
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, b Box) error {
		return writeNamed(dw, "$box", func(vw bsonrw.ValueWriter) error {
			corners := [2]Point{b.BottomLeft, b.UpperRight}
			return writeArray(vw, 2, func(i int, vw bsonrw.ValueWriter) error {
				return writePoint(vw, corners[i])
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s CenterSphere) error {
		return writeNamed(dw, "$centerSphere", func(vw bsonrw.ValueWriter) error {
			return writeArray(vw, 2, func(i int, vw bsonrw.ValueWriter) error {
				if i == 0 {
					return writePoint(vw, s.Center)
				}
				return vw.WriteDouble(s.Radius)
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, p Polygon) error {
		return writeNamed(dw, "$polygon", func(vw bsonrw.ValueWriter) error {
			return writeArray(vw, len(p.Points), func(i int, vw bsonrw.ValueWriter) error {
				return writePoint(vw, p.Points[i])
			})
		})
	})
}

func registerUpdateCodecs() {
	registerUpdate(func(c *Compiler, dw bsonrw.DocumentWriter, u FieldUpdate) error {
		value := u.Value
		if to, ok := value.(string); ok && u.Op == "$rename" {
			value = c.field(to)
		}
		return c.writeNamedValue(dw, c.field(u.Field), value)
	})

	registerUpdate(func(c *Compiler, dw bsonrw.DocumentWriter, u PushUpdate) error {
		field := c.field(u.Field)
		if len(u.Values) == 1 && u.Position == nil && u.Slice == nil && u.Sort == nil {
			return c.writeNamedValue(dw, field, u.Values[0])
		}
		return writeNamed(dw, field, func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				if err := c.writeEach(dw, u.Values); err != nil {
					return err
				}
				if u.Position != nil {
					if err := c.writeNamedValue(dw, "$position", *u.Position); err != nil {
						return err
					}
				}
				if u.Slice != nil {
					if err := c.writeNamedValue(dw, "$slice", *u.Slice); err != nil {
						return err
					}
				}
				if u.Sort != nil {
					return c.writeNamedValue(dw, "$sort", u.Sort)
				}
				return nil
			})
		})
	})

	registerUpdate(func(c *Compiler, dw bsonrw.DocumentWriter, u AddToSetUpdate) error {
		field := c.field(u.Field)
		if len(u.Values) == 1 {
			return c.writeNamedValue(dw, field, u.Values[0])
		}
		return writeNamed(dw, field, func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return c.writeEach(dw, u.Values)
			})
		})
	})

	registerUpdate(func(c *Compiler, dw bsonrw.DocumentWriter, u PullUpdate) error {
		if u.Condition == nil {
			return c.writeNamedValue(dw, c.field(u.Field), u.Value)
		}
		inner := c.relative(u.Field)
		return writeNamed(dw, c.field(u.Field), func(vw bsonrw.ValueWriter) error {
			return inner.writeFilterDocument(vw, u.Condition)
		})
	})
}

func (c *Compiler) writeEach(dw bsonrw.DocumentWriter, values []any) error {
	return writeNamed(dw, "$each", func(vw bsonrw.ValueWriter) error {
		return writeArray(vw, len(values), func(i int, vw bsonrw.ValueWriter) error {
			return c.writeValue(vw, values[i])
		})
	})
}

func registerExpressionCodecs() {
	registerValue(false, func(c *Compiler, vw bsonrw.ValueWriter, e FieldRef) error {
		return vw.WriteString("$" + c.field(e.Path))
	})

	registerValue(false, func(c *Compiler, vw bsonrw.ValueWriter, e Variable) error {
		return vw.WriteString("$$" + e.Name)
	})

	registerValue(false, func(c *Compiler, vw bsonrw.ValueWriter, e Value) error {
		return c.writeValue(vw, e.Val)
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, e Literal) error {
		return c.writeNamedValue(dw, "$literal", e.Val)
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, e OperatorExpr) error {
		return writeNamed(dw, e.Op, func(vw bsonrw.ValueWriter) error {
			return writeArray(vw, len(e.Args), func(i int, vw bsonrw.ValueWriter) error {
				return c.writeExpr(vw, e.Args[i])
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, e UnaryExpr) error {
		return c.writeNamedExpr(dw, e.Op, e.Arg)
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, e DocumentExpr) error {
		return writeNamed(dw, e.Op, func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return c.writeNamedExprs(dw, e.Args, false)
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, e CondExpr) error {
		return writeNamed(dw, "$cond", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return c.writeNamedExprs(dw, []NamedExpr{
					{Name: "if", Expr: e.If},
					{Name: "then", Expr: e.Then},
					{Name: "else", Expr: e.Else},
				}, false)
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, e ObjectExpr) error {
		return c.writeNamedExprs(dw, e.Fields, false)
	})

	registerValue(false, func(c *Compiler, vw bsonrw.ValueWriter, e ArrayExpr) error {
		return writeArray(vw, len(e.Items), func(i int, vw bsonrw.ValueWriter) error {
			return c.writeExpr(vw, e.Items[i])
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, e Accumulator) error {
		if e.Arg == nil {
			return writeNamed(dw, e.Op, func(vw bsonrw.ValueWriter) error {
				return writeDocument(vw, func(bsonrw.DocumentWriter) error { return nil })
			})
		}
		return c.writeNamedExpr(dw, e.Op, e.Arg)
	})
}

func registerStageCodecs() {
	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s MatchStage) error {
		return writeNamed(dw, "$match", func(vw bsonrw.ValueWriter) error {
			return c.writeFilterDocument(vw, s.Filter)
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s GroupStage) error {
		return writeNamed(dw, "$group", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				if err := c.writeNamedExpr(dw, "_id", s.ID); err != nil {
					return err
				}
				return c.writeNamedExprs(dw, s.Fields, false)
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s ProjectStage) error {
		return writeNamed(dw, "$project", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return c.writeNamedExprs(dw, s.Fields, true)
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s SortStage) error {
		return writeNamed(dw, "$sort", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				for _, k := range s.Keys {
					dir := int32(1)
					if k.Desc {
						dir = -1
					}
					if err := writeNamed(dw, c.field(k.Field), func(vw bsonrw.ValueWriter) error {
						return vw.WriteInt32(dir)
					}); err != nil {
						return err
					}
				}
				return nil
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s LimitStage) error {
		return writeNamed(dw, "$limit", func(vw bsonrw.ValueWriter) error { return vw.WriteInt64(s.N) })
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s SkipStage) error {
		return writeNamed(dw, "$skip", func(vw bsonrw.ValueWriter) error { return vw.WriteInt64(s.N) })
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s UnwindStage) error {
		path := "$" + c.field(s.Path)
		if s.IncludeArrayIndex == "" && !s.PreserveNullAndEmptyArrays {
			return c.writeNamedValue(dw, "$unwind", path)
		}
		return writeNamed(dw, "$unwind", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				if err := c.writeNamedValue(dw, "path", path); err != nil {
					return err
				}
				if s.IncludeArrayIndex != "" {
					if err := c.writeNamedValue(dw, "includeArrayIndex", s.IncludeArrayIndex); err != nil {
						return err
					}
				}
				if s.PreserveNullAndEmptyArrays {
					return c.writeNamedValue(dw, "preserveNullAndEmptyArrays", true)
				}
				return nil
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s LookupStage) error {
		return writeNamed(dw, "$lookup", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				for _, kv := range [][2]string{
					{"from", s.From},
					{"localField", c.field(s.LocalField)},
					{"foreignField", s.ForeignField},
					{"as", s.As},
				} {
					if err := c.writeNamedValue(dw, kv[0], kv[1]); err != nil {
						return err
					}
				}
				return nil
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s AddFieldsStage) error {
		return writeNamed(dw, "$addFields", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return c.writeNamedExprs(dw, s.Fields, false)
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s CountStage) error {
		return c.writeNamedValue(dw, "$count", s.Field)
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s SampleStage) error {
		return writeNamed(dw, "$sample", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return writeNamed(dw, "size", func(vw bsonrw.ValueWriter) error { return vw.WriteInt64(s.Size) })
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s ReplaceRootStage) error {
		return writeNamed(dw, "$replaceRoot", func(vw bsonrw.ValueWriter) error {
			return writeDocument(vw, func(dw bsonrw.DocumentWriter) error {
				return c.writeNamedExpr(dw, "newRoot", s.NewRoot)
			})
		})
	})

	registerElements(func(c *Compiler, dw bsonrw.DocumentWriter, s UnsetStage) error {
		return writeNamed(dw, "$unset", func(vw bsonrw.ValueWriter) error {
			return writeArray(vw, len(s.Fields), func(i int, vw bsonrw.ValueWriter) error {
				return vw.WriteString(c.field(s.Fields[i]))
			})
		})
	})
}
