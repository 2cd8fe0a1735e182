// Package ast defines the node tree for document-store filters, update
// operators and aggregation pipelines.
//
// It decouples query construction from BSON encoding, providing a
// structured way to build filters and pipelines programmatically. Nodes are
// write-only: every node type has exactly one encoder and none of them can
// be decoded back from a document.
package ast

// Node is the marker interface for all AST nodes.
type Node interface {
	astNode()
}

// --- Filters ---

// Filter is the marker interface for nodes that encode as (part of) a query
// filter document.
type Filter interface {
	Node
	filter()
}

// FieldFilter is a Filter that constrains a single field path. Field
// filters can be negated with Not.
type FieldFilter interface {
	Filter
	fieldPath() string
}

// Comparison operators.
const (
	OpEq     = "$eq"
	OpNe     = "$ne"
	OpGt     = "$gt"
	OpGte    = "$gte"
	OpLt     = "$lt"
	OpLte    = "$lte"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpAll    = "$all"
	OpSize   = "$size"
	OpExists = "$exists"
	OpType   = "$type"
)

// Comparison compares a field against a value, e.g. {age: {$gt: 21}}.
// Equality is written in its shorthand form {field: value}.
type Comparison struct {
	// Field is the dotted field path.
	Field string
	// Op is one of the comparison operators (OpEq, OpGt, ...).
	Op string
	// Value is the operand; slices are written as arrays for $in, $nin and $all.
	Value any
}

func (Comparison) astNode()            {}
func (Comparison) filter()             {}
func (c Comparison) fieldPath() string { return c.Field }

// RegexFilter matches a string field against a regular expression.
type RegexFilter struct {
	Field   string
	Pattern string
	Options string
}

func (RegexFilter) astNode()            {}
func (RegexFilter) filter()             {}
func (r RegexFilter) fieldPath() string { return r.Field }

// ModFilter matches numeric fields where field % Divisor == Remainder.
type ModFilter struct {
	Field     string
	Divisor   int64
	Remainder int64
}

func (ModFilter) astNode()            {}
func (ModFilter) filter()             {}
func (m ModFilter) fieldPath() string { return m.Field }

// ElemMatchFilter matches arrays containing at least one element satisfying
// all of Filters. Filters with an empty field path apply to scalar elements.
type ElemMatchFilter struct {
	Field   string
	Filters []Filter
}

func (ElemMatchFilter) astNode()            {}
func (ElemMatchFilter) filter()             {}
func (e ElemMatchFilter) fieldPath() string { return e.Field }

// BitsFilter tests bit positions or a bitmask, e.g. {flags: {$bitsAllSet: 5}}.
type BitsFilter struct {
	Field string
	// Op is one of $bitsAllSet, $bitsAnySet, $bitsAllClear, $bitsAnyClear.
	Op string
	// Mask is a numeric bitmask or a slice of bit positions.
	Mask any
}

func (BitsFilter) astNode()            {}
func (BitsFilter) filter()             {}
func (b BitsFilter) fieldPath() string { return b.Field }

// NotFilter negates a single field filter: {field: {$not: {...}}}.
type NotFilter struct {
	Filter FieldFilter
}

func (NotFilter) astNode()            {}
func (NotFilter) filter()             {}
func (n NotFilter) fieldPath() string { return n.Filter.fieldPath() }

// LogicalFilter combines filters with $and, $or or $nor.
type LogicalFilter struct {
	Op      string
	Filters []Filter
}

func (LogicalFilter) astNode() {}
func (LogicalFilter) filter()  {}

// TextFilter performs a $text search.
type TextFilter struct {
	Search             string
	Language           string
	CaseSensitive      *bool
	DiacriticSensitive *bool
}

func (TextFilter) astNode() {}
func (TextFilter) filter()  {}

// WhereFilter matches documents with a server-side JavaScript predicate.
type WhereFilter struct {
	JavaScript string
}

func (WhereFilter) astNode() {}
func (WhereFilter) filter()  {}

// ExprFilter lifts an aggregation expression into a query filter.
type ExprFilter struct {
	Expr Expression
}

func (ExprFilter) astNode() {}
func (ExprFilter) filter()  {}

// RawFilter writes Elements verbatim into the filter document. Keys are not
// translated.
type RawFilter struct {
	Elements []RawElement
}

// RawElement is one key/value pair of a RawFilter.
type RawElement struct {
	Key   string
	Value any
}

func (RawFilter) astNode() {}
func (RawFilter) filter()  {}

// --- Geospatial ---

// Point is a longitude/latitude pair.
type Point [2]float64

// Geometry is a GeoJSON geometry object.
type Geometry struct {
	// Type is the GeoJSON type ("Point", "Polygon", "LineString", ...).
	Type string
	// Coordinates holds the GeoJSON coordinates in their nested array form.
	Coordinates any
}

func (Geometry) astNode() {}
func (Geometry) shape()   {}

// Shape is a $geoWithin operand.
type Shape interface {
	Node
	shape()
}

// Box is a legacy-coordinate rectangle.
type Box struct {
	BottomLeft Point
	UpperRight Point
}

func (Box) astNode() {}
func (Box) shape()   {}

// CenterSphere is a circle on a sphere with a radius in radians.
type CenterSphere struct {
	Center Point
	Radius float64
}

func (CenterSphere) astNode() {}
func (CenterSphere) shape()   {}

// Polygon is a legacy-coordinate polygon.
type Polygon struct {
	Points []Point
}

func (Polygon) astNode() {}
func (Polygon) shape()   {}

// NearFilter orders documents by distance from a point ($near or $nearSphere).
type NearFilter struct {
	Field       string
	Point       Point
	Sphere      bool
	MinDistance *float64
	MaxDistance *float64
}

func (NearFilter) astNode()            {}
func (NearFilter) filter()             {}
func (n NearFilter) fieldPath() string { return n.Field }

// GeoWithinFilter selects documents with geometries inside Shape.
type GeoWithinFilter struct {
	Field string
	Shape Shape
}

func (GeoWithinFilter) astNode()            {}
func (GeoWithinFilter) filter()             {}
func (g GeoWithinFilter) fieldPath() string { return g.Field }

// GeoIntersectsFilter selects documents whose geometry intersects Geometry.
type GeoIntersectsFilter struct {
	Field    string
	Geometry Geometry
}

func (GeoIntersectsFilter) astNode()            {}
func (GeoIntersectsFilter) filter()             {}
func (g GeoIntersectsFilter) fieldPath() string { return g.Field }

// --- Updates ---

// Update is the marker interface for update operators. Updates with the same
// operator are grouped into one operator document when compiled together.
type Update interface {
	Node
	Operator() string
}

// FieldUpdate sets Field to Value under Op ($set, $inc, $unset, $rename, ...).
type FieldUpdate struct {
	Op    string
	Field string
	Value any
}

func (FieldUpdate) astNode()           {}
func (u FieldUpdate) Operator() string { return u.Op }

// PushUpdate appends Values to an array field. Modifiers force the $each form.
type PushUpdate struct {
	Field    string
	Values   []any
	Position *int
	Slice    *int
	// Sort is 1, -1 or a sort document for arrays of documents.
	Sort any
}

func (PushUpdate) astNode()         {}
func (PushUpdate) Operator() string { return "$push" }

// AddToSetUpdate adds Values to an array unless already present.
type AddToSetUpdate struct {
	Field  string
	Values []any
}

func (AddToSetUpdate) astNode()         {}
func (AddToSetUpdate) Operator() string { return "$addToSet" }

// PullUpdate removes array elements equal to Value, or matching Condition
// when it is set.
type PullUpdate struct {
	Field     string
	Value     any
	Condition Filter
}

func (PullUpdate) astNode()         {}
func (PullUpdate) Operator() string { return "$pull" }

// --- Expressions ---

// Expression is the marker interface for aggregation expressions.
type Expression interface {
	Node
	expression()
}

// FieldRef references a field of the current document ("$path").
type FieldRef struct {
	Path string
}

func (FieldRef) astNode()    {}
func (FieldRef) expression() {}

// Variable references a pipeline variable ("$$name").
type Variable struct {
	Name string
}

func (Variable) astNode()    {}
func (Variable) expression() {}

// Value is a constant operand. Strings starting with "$" are interpreted as
// field paths by the server; wrap them in Literal to avoid that.
type Value struct {
	Val any
}

func (Value) astNode()    {}
func (Value) expression() {}

// Literal writes {$literal: Val}.
type Literal struct {
	Val any
}

func (Literal) astNode()    {}
func (Literal) expression() {}

// OperatorExpr applies Op to an argument array, e.g. {$add: ["$a", 1]}.
type OperatorExpr struct {
	Op   string
	Args []Expression
}

func (OperatorExpr) astNode()    {}
func (OperatorExpr) expression() {}

// UnaryExpr applies Op to a single argument, e.g. {$toUpper: "$name"}.
type UnaryExpr struct {
	Op  string
	Arg Expression
}

func (UnaryExpr) astNode()    {}
func (UnaryExpr) expression() {}

// NamedExpr is a named argument or output field.
type NamedExpr struct {
	Name string
	Expr Expression
}

// DocumentExpr applies Op to named arguments, e.g.
// {$dateAdd: {startDate: "$at", unit: "day", amount: 1}}.
type DocumentExpr struct {
	Op   string
	Args []NamedExpr
}

func (DocumentExpr) astNode()    {}
func (DocumentExpr) expression() {}

// CondExpr is the ternary {$cond: {if, then, else}}.
type CondExpr struct {
	If   Expression
	Then Expression
	Else Expression
}

func (CondExpr) astNode()    {}
func (CondExpr) expression() {}

// ObjectExpr builds a document from named expressions.
type ObjectExpr struct {
	Fields []NamedExpr
}

func (ObjectExpr) astNode()    {}
func (ObjectExpr) expression() {}

// ArrayExpr builds an array from expressions.
type ArrayExpr struct {
	Items []Expression
}

func (ArrayExpr) astNode()    {}
func (ArrayExpr) expression() {}

// Accumulator is a $group accumulator such as {$sum: "$qty"}. A nil Arg is
// written as an empty document, as $count requires.
type Accumulator struct {
	Op  string
	Arg Expression
}

func (Accumulator) astNode()    {}
func (Accumulator) expression() {}

// --- Pipeline stages ---

// Stage is the marker interface for aggregation pipeline stages.
type Stage interface {
	Node
	stage()
}

// MatchStage filters the document stream.
type MatchStage struct {
	Filter Filter
}

func (MatchStage) astNode() {}
func (MatchStage) stage()   {}

// GroupStage groups documents by ID and computes accumulated Fields.
type GroupStage struct {
	ID     Expression
	Fields []NamedExpr
}

func (GroupStage) astNode() {}
func (GroupStage) stage()   {}

// ProjectStage reshapes documents. Names are field paths.
type ProjectStage struct {
	Fields []NamedExpr
}

func (ProjectStage) astNode() {}
func (ProjectStage) stage()   {}

// SortKey is one key of a sort specification.
type SortKey struct {
	Field string
	Desc  bool
}

// SortStage orders the document stream.
type SortStage struct {
	Keys []SortKey
}

func (SortStage) astNode() {}
func (SortStage) stage()   {}

// LimitStage passes at most N documents.
type LimitStage struct {
	N int64
}

func (LimitStage) astNode() {}
func (LimitStage) stage()   {}

// SkipStage drops the first N documents.
type SkipStage struct {
	N int64
}

func (SkipStage) astNode() {}
func (SkipStage) stage()   {}

// UnwindStage emits one document per array element.
type UnwindStage struct {
	Path                       string
	IncludeArrayIndex          string
	PreserveNullAndEmptyArrays bool
}

func (UnwindStage) astNode() {}
func (UnwindStage) stage()   {}

// LookupStage performs a left outer join with another collection.
type LookupStage struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
}

func (LookupStage) astNode() {}
func (LookupStage) stage()   {}

// AddFieldsStage adds computed fields.
type AddFieldsStage struct {
	Fields []NamedExpr
}

func (AddFieldsStage) astNode() {}
func (AddFieldsStage) stage()   {}

// CountStage replaces the stream with {Field: count}.
type CountStage struct {
	Field string
}

func (CountStage) astNode() {}
func (CountStage) stage()   {}

// SampleStage picks Size random documents.
type SampleStage struct {
	Size int64
}

func (SampleStage) astNode() {}
func (SampleStage) stage()   {}

// ReplaceRootStage promotes NewRoot to the top level.
type ReplaceRootStage struct {
	NewRoot Expression
}

func (ReplaceRootStage) astNode() {}
func (ReplaceRootStage) stage()   {}

// UnsetStage removes fields.
type UnsetStage struct {
	Fields []string
}

func (UnsetStage) astNode() {}
func (UnsetStage) stage()   {}
