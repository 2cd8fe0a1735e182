// Package ast provides builder helpers for ergonomic AST construction.
package ast

// --- Filters ---

// Eq creates an equality filter, written as {field: value}.
func Eq(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpEq, Value: value}
}

// Ne creates a {field: {$ne: value}} filter.
func Ne(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpNe, Value: value}
}

// Gt creates a {field: {$gt: value}} filter.
func Gt(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpGt, Value: value}
}

// Gte creates a {field: {$gte: value}} filter.
func Gte(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpGte, Value: value}
}

// Lt creates a {field: {$lt: value}} filter.
func Lt(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpLt, Value: value}
}

// Lte creates a {field: {$lte: value}} filter.
func Lte(field string, value any) Comparison {
	return Comparison{Field: field, Op: OpLte, Value: value}
}

// In matches any of values.
func In(field string, values ...any) Comparison {
	return Comparison{Field: field, Op: OpIn, Value: values}
}

// NotIn matches none of values.
func NotIn(field string, values ...any) Comparison {
	return Comparison{Field: field, Op: OpNin, Value: values}
}

// All matches arrays containing every one of values.
func All(field string, values ...any) Comparison {
	return Comparison{Field: field, Op: OpAll, Value: values}
}

// Size matches arrays with exactly n elements.
func Size(field string, n int) Comparison {
	return Comparison{Field: field, Op: OpSize, Value: n}
}

// Exists matches documents that have (or lack) field.
func Exists(field string, exists bool) Comparison {
	return Comparison{Field: field, Op: OpExists, Value: exists}
}

// TypeIs matches fields of the given BSON type alias ("string", "int", ...).
func TypeIs(field, alias string) Comparison {
	return Comparison{Field: field, Op: OpType, Value: alias}
}

// Regex creates a regular expression filter.
func Regex(field, pattern, options string) RegexFilter {
	return RegexFilter{Field: field, Pattern: pattern, Options: options}
}

// Mod creates a {field: {$mod: [divisor, remainder]}} filter.
func Mod(field string, divisor, remainder int64) ModFilter {
	return ModFilter{Field: field, Divisor: divisor, Remainder: remainder}
}

// ElemMatch matches arrays with an element satisfying all filters.
func ElemMatch(field string, filters ...Filter) ElemMatchFilter {
	return ElemMatchFilter{Field: field, Filters: filters}
}

// BitsAllSet matches when all bits in mask are set.
func BitsAllSet(field string, mask any) BitsFilter {
	return BitsFilter{Field: field, Op: "$bitsAllSet", Mask: mask}
}

// BitsAnySet matches when any bit in mask is set.
func BitsAnySet(field string, mask any) BitsFilter {
	return BitsFilter{Field: field, Op: "$bitsAnySet", Mask: mask}
}

// BitsAllClear matches when all bits in mask are clear.
func BitsAllClear(field string, mask any) BitsFilter {
	return BitsFilter{Field: field, Op: "$bitsAllClear", Mask: mask}
}

// BitsAnyClear matches when any bit in mask is clear.
func BitsAnyClear(field string, mask any) BitsFilter {
	return BitsFilter{Field: field, Op: "$bitsAnyClear", Mask: mask}
}

// Not negates a field filter.
func Not(f FieldFilter) NotFilter {
	return NotFilter{Filter: f}
}

// And matches documents satisfying every filter.
func And(filters ...Filter) LogicalFilter {
	return LogicalFilter{Op: "$and", Filters: filters}
}

// Or matches documents satisfying at least one filter.
func Or(filters ...Filter) LogicalFilter {
	return LogicalFilter{Op: "$or", Filters: filters}
}

// Nor matches documents satisfying none of the filters.
func Nor(filters ...Filter) LogicalFilter {
	return LogicalFilter{Op: "$nor", Filters: filters}
}

// Text creates a $text search filter.
func Text(search string) TextFilter {
	return TextFilter{Search: search}
}

// Where creates a $where filter.
func Where(javascript string) WhereFilter {
	return WhereFilter{JavaScript: javascript}
}

// Expr creates an $expr filter.
func Expr(e Expression) ExprFilter {
	return ExprFilter{Expr: e}
}

// Raw creates a filter from a single verbatim key/value pair.
func Raw(key string, value any) RawFilter {
	return RawFilter{Elements: []RawElement{{Key: key, Value: value}}}
}

// GeoPoint creates a GeoJSON point geometry.
func GeoPoint(lng, lat float64) Geometry {
	return Geometry{Type: "Point", Coordinates: []float64{lng, lat}}
}

// Near creates a $near filter around p.
func Near(field string, p Point) NearFilter {
	return NearFilter{Field: field, Point: p}
}

// NearSphere creates a $nearSphere filter around p.
func NearSphere(field string, p Point) NearFilter {
	return NearFilter{Field: field, Point: p, Sphere: true}
}

// GeoWithin creates a $geoWithin filter.
func GeoWithin(field string, s Shape) GeoWithinFilter {
	return GeoWithinFilter{Field: field, Shape: s}
}

// GeoIntersects creates a $geoIntersects filter.
func GeoIntersects(field string, g Geometry) GeoIntersectsFilter {
	return GeoIntersectsFilter{Field: field, Geometry: g}
}

// --- Updates ---

// Set creates a $set update.
func Set(field string, value any) FieldUpdate {
	return FieldUpdate{Op: "$set", Field: field, Value: value}
}

// SetOnInsert creates a $setOnInsert update.
func SetOnInsert(field string, value any) FieldUpdate {
	return FieldUpdate{Op: "$setOnInsert", Field: field, Value: value}
}

// Unset creates an $unset update.
func Unset(field string) FieldUpdate {
	return FieldUpdate{Op: "$unset", Field: field, Value: ""}
}

// Inc creates an $inc update.
func Inc(field string, by any) FieldUpdate {
	return FieldUpdate{Op: "$inc", Field: field, Value: by}
}

// Mul creates a $mul update.
func Mul(field string, by any) FieldUpdate {
	return FieldUpdate{Op: "$mul", Field: field, Value: by}
}

// SetMin creates a $min update.
func SetMin(field string, value any) FieldUpdate {
	return FieldUpdate{Op: "$min", Field: field, Value: value}
}

// SetMax creates a $max update.
func SetMax(field string, value any) FieldUpdate {
	return FieldUpdate{Op: "$max", Field: field, Value: value}
}

// Rename creates a $rename update. The new name is not translated.
func Rename(field, to string) FieldUpdate {
	return FieldUpdate{Op: "$rename", Field: field, Value: to}
}

// CurrentDate sets field to the current date.
func CurrentDate(field string) FieldUpdate {
	return FieldUpdate{Op: "$currentDate", Field: field, Value: true}
}

// PopFirst removes the first array element.
func PopFirst(field string) FieldUpdate {
	return FieldUpdate{Op: "$pop", Field: field, Value: -1}
}

// PopLast removes the last array element.
func PopLast(field string) FieldUpdate {
	return FieldUpdate{Op: "$pop", Field: field, Value: 1}
}

// PullAll removes all occurrences of values.
func PullAll(field string, values ...any) FieldUpdate {
	return FieldUpdate{Op: "$pullAll", Field: field, Value: values}
}

// Push appends values to an array field.
func Push(field string, values ...any) PushUpdate {
	return PushUpdate{Field: field, Values: values}
}

// AddToSet adds values to an array field unless present.
func AddToSet(field string, values ...any) AddToSetUpdate {
	return AddToSetUpdate{Field: field, Values: values}
}

// Pull removes array elements equal to value.
func Pull(field string, value any) PullUpdate {
	return PullUpdate{Field: field, Value: value}
}

// PullWhere removes array elements matching cond.
func PullWhere(field string, cond Filter) PullUpdate {
	return PullUpdate{Field: field, Condition: cond}
}

// --- Expressions ---

// Field references a document field.
func Field(path string) FieldRef {
	return FieldRef{Path: path}
}

// Var references a pipeline variable.
func Var(name string) Variable {
	return Variable{Name: name}
}

// Val wraps a constant operand.
func Val(v any) Value {
	return Value{Val: v}
}

// Lit wraps a constant in $literal.
func Lit(v any) Literal {
	return Literal{Val: v}
}

// Op applies an operator to an argument array.
func Op(op string, args ...Expression) OperatorExpr {
	return OperatorExpr{Op: op, Args: args}
}

// Unary applies an operator to a single argument.
func Unary(op string, arg Expression) UnaryExpr {
	return UnaryExpr{Op: op, Arg: arg}
}

// Named pairs a name with an expression.
func Named(name string, e Expression) NamedExpr {
	return NamedExpr{Name: name, Expr: e}
}

// Doc applies an operator to named arguments.
func Doc(op string, args ...NamedExpr) DocumentExpr {
	return DocumentExpr{Op: op, Args: args}
}

// Cond creates a $cond expression.
func Cond(ifExpr, thenExpr, elseExpr Expression) CondExpr {
	return CondExpr{If: ifExpr, Then: thenExpr, Else: elseExpr}
}

// Object builds a document expression.
func Object(fields ...NamedExpr) ObjectExpr {
	return ObjectExpr{Fields: fields}
}

// Array builds an array expression.
func Array(items ...Expression) ArrayExpr {
	return ArrayExpr{Items: items}
}

// Add creates an $add expression.
func Add(args ...Expression) OperatorExpr {
	return Op("$add", args...)
}

// Concat creates a $concat expression.
func Concat(args ...Expression) OperatorExpr {
	return Op("$concat", args...)
}

// DateAdd adds amount units to start.
func DateAdd(start Expression, unit string, amount Expression) DocumentExpr {
	return Doc("$dateAdd", Named("startDate", start), Named("unit", Val(unit)), Named("amount", amount))
}

// DateSubtract subtracts amount units from start.
func DateSubtract(start Expression, unit string, amount Expression) DocumentExpr {
	return Doc("$dateSubtract", Named("startDate", start), Named("unit", Val(unit)), Named("amount", amount))
}

// DateDiff computes the difference between two dates in unit.
func DateDiff(start, end Expression, unit string) DocumentExpr {
	return Doc("$dateDiff", Named("startDate", start), Named("endDate", end), Named("unit", Val(unit)))
}

// DateToString formats date with format.
func DateToString(date Expression, format string) DocumentExpr {
	return Doc("$dateToString", Named("format", Val(format)), Named("date", date))
}

// SumOf creates a $sum accumulator.
func SumOf(e Expression) Accumulator { return Accumulator{Op: "$sum", Arg: e} }

// AvgOf creates an $avg accumulator.
func AvgOf(e Expression) Accumulator { return Accumulator{Op: "$avg", Arg: e} }

// MinOf creates a $min accumulator.
func MinOf(e Expression) Accumulator { return Accumulator{Op: "$min", Arg: e} }

// MaxOf creates a $max accumulator.
func MaxOf(e Expression) Accumulator { return Accumulator{Op: "$max", Arg: e} }

// FirstOf creates a $first accumulator.
func FirstOf(e Expression) Accumulator { return Accumulator{Op: "$first", Arg: e} }

// LastOf creates a $last accumulator.
func LastOf(e Expression) Accumulator { return Accumulator{Op: "$last", Arg: e} }

// PushOf creates a $push accumulator.
func PushOf(e Expression) Accumulator { return Accumulator{Op: "$push", Arg: e} }

// SetOf creates an $addToSet accumulator.
func SetOf(e Expression) Accumulator { return Accumulator{Op: "$addToSet", Arg: e} }

// CountOf creates a $count accumulator.
func CountOf() Accumulator { return Accumulator{Op: "$count"} }

// --- Stages ---

// Match creates a $match stage.
func Match(f Filter) MatchStage {
	return MatchStage{Filter: f}
}

// Group creates a $group stage.
func Group(id Expression, fields ...NamedExpr) GroupStage {
	return GroupStage{ID: id, Fields: fields}
}

// Project creates a $project stage.
func Project(fields ...NamedExpr) ProjectStage {
	return ProjectStage{Fields: fields}
}

// Include is a projection entry keeping field.
func Include(field string) NamedExpr {
	return Named(field, Val(1))
}

// Exclude is a projection entry dropping field.
func Exclude(field string) NamedExpr {
	return Named(field, Val(0))
}

// Sort creates a $sort stage.
func Sort(keys ...SortKey) SortStage {
	return SortStage{Keys: keys}
}

// Asc is an ascending sort key.
func Asc(field string) SortKey {
	return SortKey{Field: field}
}

// Desc is a descending sort key.
func Desc(field string) SortKey {
	return SortKey{Field: field, Desc: true}
}

// Limit creates a $limit stage.
func Limit(n int64) LimitStage {
	return LimitStage{N: n}
}

// Skip creates a $skip stage.
func Skip(n int64) SkipStage {
	return SkipStage{N: n}
}

// Unwind creates an $unwind stage on path.
func Unwind(path string) UnwindStage {
	return UnwindStage{Path: path}
}

// Lookup creates a $lookup stage.
func Lookup(from, localField, foreignField, as string) LookupStage {
	return LookupStage{From: from, LocalField: localField, ForeignField: foreignField, As: as}
}

// AddFields creates an $addFields stage.
func AddFields(fields ...NamedExpr) AddFieldsStage {
	return AddFieldsStage{Fields: fields}
}

// Count creates a $count stage.
func Count(field string) CountStage {
	return CountStage{Field: field}
}

// Sample creates a $sample stage.
func Sample(size int64) SampleStage {
	return SampleStage{Size: size}
}

// ReplaceRoot creates a $replaceRoot stage.
func ReplaceRoot(e Expression) ReplaceRootStage {
	return ReplaceRootStage{NewRoot: e}
}

// UnsetFields creates an $unset stage.
func UnsetFields(fields ...string) UnsetStage {
	return UnsetStage{Fields: fields}
}
