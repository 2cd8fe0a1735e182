package gotype

import (
	"fmt"
	"reflect"

	"github.com/CaliLuke/go-odm/ast"
	"go.mongodb.org/mongo-driver/bson"
)

// Query builds find, update and aggregation documents for entities of type
// T. Field paths are Go field names or storage names and are translated to
// storage names when built.
type Query[T any] struct {
	mapper     *Mapper
	model      *EntityModel
	err        error
	filters    []ast.Filter
	sort       []ast.SortKey
	projection []ast.NamedExpr
	skip       int64
	limit      int64
}

// FindCommand is a built query, ready to hand to a driver's find call.
type FindCommand struct {
	Collection string
	Filter     bson.Raw
	Sort       bson.Raw
	Projection bson.Raw
	Skip       int64
	Limit      int64
}

// NewQuery starts a query over T's collection.
func NewQuery[T any](m *Mapper) *Query[T] {
	model, err := m.Model(reflect.TypeOf((*T)(nil)).Elem())
	return &Query[T]{mapper: m, model: model, err: err}
}

// Filter adds filters. Multiple calls are combined with AND semantics.
func (q *Query[T]) Filter(filters ...ast.Filter) *Query[T] {
	q.filters = append(q.filters, filters...)
	return q
}

// OrderAsc adds an ascending sort on field.
func (q *Query[T]) OrderAsc(field string) *Query[T] {
	q.sort = append(q.sort, ast.Asc(field))
	return q
}

// OrderDesc adds a descending sort on field.
func (q *Query[T]) OrderDesc(field string) *Query[T] {
	q.sort = append(q.sort, ast.Desc(field))
	return q
}

// Project limits the returned fields to fields.
func (q *Query[T]) Project(fields ...string) *Query[T] {
	for _, f := range fields {
		q.projection = append(q.projection, ast.Include(f))
	}
	return q
}

// Exclude removes fields from the returned documents.
func (q *Query[T]) Exclude(fields ...string) *Query[T] {
	for _, f := range fields {
		q.projection = append(q.projection, ast.Exclude(f))
	}
	return q
}

// Offset skips the first n matching documents.
func (q *Query[T]) Offset(n int64) *Query[T] {
	q.skip = n
	return q
}

// Limit sets the maximum number of documents to return.
func (q *Query[T]) Limit(n int64) *Query[T] {
	q.limit = n
	return q
}

// Build encodes the query as a find command.
func (q *Query[T]) Build() (*FindCommand, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.skip < 0 || q.limit < 0 {
		return nil, fmt.Errorf("query %s: negative skip or limit", q.model.Name)
	}
	c := q.mapper.Compiler(q.model)
	filter, err := c.CompileFilter(q.filters...)
	if err != nil {
		return nil, fmt.Errorf("query %s: filter: %w", q.model.Name, err)
	}
	cmd := &FindCommand{
		Collection: q.model.Collection,
		Filter:     filter,
		Skip:       q.skip,
		Limit:      q.limit,
	}
	if len(q.sort) > 0 {
		if cmd.Sort, err = stageBody(c, ast.Sort(q.sort...), "$sort"); err != nil {
			return nil, fmt.Errorf("query %s: sort: %w", q.model.Name, err)
		}
	}
	if len(q.projection) > 0 {
		if cmd.Projection, err = stageBody(c, ast.Project(q.projection...), "$project"); err != nil {
			return nil, fmt.Errorf("query %s: projection: %w", q.model.Name, err)
		}
	}
	return cmd, nil
}

// UpdateDocument encodes update operators against T's storage names.
func (q *Query[T]) UpdateDocument(updates ...ast.Update) (bson.Raw, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("update %s: no update operators", q.model.Name)
	}
	doc, err := q.mapper.Compiler(q.model).CompileUpdate(updates...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", q.model.Name, err)
	}
	return doc, nil
}

// Pipeline encodes an aggregation pipeline. The query's filters become a
// leading $match, followed by its sort, skip and limit, then stages.
func (q *Query[T]) Pipeline(stages ...ast.Stage) ([]bson.Raw, error) {
	if q.err != nil {
		return nil, q.err
	}
	var all []ast.Stage
	switch len(q.filters) {
	case 0:
	case 1:
		all = append(all, ast.Match(q.filters[0]))
	default:
		all = append(all, ast.Match(ast.And(q.filters...)))
	}
	if len(q.sort) > 0 {
		all = append(all, ast.Sort(q.sort...))
	}
	if q.skip > 0 {
		all = append(all, ast.Skip(q.skip))
	}
	if q.limit > 0 {
		all = append(all, ast.Limit(q.limit))
	}
	if len(q.projection) > 0 {
		all = append(all, ast.Project(q.projection...))
	}
	all = append(all, stages...)
	pipeline, err := q.mapper.Compiler(q.model).CompilePipeline(all...)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", q.model.Name, err)
	}
	return pipeline, nil
}

// stageBody compiles a single-key stage and returns the document under
// its operator.
func stageBody(c *ast.Compiler, stage ast.Stage, op string) (bson.Raw, error) {
	doc, err := c.Compile(stage)
	if err != nil {
		return nil, err
	}
	v, err := doc.LookupErr(op)
	if err != nil {
		return nil, err
	}
	body, ok := v.DocumentOK()
	if !ok {
		return nil, fmt.Errorf("%s is not a document", op)
	}
	return body, nil
}
