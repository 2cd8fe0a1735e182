package gotype

import (
	"testing"

	"github.com/CaliLuke/go-odm/ast"
	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
)

type testShelf struct {
	Label string `odm:"lbl"`
	Books []*testBook `odm:",ref"`
}

type testLibrary struct {
	ID       string `odm:"_id"`
	Name     string
	Featured testShelf
	Shelves  []testShelf
}

// --- Find commands ---

func TestQuery_Build(t *testing.T) {
	m := newTestMapper(t)
	cmd, err := NewQuery[testBook](m).
		Filter(ast.Eq("Title", "Go"), ast.Gt("Rating", 3.5)).
		OrderDesc("Created").
		OrderAsc("title").
		Project("Title", "Rating").
		Offset(10).
		Limit(5).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if cmd.Collection != "books" {
		t.Errorf("Collection: got %q", cmd.Collection)
	}
	if diff := cmp.Diff([]string{"title", "rating"}, keysOf(t, cmd.Filter)); diff != "" {
		t.Errorf("filter keys (-want +got):\n%s", diff)
	}
	if got := cmd.Filter.Lookup("title").StringValue(); got != "Go" {
		t.Errorf("title: got %q", got)
	}
	if got := cmd.Filter.Lookup("rating", "$gt").Double(); got != 3.5 {
		t.Errorf("rating.$gt: got %v", got)
	}
	if diff := cmp.Diff([]string{"created", "title"}, keysOf(t, cmd.Sort)); diff != "" {
		t.Errorf("sort keys (-want +got):\n%s", diff)
	}
	if got := cmd.Sort.Lookup("created").Int32(); got != -1 {
		t.Errorf("created direction: got %d", got)
	}
	if diff := cmp.Diff([]string{"title", "rating"}, keysOf(t, cmd.Projection)); diff != "" {
		t.Errorf("projection keys (-want +got):\n%s", diff)
	}
	if cmd.Skip != 10 || cmd.Limit != 5 {
		t.Errorf("skip/limit: got %d/%d", cmd.Skip, cmd.Limit)
	}
}

func TestQuery_EmptyFilter(t *testing.T) {
	m := newTestMapper(t)
	cmd, err := NewQuery[testPlayer](m).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(keysOf(t, cmd.Filter)) != 0 {
		t.Errorf("filter: got %s, want {}", cmd.Filter)
	}
	if cmd.Sort != nil || cmd.Projection != nil {
		t.Error("sort and projection should be empty")
	}
}

func TestQuery_SameFieldUsesAnd(t *testing.T) {
	m := newTestMapper(t)
	cmd, err := NewQuery[testPlayer](m).
		Filter(ast.Gte("Score", 10)).
		Filter(ast.Lt("Score", 20)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"$and"}, keysOf(t, cmd.Filter)); diff != "" {
		t.Errorf("filter keys (-want +got):\n%s", diff)
	}
	if got := cmd.Filter.Lookup("$and", "1", "score", "$lt").Int32(); got != 20 {
		t.Errorf("$and.1.score.$lt: got %d", got)
	}
}

func TestQuery_Errors(t *testing.T) {
	m := newTestMapper(t)
	if _, err := NewQuery[testPlayer](m).Limit(-1).Build(); err == nil {
		t.Error("negative limit should fail")
	}
	if _, err := NewQuery[testPlayer](m).Offset(-1).Build(); err == nil {
		t.Error("negative offset should fail")
	}
	if _, err := NewQuery[testUnmarked](m).Build(); err == nil {
		t.Error("query over an unmappable type should fail")
	}
	if _, err := NewQuery[testUnmarked](m).Pipeline(); err == nil {
		t.Error("pipeline over an unmappable type should fail")
	}
}

func TestQuery_OperandsUseMapperCodecs(t *testing.T) {
	m := newTestMapper(t)
	if err := RegisterEnum(m, colorRed, colorGreen, colorBlue); err != nil {
		t.Fatal(err)
	}
	cmd, err := NewQuery[testShirt](m).
		Filter(ast.In("Color", colorRed, colorBlue)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	in := cmd.Filter.Lookup("color", "$in")
	values, err := in.Array().Values()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, v := range values {
		got = append(got, v.StringValue())
	}
	if diff := cmp.Diff([]string{"red", "blue"}, got); diff != "" {
		t.Errorf("$in (-want +got):\n%s", diff)
	}
}

func TestQuery_NestedPaths(t *testing.T) {
	m := newTestMapper(t)
	tests := []struct {
		filter ast.Filter
		want   string
	}{
		{ast.Eq("Featured.Label", "x"), "featured.lbl"},
		{ast.Eq("Shelves.0.Label", "x"), "shelves.0.lbl"},
		{ast.Eq("Shelves.$.Label", "x"), "shelves.$.lbl"},
		// references are not followed
		{ast.Eq("Featured.Books.Title", "x"), "featured.books.Title"},
		{ast.Eq("Unknown.Label", "x"), "Unknown.Label"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			cmd, err := NewQuery[testLibrary](m).Filter(tc.filter).Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if diff := cmp.Diff([]string{tc.want}, keysOf(t, cmd.Filter)); diff != "" {
				t.Errorf("filter keys (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQuery_ElemMatchRelativePaths(t *testing.T) {
	m := newTestMapper(t)
	cmd, err := NewQuery[testLibrary](m).
		Filter(ast.ElemMatch("Shelves", ast.Eq("Label", "fiction"))).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := cmd.Filter.Lookup("shelves", "$elemMatch", "lbl").StringValue(); got != "fiction" {
		t.Errorf("shelves.$elemMatch.lbl: got %q (filter %s)", got, cmd.Filter)
	}
}

// --- Updates ---

func TestQuery_UpdateDocument(t *testing.T) {
	m := newTestMapper(t)
	doc, err := NewQuery[testBook](m).UpdateDocument(
		ast.Set("Title", "Go"),
		ast.Inc("Extra.reads", 1),
		ast.Set("Rating", 4.5),
		ast.Unset("Computed"),
	)
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if diff := cmp.Diff([]string{"$set", "$inc", "$unset"}, keysOf(t, doc)); diff != "" {
		t.Errorf("operators (-want +got):\n%s", diff)
	}
	set, ok := doc.Lookup("$set").DocumentOK()
	if !ok {
		t.Fatal("$set is not a document")
	}
	if diff := cmp.Diff([]string{"title", "rating"}, keysOf(t, set)); diff != "" {
		t.Errorf("$set keys (-want +got):\n%s", diff)
	}
	if got := doc.Lookup("$inc", "extra.reads").Int32(); got != 1 {
		t.Errorf("$inc.extra.reads: got %d", got)
	}
}

func TestQuery_UpdateDocument_Empty(t *testing.T) {
	m := newTestMapper(t)
	if _, err := NewQuery[testBook](m).UpdateDocument(); err == nil {
		t.Error("an update without operators should fail")
	}
}

// --- Pipelines ---

func TestQuery_Pipeline(t *testing.T) {
	m := newTestMapper(t)
	pipeline, err := NewQuery[testPlayer](m).
		Filter(ast.Gt("Score", 10)).
		OrderDesc("Score").
		Offset(5).
		Limit(20).
		Project("Name").
		Pipeline(ast.Group(ast.Field("Name"), ast.Named("total", ast.SumOf(ast.Field("Score")))))
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}

	var ops []string
	for _, stage := range pipeline {
		ops = append(ops, keysOf(t, stage)[0])
	}
	want := []string{"$match", "$sort", "$skip", "$limit", "$project", "$group"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("stages (-want +got):\n%s", diff)
	}
	// a single filter is not wrapped in $and
	match := pipeline[0].Lookup("$match")
	if got := match.Document().Lookup("score", "$gt").Int32(); got != 10 {
		t.Errorf("$match.score.$gt: got %d", got)
	}
}

func TestQuery_PipelineCombinesFilters(t *testing.T) {
	m := newTestMapper(t)
	pipeline, err := NewQuery[testPlayer](m).
		Filter(ast.Eq("Name", "ada"), ast.Gt("Score", 1)).
		Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if len(pipeline) != 1 {
		t.Fatalf("stages: got %d, want 1", len(pipeline))
	}
	and, err := pipeline[0].LookupErr("$match", "$and")
	if err != nil {
		t.Fatalf("$match.$and: %v", err)
	}
	values, err := and.Array().Values()
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 2 {
		t.Errorf("$and: got %d clauses, want 2", len(values))
	}
}

func TestQuery_FilterAsDocumentValue(t *testing.T) {
	m := newTestMapper(t)
	// filters embedded in stored values encode through the expression codec
	raw, err := m.Marshal(bson.M{"saved": ast.Eq("score", 3)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := raw.Lookup("saved", "score").Int32(); got != 3 {
		t.Errorf("saved.score: got %d", got)
	}
}
