package mapgen

import (
	"strings"
	"testing"
)

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		want   string
	}{
		{"unknown type", "entity A { x widget }", "unknown type widget"},
		{"unknown parent", "entity A extends B { }", "unknown parent B"},
		{"cycle", "entity A extends B { } entity B extends A { }", "inheritance cycle"},
		{"self cycle", "entity A extends A { }", "inheritance cycle"},
		{"duplicate names", "enum A { x } entity A { }", "name already used"},
		{"duplicate field", "entity A { x string; x int }", "duplicate field x"},
		{"redeclared field", "entity A { x string } entity B extends A { x int }", "duplicate field x"},
		{"duplicate storage", `entity A { x string; y string @name("x") }`, `stored as "x"`},
		{"two ids", "entity A { a string @id } entity B extends A { b string @id }", "more than one @id"},
		{"ref to abstract", "abstract entity A { id string @id } entity B { a ref<A> }", "abstract entity A"},
		{"ref without id", "entity A { } entity B { a ref<A> }", "has no @id"},
		{"ref to scalar", "entity B { a ref<string> }", "must target an entity"},
		{"nested ref", "entity A { id string @id } entity B { a ref<ref<A>> }", "must target an entity"},
		{"lazy without ref", "entity A { x string @lazy }", "need a ref"},
		{"serialized ref", "entity A { id string @id; x ref<A> @serialized }", "@serialized"},
		{"map key", "entity A { x map<int, string> }", "map keys must be string"},
		{"list arity", "entity A { x list<string, int> }", "wrong number of type arguments"},
		{"not generic", "entity A { x string<int> }", "is not generic"},
		{"reserved name", `entity A { x string @name("$ref") }`, "reserved"},
		{"tag option name", "entity A { lazy string }", "read as a tag option"},
		{"dotted name", `entity A { x string @name("a.b") }`, "invalid character"},
		{"named id", `entity A { x string @id @name("key") }`, "always stored as _id"},
		{"bad collection", `entity A collection "$x" { }`, "must not start with '$'"},
		{"conflicting discriminators", `entity A nodiscriminator discriminator "a" { }`, "conflicts"},
		{"empty enum", "enum E { }", "no values"},
		{"duplicate stored enum", `enum E { a "x", b "x" }`, "duplicate stored name"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSchema(tc.schema)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	_, err := ParseSchema("entity A { x widget; y gadget }")
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"widget", "gadget"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSchema_Inheritance(t *testing.T) {
	schema, err := ParseSchema(`
abstract entity Base collection "things" { id objectid @id; name string }
entity Mid extends Base { size int }
entity Leaf extends Mid collection "leaves" { extra bool }
`)
	if err != nil {
		t.Fatalf("ParseSchema failed: %v", err)
	}

	if got := schema.CollectionOf("Mid"); got != "things" {
		t.Errorf("Mid collection: got %q", got)
	}
	if got := schema.CollectionOf("Leaf"); got != "leaves" {
		t.Errorf("Leaf collection: got %q", got)
	}

	var names []string
	for _, a := range schema.Ancestors("Leaf") {
		names = append(names, a.Name)
	}
	if strings.Join(names, ",") != "Mid,Base" {
		t.Errorf("Leaf ancestors: got %v", names)
	}

	var stored []string
	for _, f := range schema.AllFields("Leaf") {
		stored = append(stored, f.StorageName())
	}
	if got := strings.Join(stored, ","); got != "_id,name,size,extra" {
		t.Errorf("Leaf fields: got %s", got)
	}
}
