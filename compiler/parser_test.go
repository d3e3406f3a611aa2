package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/tern/pkg/diag"
)

func parse(t *testing.T, src string) *Tree {
	t.Helper()
	diags := diag.NewSink()
	tree := Parse("test.tn", src, diags)
	if diags.HasErrors() {
		t.Fatalf("parse errors:\n%s", diags)
	}
	return tree
}

// parseExpr parses src as the initializer of a global.
func parseExpr(t *testing.T, src string) (*Tree, NodeID) {
	t.Helper()
	tree := parse(t, "i32 x = "+src+"\n")
	decl := tree.Child(tree.Root, 0)
	return tree, tree.Child(decl, 2)
}

// shape renders an expression as a parenthesised prefix form.
func shape(tree *Tree, id NodeID) string {
	n := tree.Node(id)
	switch n.Kind {
	case KindBinary:
		return "(" + n.Tok.Literal + " " + shape(tree, n.Children[0]) + " " + shape(tree, n.Children[1]) + ")"
	case KindUnary:
		return "(" + n.Tok.Literal + shape(tree, n.Children[0]) + ")"
	case KindIndex:
		return shape(tree, n.Children[0]) + "[" + shape(tree, n.Children[1]) + "]"
	case KindMember:
		return shape(tree, n.Children[0]) + "." + n.Tok.Literal
	case KindCall:
		var args []string
		for _, a := range tree.Children(n.Children[1]) {
			args = append(args, shape(tree, a))
		}
		return shape(tree, n.Children[0]) + "(" + strings.Join(args, ", ") + ")"
	case KindConvert:
		return n.Tok.Literal + "<" + shape(tree, n.Children[0]) + ">"
	}
	return n.Tok.Literal
}

func TestParserExpressions(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(+ 1 (* 2 3))"},
		{"(1 + 2) * 3", "(* (+ 1 2) 3)"},
		{"a - b - c", "(- a (- b c))"},
		{"a < b && c || d", "(|| (&& (< a b) c) d)"},
		{"a | b ^ c & d", "(| a (^ b (& c d)))"},
		{"a == b != c", "(== a (!= b c))"},
		{"1 << 2 + 3", "(<< 1 (+ 2 3))"},
		{"a <<< 1 >>> 2", "(<<< a (>>> 1 2))"},
		{"-a * !b", "(* (-a) (!b))"},
		{"~~x", "(~(~x))"},
		{"p.pos.x + m.a[1][2]", "(+ p.pos.x m.a[1][2])"},
		{"f(1, g(2), h())", "f(1, g(2), h())"},
		{"Geo.Area(r)", "Geo.Area(r)"},
		{"f32(i) / 2.0", "(/ f32<i> 2.0)"},
		{"i32(b) % 3", "(% i32<b> 3)"},
	}

	for _, tc := range tests {
		tree, id := parseExpr(t, tc.input)
		if got := shape(tree, id); got != tc.want {
			t.Errorf("parse(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserFunction(t *testing.T) {
	tree := parse(t, "export (i32) Add(i32 a, i32 b)\n    return a + b\n")
	decls := tree.Children(tree.Root)
	if len(decls) != 1 {
		t.Fatalf("got %d declarations, want 1", len(decls))
	}
	fn := tree.Node(decls[0])
	if fn.Kind != KindFuncDecl || fn.Tok.Literal != "Add" {
		t.Fatalf("got %s %q, want FuncDecl Add", fn.Kind, fn.Tok.Literal)
	}
	if fn.Flags&FlagExport == 0 {
		t.Error("missing export flag")
	}
	if n := len(tree.Children(fn.Children[0])); n != 1 {
		t.Errorf("got %d results, want 1", n)
	}
	params := tree.Children(fn.Children[1])
	if len(params) != 2 || tree.Node(params[1]).Tok.Literal != "b" {
		t.Errorf("params = %v, want a and b", params)
	}
	body := tree.Children(fn.Children[2])
	if len(body) != 1 || tree.Kind(body[0]) != KindReturn {
		t.Fatalf("body = %v, want one return", body)
	}
	if got := shape(tree, tree.Child(body[0], 0)); got != "(+ a b)" {
		t.Errorf("return value = %s, want (+ a b)", got)
	}
}

func TestParserImportedFunction(t *testing.T) {
	tree := parse(t, "import (i32, f32) Read(byte port)\nimport Log(i32 v)\n")
	decls := tree.Children(tree.Root)
	if len(decls) != 2 {
		t.Fatalf("got %d declarations, want 2", len(decls))
	}
	for _, id := range decls {
		n := tree.Node(id)
		if n.Kind != KindFuncDecl || n.Flags&FlagImport == 0 {
			t.Errorf("%q: kind %s flags %q, want imported FuncDecl", n.Tok.Literal, n.Kind, n.Flags)
		}
		if n.Child(2) != NoNode {
			t.Errorf("%q: imported function has a body", n.Tok.Literal)
		}
	}
	if n := len(tree.Children(tree.Child(decls[0], 0))); n != 2 {
		t.Errorf("Read has %d results, want 2", n)
	}
}

func TestParserDeclarations(t *testing.T) {
	src := `import "lib.tn"
@entry("main", "fast")
export Main()
    Run()
module Geo
    const f32 Pi = 3.14
    type Point
        f32 x
        f32 y
enum Color
    Red
    Green = 5
    Blue
i32 grid[4][8]
`
	tree := parse(t, src)
	var kinds []NodeKind
	for _, id := range tree.Children(tree.Root) {
		kinds = append(kinds, tree.Kind(id))
	}
	want := []NodeKind{KindImport, KindAttribute, KindFuncDecl, KindModule, KindEnum, KindVarDecl}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("decl %d = %s, want %s", i, kinds[i], want[i])
		}
	}

	imp := tree.Node(tree.Child(tree.Root, 0))
	if imp.Tok.Literal != "lib.tn" {
		t.Errorf("import path = %q, want lib.tn", imp.Tok.Literal)
	}
	attr := tree.Child(tree.Root, 1)
	if n := len(tree.Children(attr)); n != 2 {
		t.Errorf("attribute has %d params, want 2", n)
	}
	mod := tree.Child(tree.Root, 3)
	if n := len(tree.Children(mod)); n != 2 {
		t.Errorf("module has %d declarations, want 2", n)
	}
	enum := tree.Child(tree.Root, 4)
	if n := len(tree.Children(enum)); n != 3 {
		t.Errorf("enum has %d values, want 3", n)
	}
	grid := tree.Child(tree.Root, 5)
	if n := len(tree.Children(tree.Child(grid, 1))); n != 2 {
		t.Errorf("grid has %d dimensions, want 2", n)
	}
}

func TestParserStatements(t *testing.T) {
	src := `F()
    i32 x = 1
    Geo.Point p
    x = 2
    a, b = Pair()
    x += 3
    p.x *= 2.0
    if x > 1
        x = 0
    elif x < 0
        x = 1
    else
        x = 2
    while x < 10
        x += 1
    for i in 0, 10
        x += i
    for j in 10..0..-2
        x -= j
    Log(x)
    return
`
	tree := parse(t, src)
	body := tree.Children(tree.Child(tree.Child(tree.Root, 0), 2))
	want := []NodeKind{
		KindVarDecl, KindVarDecl, KindAssign, KindAssign, KindCompoundAssign, KindCompoundAssign,
		KindIf, KindWhile, KindFor, KindFor, KindExprStmt, KindReturn,
	}
	if len(body) != len(want) {
		t.Fatalf("got %d statements, want %d", len(body), len(want))
	}
	for i, id := range body {
		if tree.Kind(id) != want[i] {
			t.Errorf("statement %d = %s, want %s", i, tree.Kind(id), want[i])
		}
	}

	pair := tree.Node(body[3])
	if n := len(tree.Children(pair.Children[0])); n != 2 {
		t.Errorf("multiple assignment has %d targets, want 2", n)
	}
	ifNode := tree.Node(body[6])
	if n := len(ifNode.Children); n != 5 {
		t.Errorf("if has %d children, want 5", n)
	}
	rng := tree.Node(tree.Child(body[9], 0))
	if len(rng.Children) != 3 || rng.Flags&FlagRange == 0 {
		t.Errorf("range has %d items, flags %d; want 3 with FlagRange", len(rng.Children), rng.Flags)
	}
	if tree.Node(body[8]).Tok.Literal != "i" {
		t.Errorf("loop variable = %q, want i", tree.Node(body[8]).Tok.Literal)
	}
}

func TestParserParents(t *testing.T) {
	tree := parse(t, "F()\n    G(1 + 2)\n")
	var check func(id NodeID)
	check = func(id NodeID) {
		for _, c := range tree.Children(id) {
			if p := tree.Node(c).Parent; p != id {
				t.Errorf("%s node %d: parent %d, want %d", tree.Kind(c), c, p, id)
			}
			check(c)
		}
	}
	check(tree.Root)
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		input string
		msg   string
	}{
		{"i32 = 4\n", "expected identifier"},
		{"F()\n    x = \n", "expected statement"},
		{"F()\n    1 + 2\n", "expected statement"},
		{"F()\n    x\n", "expected"},
		{"F()\n    for i in 0\n        x = 1\n", "expected range end"},
		{"F()\n    G() + 1\n", "expected"},
		{"i32 x = (1 + 2\n", `expected ")"`},
		{"i32 x = 1 +\n", "expected expression"},
		{"x $ y\n", "illegal character"},
	}

	for _, tc := range tests {
		diags := diag.NewSink()
		Parse("test.tn", tc.input, diags)
		if !diags.HasErrors() {
			t.Errorf("Parse(%q): no errors, want %q", tc.input, tc.msg)
			continue
		}
		if !strings.Contains(diags.String(), tc.msg) {
			t.Errorf("Parse(%q): errors\n%swant one containing %q", tc.input, diags, tc.msg)
		}
	}
}

// A broken declaration does not hide errors or declarations after it.
func TestParserRecovery(t *testing.T) {
	src := `i32 = 1
F()
    x = = 2
    y = 3
i32 ok = 4
G()
    z = )
`
	diags := diag.NewSink()
	tree := Parse("test.tn", src, diags)
	if diags.ErrorCount() != 3 {
		t.Errorf("got %d errors, want 3:\n%s", diags.ErrorCount(), diags)
	}
	var names []string
	for _, id := range tree.Children(tree.Root) {
		names = append(names, tree.Node(id).Tok.Literal)
	}
	if got := strings.Join(names, " "); got != "F ok G" {
		t.Errorf("declarations = %q, want %q", got, "F ok G")
	}
	fBody := tree.Children(tree.Child(tree.Child(tree.Root, 0), 2))
	if len(fBody) != 1 {
		t.Errorf("F has %d statements, want the one after the error", len(fBody))
	}
}
