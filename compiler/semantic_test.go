package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/pkg/diag"
	"github.com/chazu/tern/vm"
)

func compileOK(t *testing.T, src string, opts ...Option) *Result {
	t.Helper()
	res, err := Compile(src, append([]Option{WithFile("test.tn")}, opts...)...)
	if err != nil {
		t.Fatalf("compile failed: %v\n%s", err, res.Diagnostics)
	}
	return res
}

func messagesContaining(d *diag.Sink, sev diag.Severity, text string) int {
	n := 0
	for _, m := range d.Messages() {
		if m.Severity == sev && strings.Contains(m.Text, text) {
			n++
		}
	}
	return n
}

func TestTypeInterning(t *testing.T) {
	m := NewTypeManager()
	before := m.Len()

	pairs := []struct {
		name string
		a, b *Type
	}{
		{"array", m.Array(m.I32, []int{3, 4}), m.Array(m.I32, []int{3, 4})},
		{"nested array", m.Array(m.Array(m.F32, []int{4}), []int{3}), m.Array(m.F32, []int{3, 4})},
		{"record", m.Record("Geo.Point"), m.Record("Geo.Point")},
		{"enum", m.Enum("Color"), m.Enum("Color")},
		{"tuple", m.Tuple([]*Type{m.I32, m.Bool}), m.Tuple([]*Type{m.I32, m.Bool})},
		{"func", m.Func([]*Type{m.Byte}, []*Type{m.F32}), m.Func([]*Type{m.Byte}, []*Type{m.F32})},
		{"void", m.Tuple(nil), m.Void},
		{"primitive", func() *Type { t, _ := m.Primitive(TokenI32); return t }(), m.I32},
	}
	for _, p := range pairs {
		if p.a != p.b {
			t.Errorf("%s: %s and %s are different instances", p.name, p.a, p.b)
		}
	}

	distinct := []struct {
		name string
		a, b *Type
	}{
		{"dims", m.Array(m.I32, []int{3}), m.Array(m.I32, []int{4})},
		{"elem", m.Array(m.I32, []int{3}), m.Array(m.F32, []int{3})},
		{"record vs enum", m.Record("Color"), m.Enum("Color")},
		{"results", m.Func(nil, []*Type{m.I32}), m.Func(nil, []*Type{m.F32})},
		{"params vs results", m.Func([]*Type{m.I32}, nil), m.Func(nil, []*Type{m.I32})},
	}
	for _, d := range distinct {
		if d.a == d.b {
			t.Errorf("%s: %s interned as the same instance as %s", d.name, d.a, d.b)
		}
	}
	if m.Len() <= before {
		t.Errorf("Len() = %d, want more than the %d built-in types", m.Len(), before)
	}
}

func TestTypeSlots(t *testing.T) {
	res := compileOK(t, `type Point
    f32 x
    f32 y
    i32 tags[4]
type Shape
    Point corner
    i32 kind
`)
	types := res.Symbols.Types
	point := types.Record("Point")
	if !point.Complete() {
		t.Fatal("Point is incomplete")
	}
	if got := point.Slots(); got != 8 {
		t.Errorf("Point slots = %d, want 8", got)
	}
	tags, _ := point.Field("tags")
	if tags.Offset != 2 {
		t.Errorf("tags offset = %d, want 2", tags.Offset)
	}
	shape := types.Record("Shape")
	kind, _ := shape.Field("kind")
	if kind.Offset != 8 || shape.Slots() != 9 {
		t.Errorf("Shape.kind offset %d, slots %d; want 8 and 9", kind.Offset, shape.Slots())
	}
	grid := types.Array(types.I32, []int{3, 4})
	if grid.Slots() != 4+12 {
		t.Errorf("i32[3][4] slots = %d, want 16", grid.Slots())
	}
	if s := grid.Strides(); s[0] != 4 || s[1] != 1 {
		t.Errorf("strides = %v, want [4 1]", s)
	}
}

func TestDuplicateDetection(t *testing.T) {
	sources := []string{
		"i32 x\ni32 x\n",
		"F(i32 a, i32 a)\n    return\n",
		"F()\n    i32 a = 1\n    i32 a = 2\n",
		"F()\n    return\nG()\n    return\nF()\n    return\n",
		"type P\n    i32 x\n    f32 x\n",
		"enum E\n    A\n    A\n",
		"module M\n    i32 v\nmodule N\n    i32 v\n    i32 v\n",
	}
	for _, src := range sources {
		res, _ := Compile(src)
		if n := messagesContaining(res.Diagnostics, diag.SeverityError, "already declared"); n != 1 {
			t.Errorf("Compile(%q): %d duplicate errors, want 1:\n%s", src, n, res.Diagnostics)
		}
		if res.Diagnostics.ErrorCount() != 1 {
			t.Errorf("Compile(%q): %d errors, want 1:\n%s", src, res.Diagnostics.ErrorCount(), res.Diagnostics)
		}
	}
}

func TestShadowingIsNotAnError(t *testing.T) {
	src := `i32 x = 1
export (i32) F()
    i32 x = 2
    if x > 0
        i32 x = 3
        return x
    return x
`
	res := compileOK(t, src)
	if n := messagesContaining(res.Diagnostics, diag.SeverityWarning, "shadows"); n != 2 {
		t.Errorf("got %d shadowing warnings, want 2:\n%s", n, res.Diagnostics)
	}
}

func TestSemanticErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"undefined", "export F()\n    x = 1\n", "undefined: x"},
		{"return type", "export (i32) F()\n    return true\n", "cannot return bool as i32"},
		{"missing return", "export (i32) F()\n    i32 x = 1\n", "missing return"},
		{"return count", "export (i32) F()\n    return 1, 2\n", "wrong number of return values"},
		{"condition", "export F()\n    if 1\n        return\n", "condition must be bool"},
		{"while condition", "export F(i32 a)\n    while a\n        a -= 1\n", "condition must be bool"},
		{"constant target", "const i32 N = 3\nexport F()\n    N = 4\n", "cannot assign to constant"},
		{"loop variable", "export F()\n    for i in 0, 3\n        i = 2\n", "cannot assign to loop variable"},
		{"float range", "export F()\n    for i in 0, 2.5\n        return\n", "for range values must be integers"},
		{"mixed operands", "export (i32) F(i32 a, f32 b)\n    return a + b\n", "mismatched types i32 and f32"},
		{"void value", "export (i32) F()\n    return G()\nG()\n    return\n", "does not return a value"},
		{"tuple value", "(i32, i32) P()\n    return 1, 2\nexport (i32) F()\n    return P()\n", "multiple-value"},
		{"argument count", "export F()\n    G(1)\nG(i32 a, i32 b)\n    return\n", "wrong number of arguments"},
		{"argument type", "export F()\n    G(true)\nG(i32 a)\n    return\n", "cannot use bool as i32 in argument 1"},
		{"constant index", "i32 a[3]\nexport (i32) F()\n    return a[3]\n", "index 3 out of range [0, 3)"},
		{"partial index", "i32 a[2][2]\nexport (i32) F()\n    return a[1]\n", "must be fully indexed"},
		{"partial index argument", "i32 a[2][2]\nG(i32 v)\n    return\nexport F()\n    G(a[1])\n", "must be fully indexed"},
		{"cycle", "const i32 A = B\nconst i32 B = A\nexport (i32) F()\n    return A\n", "refers to itself"},
		{"string literal", "export F()\n    i32 x = \"s\"\n", "string literals are only allowed"},
		{"string variable", "string name\n", "cannot have type string"},
		{"import body", "import (i32) Ext(i32 v)\n    return v\n", "cannot have a body"},
		{"no body", "export (i32) F()\n", "has no body"},
		{"import and export", "import export G()\n", "cannot be both imported and exported"},
		{"stray attribute", "export F()\n    return\n@entry\n", "must precede a function or variable"},
		{"reserved attribute", "@var\nexport F()\n    return\n", "reserved"},
		{"use before declaration", "export F()\n    x += 1\n    i32 x = 0\n", "used before its declaration"},
		{"logical not", "export (bool) F(i32 a)\n    return !a\n", "operator ! not defined for i32"},
		{"no member", "type P\n    f32 x\nexport (f32) F()\n    P p\n    return p.y\n", `has no member "y"`},
		{"enum member", "enum Color\n    Red\nexport (Color) F()\n    return Color.Blue\n", `has no member "Blue"`},
		{"function value", "export (i32) F()\n    return F\n", "used as a value"},
		{"record result", "type P\n    i32 x\nexport (P) F()\n    return\n", "function results must be primitive"},
		{"undefined type", "Missing m\n", "undefined type"},
		{"type as value", "type P\n    i32 x\nexport (i32) F()\n    return P\n", "not a value"},
		{"const needs value", "const i32 N\n", "needs a value"},
		{"const not constant", "i32 v = 1\nconst i32 N = v\n", "not a constant expression"},
		{"array dimension", "i32 a[0]\n", "array dimension must be a positive integer constant"},
		{"array from scalar", "i32 a[2]\ni32 b[3]\nexport F()\n    a = b\n", "same type"},
		{"compound argument", "type P\n    i32 x\nG(P p)\n    return\nexport F()\n    G(H())\n(i32) H()\n    return 1\n", "cannot use i32 as P"},
		{"integer range", "i32 x = 0x1_0000_0000\n", "integer literal"},
		{"spread record with array", "type R\n    i32 v[2]\nexport (i32) F()\n    R r\n    r = 1, 2\n    return r.v[1]\n", "cannot be spread"},
		{"gather record with array", "type R\n    i32 v[2]\nexport (i32) F()\n    R r\n    i32 x\n    i32 y\n    x, y = r\n    return x\n", "cannot be spread"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Compile(tc.src)
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *CompileError", err)
			}
			if res.Image != nil || res.Bytes != nil {
				t.Error("failed compile produced an image")
			}
			if messagesContaining(res.Diagnostics, diag.SeverityError, tc.msg) == 0 {
				t.Errorf("errors:\n%swant one containing %q", res.Diagnostics, tc.msg)
			}
		})
	}
}

func TestEnumValues(t *testing.T) {
	res := compileOK(t, "enum Color\n    Red\n    Green = 5\n    Blue\n")
	want := map[string]int32{"Color.Red": 0, "Color.Green": 5, "Color.Blue": 6}
	for name, v := range want {
		id, ok := res.Symbols.LookupQualified(res.Symbols.Root(), name)
		if !ok {
			t.Errorf("%s not found", name)
			continue
		}
		s := res.Symbols.Symbol(id)
		if s.Value == nil || s.Value.Bits != v {
			t.Errorf("%s = %v, want %d", name, s.Value, v)
		}
	}
}

func TestConstantFolding(t *testing.T) {
	res := compileOK(t, "export (i32) F()\n    return 2 + 3 * 4\n")
	var pushed []int32
	for _, in := range res.Code {
		switch in.Op {
		case bytecode.OpAdd, bytecode.OpMul:
			t.Errorf("found %s in folded code:\n%s", in.Op, res.DumpCode())
		case bytecode.OpPush:
			pushed = append(pushed, in.Args[0])
		}
	}
	if len(pushed) != 1 || pushed[0] != 14 {
		t.Errorf("pushed %v, want [14]", pushed)
	}

	res = compileOK(t, "const i32 N = (1 << 4) - 2\nconst f32 H = 1.5 * 2\nconst bool B = N > 10 && !false\n")
	consts := map[string]string{"N": "14", "H": "3", "B": "true"}
	for name, want := range consts {
		id, _ := res.Symbols.LookupQualified(res.Symbols.Root(), name)
		s := res.Symbols.Symbol(id)
		if s.Value == nil || s.Value.String() != want {
			t.Errorf("%s = %v, want %s", name, s.Value, want)
		}
	}
}

func TestDivisionByZeroIsNotFolded(t *testing.T) {
	for _, src := range []string{
		"export (i32) F()\n    return 10 / 0\n",
		"export (i32) F()\n    return 10 % (2 - 2)\n",
		"export (f32) F()\n    return 1.0 / 0.0\n",
	} {
		res := compileOK(t, src)
		if n := messagesContaining(res.Diagnostics, diag.SeverityWarning, "division by zero"); n != 1 {
			t.Errorf("Compile(%q): %d division warnings, want 1", src, n)
		}
		found := false
		for _, in := range res.Code {
			if in.Op == bytecode.OpDiv || in.Op == bytecode.OpMod {
				found = true
			}
		}
		if !found {
			t.Errorf("Compile(%q): division was folded away:\n%s", src, res.DumpCode())
		}
	}
}

func TestWarningsAsErrors(t *testing.T) {
	src := "export (i32) F()\n    return 10 / 0\n"
	if _, err := Compile(src); err != nil {
		t.Fatalf("plain compile failed: %v", err)
	}
	res, err := Compile(src, WithWarningsAsErrors(true))
	if err == nil {
		t.Fatal("compile succeeded, want the warning promoted to an error")
	}
	if res.Diagnostics.WarningCount() != 0 {
		t.Errorf("%d warnings left", res.Diagnostics.WarningCount())
	}
}

func TestUsageWarnings(t *testing.T) {
	src := `import Log(i32 v)
i32 counter
F()
    return
export G()
    i32 unused = 1
    i32 used = 2
    used += 1
`
	res := compileOK(t, src)
	for _, want := range []string{
		`imported function "Log" is never called`,
		`function "F" is never called`,
		`local variable "unused" is never used`,
		`global variable "counter" is never used`,
	} {
		if messagesContaining(res.Diagnostics, diag.SeverityWarning, want) != 1 {
			t.Errorf("missing warning %q in:\n%s", want, res.Diagnostics)
		}
	}
	if messagesContaining(res.Diagnostics, diag.SeverityWarning, `"used"`) != 0 {
		t.Errorf("unexpected warning about used:\n%s", res.Diagnostics)
	}
}

func TestAttributes(t *testing.T) {
	src := `@entry("fast")
@doc("adds")
export (i32) Add(i32 a, i32 b)
    return a + b
`
	res := compileOK(t, src)
	exp, ok := res.Image.Link.FindExport("entry")
	if !ok {
		t.Fatal("no export with the entry attribute")
	}
	if exp.Name != "Add" || exp.Param != 2 || exp.Ret != 1 {
		t.Errorf("export = %+v, want Add with 2 params and 1 result", exp)
	}
	if !exp.HasAttr("Add") || !exp.HasAttr("doc") {
		t.Errorf("attributes = %+v, want Add, entry and doc", exp.Attrs)
	}
	if a, _ := exp.Attr("entry"); len(a.Params) != 1 || a.Params[0] != "fast" {
		t.Errorf("entry params = %v, want [fast]", a.Params)
	}
}

func TestModulesAndQualifiedNames(t *testing.T) {
	src := `module Geo
    const i32 Sides = 4
    type Point
        i32 x
    (i32) Twice(i32 v)
        return v * Sides
export (i32) F()
    Geo.Point p
    p.x = Geo.Twice(2)
    return p.x
`
	res := compileOK(t, src)
	if _, ok := res.Symbols.FindScope("Geo"); !ok {
		t.Error("no Geo scope")
	}
	id, ok := res.Symbols.LookupQualified(res.Symbols.Root(), "Geo.Twice")
	if !ok {
		t.Fatal("Geo.Twice not found")
	}
	if q := res.Symbols.Symbol(id).Qualified; q != "Geo.Twice" {
		t.Errorf("qualified = %q, want Geo.Twice", q)
	}
	if !strings.Contains(res.DumpSymbols(), "Geo.Twice") {
		t.Errorf("symbol dump does not mention Geo.Twice:\n%s", res.DumpSymbols())
	}
}

func TestImportsThroughResolver(t *testing.T) {
	files := MapResolver{
		"lib.tn":  "import \"util.tn\"\n(i32) Helper()\n    return Base() + 1\n",
		"util.tn": "(i32) Base()\n    return 4\n",
	}
	src := "import \"lib.tn\"\nimport \"util.tn\"\nexport (i32) F()\n    return Helper() * 2\n"
	res := compileOK(t, src, WithResolver(files))
	if !strings.Contains(res.DumpAST(), "Helper") {
		t.Errorf("imported declarations missing from the tree:\n%s", res.DumpAST())
	}

	res, err := Compile("import \"missing.tn\"\n", WithResolver(files))
	if err == nil || messagesContaining(res.Diagnostics, diag.SeverityError, "cannot import") != 1 {
		t.Errorf("missing import: err = %v\n%s", err, res.Diagnostics)
	}
	res, err = Compile("import \"lib.tn\"\n")
	if err == nil || messagesContaining(res.Diagnostics, diag.SeverityError, ErrNoResolver.Error()) != 1 {
		t.Errorf("no resolver: err = %v\n%s", err, res.Diagnostics)
	}
}

func TestCompileSource(t *testing.T) {
	image, text := CompileSource("export (i32) F()\n    return 1\n")
	if image == nil {
		t.Fatalf("no image; diagnostics:\n%s", text)
	}
	if _, err := bytecode.Decode(image); err != nil {
		t.Errorf("Decode: %v", err)
	}

	image, text = CompileSource("export (i32) F()\n    return x\n")
	if image != nil {
		t.Error("failed compile returned an image")
	}
	if !strings.Contains(text, "ERROR") || !strings.Contains(text, "undefined: x") {
		t.Errorf("diagnostics = %q", text)
	}
}

func TestRightAssociativeOperators(t *testing.T) {
	res := compileOK(t, "export (i32) F()\n    return 10 - 4 - 3\n")
	var pushed []int32
	for _, in := range res.Code {
		if in.Op == bytecode.OpPush {
			pushed = append(pushed, in.Args[0])
		}
	}
	if len(pushed) != 1 || pushed[0] != 9 {
		t.Errorf("folded 10 - 4 - 3 to %v, want [9]", pushed)
	}

	src := "export (i32) Sub(i32 a, i32 b, i32 c)\n    return a - b - c\n"
	machine := vm.New(make([]int32, 256))
	out := make([]int32, 1)
	if !machine.Run(compileOK(t, src).Bytes, "Sub", []int32{10, 4, 3}, out) {
		t.Fatalf("run failed:\n%s", machine.Diagnostics())
	}
	if out[0] != 9 {
		t.Errorf("Sub(10, 4, 3) = %d, want 9", out[0])
	}
}
