package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const lspProgram = `const i32 N = 4
enum Color
    Red
    Green
export (i32) Area(i32 w, i32 h)
    return w * h
@main
export (i32) Main()
    return Area(N, 3)
`

func openDoc(t *testing.T, s *LspServer, name, text string) (protocol.DocumentUri, []protocol.Diagnostic) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	uri := pathToURI(path)
	return uri, s.update(uri, text)
}

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		line uint32
		char uint32
		want string
	}{
		{"return Are", 0, 10, "Are"},
		{"Obj", 0, 3, "Obj"},
		{"", 0, 0, ""},
		{"first\nsecond\nrec.fie", 2, 7, "fie"},
		{"x = my_var", 0, 10, "my_var"},
		{"hello", 0, 0, ""},
		{"hello", 0, 99, "hello"},
		{"single line", 5, 0, ""},
	}
	for _, tc := range tests {
		got := extractPrefix(tc.text, protocol.Position{Line: tc.line, Character: tc.char})
		if got != tc.want {
			t.Errorf("extractPrefix(%q, %d:%d) = %q, want %q", tc.text, tc.line, tc.char, got, tc.want)
		}
	}
}

func TestURIPaths(t *testing.T) {
	path := filepath.Join(string(filepath.Separator), "work", "app", "main.tn")
	uri := pathToURI(path)
	if !strings.HasPrefix(string(uri), "file://") {
		t.Errorf("uri = %q", uri)
	}
	if got := uriToPath(uri); got != path {
		t.Errorf("round trip = %q, want %q", got, path)
	}
	if got := uriToPath("untitled:Untitled-1"); got != "untitled:Untitled-1" {
		t.Errorf("non-file uri = %q", got)
	}
}

func TestLSPDiagnostics(t *testing.T) {
	s := NewLSP()
	_, diags := openDoc(t, s, "ok.tn", lspProgram)
	if len(diags) != 0 {
		t.Errorf("clean program: %+v", diags)
	}

	_, diags = openDoc(t, s, "bad.tn", "export (i32) F()\n    i32 unused = 1\n    return y\n")
	var errs, warns int
	for _, d := range diags {
		switch *d.Severity {
		case protocol.DiagnosticSeverityError:
			errs++
			if d.Range.Start.Line != 2 || !strings.Contains(d.Message, "undefined: y") {
				t.Errorf("error = %+v", d)
			}
		case protocol.DiagnosticSeverityWarning:
			warns++
		}
	}
	if errs != 1 {
		t.Errorf("%d errors, want 1: %+v", errs, diags)
	}
	if diags == nil {
		t.Error("diagnostics must be an empty list, not nil")
	}
}

func TestLSPCompletion(t *testing.T) {
	s := NewLSP()
	text := lspProgram + "(i32) Other()\n    return Ar\n"
	uri, _ := openDoc(t, s, "main.tn", text)
	lines := strings.Split(text, "\n")
	last := uint32(len(lines) - 2)

	items := s.complete(uri, protocol.Position{Line: last, Character: uint32(len(lines[last]))})
	var labels []string
	for _, it := range items {
		labels = append(labels, it.Label)
	}
	if len(labels) != 1 || labels[0] != "Area" {
		t.Errorf("completions for Ar = %v, want [Area]", labels)
	}
	if items[0].Kind == nil || *items[0].Kind != protocol.CompletionItemKindFunction {
		t.Errorf("Area kind = %v", items[0].Kind)
	}

	// Keywords are offered too.
	uri, _ = openDoc(t, s, "kw.tn", "wh")
	items = s.complete(uri, protocol.Position{Line: 0, Character: 2})
	if len(items) != 1 || items[0].Label != "while" {
		t.Errorf("completions for wh = %+v", items)
	}

	if got := s.complete("file:///not/open.tn", protocol.Position{}); got != nil {
		t.Errorf("closed document completions = %v", got)
	}
}

func TestLSPHoverAndDefinition(t *testing.T) {
	s := NewLSP()
	uri, _ := openDoc(t, s, "main.tn", lspProgram)

	// "    return Area(N, 3)" is line 8; Area starts at character 11.
	h := s.hover(uri, protocol.Position{Line: 8, Character: 12})
	if h == nil {
		t.Fatal("no hover for Area")
	}
	text := h.Contents.(protocol.MarkupContent).Value
	if !strings.Contains(text, "function") || !strings.Contains(text, "Area") {
		t.Errorf("hover = %q", text)
	}

	h = s.hover(uri, protocol.Position{Line: 8, Character: 16})
	if h == nil || !strings.Contains(h.Contents.(protocol.MarkupContent).Value, "value `4`") {
		t.Errorf("hover for N = %+v", h)
	}

	if h := s.hover(uri, protocol.Position{Line: 8, Character: 5}); h != nil {
		t.Errorf("hover on a keyword = %+v", h)
	}

	loc := s.definition(uri, protocol.Position{Line: 8, Character: 12})
	if loc == nil {
		t.Fatal("no definition for Area")
	}
	if loc.URI != uri || loc.Range.Start.Line != 4 || loc.Range.Start.Character != 13 || loc.Range.End.Character != 17 {
		t.Errorf("definition = %+v", loc)
	}
}

func TestLSPImports(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.tn")
	if err := os.WriteFile(lib, []byte("(i32) Seven()\n    return 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewLSP()
	mainURI := pathToURI(filepath.Join(dir, "main.tn"))
	diags := s.update(mainURI, "import \"lib.tn\"\nexport (i32) F()\n    return Seven()\n")
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %+v", diags)
	}

	loc := s.definition(mainURI, protocol.Position{Line: 2, Character: 12})
	if loc == nil || uriToPath(loc.URI) != lib || loc.Range.Start.Line != 0 {
		t.Errorf("definition = %+v, want %s:1", loc, lib)
	}

	// An open buffer shadows the file on disk.
	s.update(pathToURI(lib), "(i32) Eight()\n    return 8\n")
	diags = s.update(mainURI, "import \"lib.tn\"\nexport (i32) F()\n    return Seven()\n")
	if len(diags) == 0 || !strings.Contains(diags[0].Message, "undefined: Seven") {
		t.Errorf("diagnostics with open lib buffer = %+v", diags)
	}
}
