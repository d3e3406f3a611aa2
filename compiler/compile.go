package compiler

import (
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/pkg/diag"
)

var log = commonlog.GetLogger("tern.compiler")

// ErrNoResolver is reported when a program imports a file and no Resolver
// was configured.
var ErrNoResolver = errors.New("no import resolver configured")

// Resolver supplies the text of imported source files.
type Resolver interface {
	// Resolve maps an import path written in file from to a canonical
	// file name and its contents. Files with the same canonical name are
	// loaded once.
	Resolve(from, path string) (name, src string, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(from, path string) (string, string, error)

func (f ResolverFunc) Resolve(from, path string) (string, string, error) { return f(from, path) }

// MapResolver resolves imports from memory, keyed by path.
type MapResolver map[string]string

func (m MapResolver) Resolve(from, path string) (string, string, error) {
	src, ok := m[path]
	if !ok {
		return "", "", fmt.Errorf("file %q not found", path)
	}
	return path, src, nil
}

type options struct {
	file     string
	resolver Resolver
	peephole bool
	debug    bool
	werror   bool
}

// Option configures Compile.
type Option func(*options)

// WithFile names the main source file in diagnostics.
func WithFile(name string) Option { return func(o *options) { o.file = name } }

// WithResolver sets the import resolver.
func WithResolver(r Resolver) Option { return func(o *options) { o.resolver = r } }

// WithPeephole enables or disables the peephole pass. It is on by default.
func WithPeephole(on bool) Option { return func(o *options) { o.peephole = on } }

// WithDebugInfo adds a debug chunk with line table and symbols.
func WithDebugInfo(on bool) Option { return func(o *options) { o.debug = on } }

// WithWarningsAsErrors turns every warning into an error.
func WithWarningsAsErrors(on bool) Option { return func(o *options) { o.werror = on } }

// Result holds everything a compilation produced. Image and Bytes are nil
// unless compilation succeeded.
type Result struct {
	Tree        *Tree
	Symbols     *Symbols
	Code        []bytecode.Instruction
	Program     *bytecode.Program
	Image       *bytecode.Image
	Bytes       []byte
	Diagnostics *diag.Sink
}

// DumpAST returns the printable tree.
func (r *Result) DumpAST() string {
	if r.Tree == nil {
		return ""
	}
	return DumpAST(r.Tree)
}

// DumpSymbols returns the printable symbol table.
func (r *Result) DumpSymbols() string {
	if r.Symbols == nil {
		return ""
	}
	return DumpSymbols(r.Symbols)
}

// DumpCode returns the printable instruction list.
func (r *Result) DumpCode() string {
	return bytecode.FormatCode(r.Code)
}

// CompileError is returned when the program has errors.
type CompileError struct {
	Diagnostics *diag.Sink
}

func (e *CompileError) Error() string {
	errs := e.Diagnostics.Errors()
	if len(errs) == 1 {
		return errs[0].String()
	}
	return fmt.Sprintf("%s (and %d more errors)", errs[0], len(errs)-1)
}

// Compile runs the whole pipeline over source. User errors are returned
// as a *CompileError alongside the partial Result; compiler bugs panic with
// *InternalError or *bytecode.InternalError.
func Compile(source string, opts ...Option) (*Result, error) {
	o := options{file: "main.tn", peephole: true}
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()
	diags := diag.NewSink()
	res := &Result{Diagnostics: diags}

	tree := NewTree()
	tree.Root = ParseInto(tree, o.file, source, diags)
	expandImports(tree, tree.Root, o.file, o.resolver, map[string]bool{o.file: true}, diags)
	tree.LinkParents()
	res.Tree = tree
	log.Debugf("parsed %s: %d nodes", o.file, tree.Len())

	syms := NewSymbols(NewTypeManager())
	Build(tree, syms, diags)
	Analyze(tree, syms, diags)
	MarkUsage(tree, syms, diags)
	res.Symbols = syms
	if o.werror {
		diags.PromoteWarnings()
	}
	if diags.HasErrors() {
		log.Debugf("%s: %d errors, %d warnings", o.file, diags.ErrorCount(), diags.WarningCount())
		return res, &CompileError{Diagnostics: diags}
	}

	prog := Generate(tree, syms)
	if o.peephole {
		prog.Code = Peephole(prog.Code)
	}
	if o.debug {
		prog.Debug = &bytecode.DebugInfo{Symbols: DebugSymbols(syms)}
	}
	res.Code = prog.Code
	res.Program = prog

	img := bytecode.Assemble(prog)
	data, err := img.Encode()
	if err != nil {
		return res, fmt.Errorf("encoding image: %w", err)
	}
	res.Image = img
	res.Bytes = data
	log.Debugf("compiled %s: %d instructions, %d code bytes, %d globals in %s",
		o.file, len(prog.Code), len(img.Code), prog.Globals, time.Since(start))
	return res, nil
}

// CompileSource compiles source text and returns the encoded image, or nil
// on failure, with the diagnostics text.
func CompileSource(source string) ([]byte, string) {
	res, err := Compile(source)
	if err != nil {
		var ce *CompileError
		if !errors.As(err, &ce) {
			return nil, err.Error()
		}
	}
	return res.Bytes, res.Diagnostics.String()
}

// expandImports parses every file imported below a declaration list and
// splices its declarations under the Import node. A file already loaded
// contributes nothing the second time.
func expandImports(tree *Tree, list NodeID, file string, r Resolver, loaded map[string]bool, diags *diag.Sink) {
	for _, id := range tree.Children(list) {
		switch tree.Kind(id) {
		case KindModule:
			expandImports(tree, id, file, r, loaded, diags)
		case KindImport:
			pos := tree.Node(id).Pos().Diag()
			path := tree.Node(id).Tok.Literal
			if r == nil {
				diags.Errorf(pos, "cannot import %q: %v", path, ErrNoResolver)
				continue
			}
			name, src, err := r.Resolve(file, path)
			if err != nil {
				diags.Errorf(pos, "cannot import %q: %v", path, err)
				continue
			}
			if loaded[name] {
				continue
			}
			loaded[name] = true
			prog := ParseInto(tree, name, src, diags)
			expandImports(tree, prog, name, r, loaded, diags)
			for _, c := range tree.Children(prog) {
				tree.AddChild(id, c)
			}
		}
	}
}
