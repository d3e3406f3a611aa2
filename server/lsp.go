package server

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/manifest"
	"github.com/chazu/tern/pkg/diag"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "tern-lsp"

// document is an open editor buffer and its latest compilation.
type document struct {
	path   string
	text   string
	result *compiler.Result
}

// LspServer provides diagnostics, hover, completion and go-to-definition
// for .tn documents.
type LspServer struct {
	resolver compiler.Resolver
	options  []compiler.Option

	mu   sync.Mutex
	docs map[protocol.DocumentUri]*document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// LSPOption configures an LspServer.
type LSPOption func(*LspServer)

// WithLSPResolver resolves imports of open documents. Open buffers take
// precedence over the files the resolver reads.
func WithLSPResolver(r compiler.Resolver) LSPOption {
	return func(s *LspServer) { s.resolver = r }
}

// WithLSPCompilerOptions adds options to every compilation.
func WithLSPCompilerOptions(opts ...compiler.Option) LSPOption {
	return func(s *LspServer) { s.options = append(s.options, opts...) }
}

// NewLSP creates a new language server.
func NewLSP(opts ...LSPOption) *LspServer {
	s := &LspServer{
		resolver: manifest.NewSourceResolver(nil, nil),
		docs:     make(map[protocol.DocumentUri]*document),
		version:  "0.1.0",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Tern LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.publish(ctx, params.TextDocument.URI, s.update(params.TextDocument.URI, params.TextDocument.Text))
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.publish(ctx, params.TextDocument.URI, s.update(params.TextDocument.URI, whole.Text))
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.mu.Lock()
	delete(s.docs, params.TextDocument.URI)
	s.mu.Unlock()

	s.publish(ctx, params.TextDocument.URI, []protocol.Diagnostic{})
	return nil
}

func (s *LspServer) publish(ctx *glsp.Context, uri protocol.DocumentUri, diagnostics []protocol.Diagnostic) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// update recompiles a document and returns its diagnostics.
func (s *LspServer) update(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	doc := &document{path: uriToPath(uri), text: text}
	opts := append([]compiler.Option{
		compiler.WithFile(doc.path),
		compiler.WithResolver(overlay{s}),
	}, s.options...)

	r := execute(func() (any, error) {
		return compiler.Compile(text, opts...)
	})
	if res, ok := r.value.(*compiler.Result); ok {
		doc.result = res
	}

	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()

	if r.err != nil && doc.result == nil {
		// Compiler bug: report it on the first line rather than dropping it.
		return []protocol.Diagnostic{newDiagnostic(diag.Message{Severity: diag.SeverityError, Text: r.err.Error()})}
	}
	return documentDiagnostics(doc)
}

func (s *LspServer) document(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[uri]
}

// openText returns the buffer text of an open document by file path.
func (s *LspServer) openText(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.path == path {
			return d.text, true
		}
	}
	return "", false
}

// overlay resolves imports through the server resolver, preferring the
// text of open buffers.
type overlay struct {
	s *LspServer
}

func (o overlay) Resolve(from, path string) (string, string, error) {
	name, src, err := o.s.resolver.Resolve(from, path)
	if err != nil {
		return "", "", err
	}
	if text, ok := o.s.openText(name); ok {
		return name, text, nil
	}
	return name, src, nil
}

// documentDiagnostics converts the messages located in the document itself.
// Messages from imported files are attached to the first line.
func documentDiagnostics(doc *document) []protocol.Diagnostic {
	out := []protocol.Diagnostic{}
	if doc.result == nil {
		return out
	}
	for _, m := range doc.result.Diagnostics.Messages() {
		if m.Pos.File != "" && m.Pos.File != doc.path {
			m.Text = fmt.Sprintf("%s: %s", m.Pos, m.Text)
			m.Pos = diag.Pos{}
		}
		out = append(out, newDiagnostic(m))
	}
	return out
}

func newDiagnostic(m diag.Message) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	if m.Severity == diag.SeverityWarning {
		severity = protocol.DiagnosticSeverityWarning
	}
	source := lspName
	start := protocol.Position{}
	if m.Pos.IsValid() {
		start = protocol.Position{Line: uint32(m.Pos.Line - 1), Character: uint32(max(m.Pos.Column-1, 0))}
	}
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: start},
		Severity: &severity,
		Source:   &source,
		Message:  m.Text,
	}
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	items := s.complete(params.TextDocument.URI, params.Position)
	if items == nil {
		return nil, nil
	}
	return items, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	return s.hover(params.TextDocument.URI, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	loc := s.definition(params.TextDocument.URI, params.Position)
	if loc == nil {
		return nil, nil
	}
	return []protocol.Location{*loc}, nil
}

// complete offers keywords and every declared name starting with the word
// before the cursor.
func (s *LspServer) complete(uri protocol.DocumentUri, pos protocol.Position) []protocol.CompletionItem {
	doc := s.document(uri)
	if doc == nil {
		return nil
	}
	prefix := extractPrefix(doc.text, pos)
	if prefix == "" {
		return nil
	}

	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}
	if res := doc.result; res != nil && res.Symbols != nil {
		for i := 0; i < res.Symbols.NumSymbols(); i++ {
			sym := res.Symbols.Symbol(compiler.SymbolID(i))
			add(sym.Name, completionKind(sym.Kind), symbolDetail(sym))
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func completionKind(k compiler.SymbolKind) protocol.CompletionItemKind {
	switch k {
	case compiler.SymFunction:
		return protocol.CompletionItemKindFunction
	case compiler.SymType:
		return protocol.CompletionItemKindStruct
	case compiler.SymEnum:
		return protocol.CompletionItemKindEnum
	case compiler.SymEnumValue:
		return protocol.CompletionItemKindEnumMember
	case compiler.SymModule:
		return protocol.CompletionItemKindModule
	default:
		return protocol.CompletionItemKindVariable
	}
}

func symbolDetail(sym *compiler.Symbol) string {
	detail := sym.Kind.String()
	if sym.Type != nil && sym.Kind != compiler.SymModule {
		detail += " " + sym.Type.String()
	}
	return detail
}

// symbolAt returns the symbol referenced or declared by the identifier
// under the cursor.
func (s *LspServer) symbolAt(doc *document, pos protocol.Position) (*compiler.Symbol, bool) {
	res := doc.result
	if res == nil || res.Tree == nil || res.Symbols == nil {
		return nil, false
	}
	line, col := int(pos.Line)+1, int(pos.Character)+1
	for i := 0; i < res.Tree.Len(); i++ {
		n := res.Tree.Node(compiler.NodeID(i))
		if n.Symbol == compiler.NoSymbol || n.Tok.Type != compiler.TokenIdentifier {
			continue
		}
		p := n.Tok.Pos
		if p.File != doc.path || p.Line != line {
			continue
		}
		if col >= p.Column && col < p.Column+len(n.Tok.Literal) {
			return res.Symbols.Symbol(n.Symbol), true
		}
	}
	return nil, false
}

func (s *LspServer) hover(uri protocol.DocumentUri, pos protocol.Position) *protocol.Hover {
	doc := s.document(uri)
	if doc == nil {
		return nil
	}
	sym, ok := s.symbolAt(doc, pos)
	if !ok {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** `%s`", sym.Kind, sym.Qualified)
	if sym.Type != nil && sym.Kind != compiler.SymModule {
		fmt.Fprintf(&b, "\n\ntype `%s`", sym.Type)
	}
	if sym.Value != nil {
		fmt.Fprintf(&b, "\n\nvalue `%s`", sym.Value)
	}
	if sym.Kind == compiler.SymFunction {
		fmt.Fprintf(&b, "\n\n%d parameter slots, %d frame slots", sym.Params, sym.Frame)
	}
	for _, a := range sym.Bound {
		fmt.Fprintf(&b, "\n\n@%s", a.Name)
		if len(a.Params) > 0 {
			fmt.Fprintf(&b, "(%s)", strings.Join(a.Params, ", "))
		}
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func (s *LspServer) definition(uri protocol.DocumentUri, pos protocol.Position) *protocol.Location {
	doc := s.document(uri)
	if doc == nil {
		return nil
	}
	sym, ok := s.symbolAt(doc, pos)
	if !ok || sym.Node == compiler.NoNode {
		return nil
	}
	tok := doc.result.Tree.Node(sym.Node).Tok
	if tok.Pos.Line == 0 {
		return nil
	}
	target := uri
	if tok.Pos.File != doc.path {
		target = pathToURI(tok.Pos.File)
	}
	start := protocol.Position{Line: uint32(tok.Pos.Line - 1), Character: uint32(tok.Pos.Column - 1)}
	end := start
	end.Character += uint32(len(tok.Literal))
	return &protocol.Location{URI: target, Range: protocol.Range{Start: start, End: end}}
}

// --- Text helpers ---

func uriToPath(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	return filepath.FromSlash(u.Path)
}

func pathToURI(path string) protocol.DocumentUri {
	if !filepath.IsAbs(path) {
		return protocol.DocumentUri(path)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return protocol.DocumentUri(u.String())
}

// extractPrefix returns the identifier fragment before the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	return line[start:col]
}

func isIdentByte(c byte) bool {
	r := rune(c)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
