package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"connectrpc.com/connect"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/pkg/bytecode"
	"github.com/chazu/tern/pkg/diag"
	"github.com/chazu/tern/pkg/imagestore"
	"github.com/chazu/tern/vm"
)

// ServiceName is the fully qualified name of the compiler service.
const ServiceName = "tern.v1.CompilerService"

// Procedure paths of the compiler service.
const (
	CompileProcedure = "/" + ServiceName + "/Compile"
	InspectProcedure = "/" + ServiceName + "/Inspect"
	RunProcedure     = "/" + ServiceName + "/Run"
	ReleaseProcedure = "/" + ServiceName + "/Release"
)

// Diagnostic is one compiler or runtime message.
type Diagnostic struct {
	Severity string `json:"severity" cbor:"severity"`
	File     string `json:"file,omitempty" cbor:"file,omitempty"`
	Line     int    `json:"line,omitempty" cbor:"line,omitempty"`
	Column   int    `json:"column,omitempty" cbor:"column,omitempty"`
	Message  string `json:"message" cbor:"message"`
}

// Export describes an exported function or variable of an image.
type Export struct {
	Name    string   `json:"name" cbor:"name"`
	Params  int      `json:"params" cbor:"params"`
	Results int      `json:"results" cbor:"results"`
	Var     bool     `json:"var,omitempty" cbor:"var,omitempty"`
	Attrs   []string `json:"attrs,omitempty" cbor:"attrs,omitempty"`
}

// CompileRequest carries a program and its compiler options. Files holds
// the text of importable files keyed by import path.
type CompileRequest struct {
	File             string            `json:"file,omitempty" cbor:"file,omitempty"`
	Source           string            `json:"source" cbor:"source"`
	Files            map[string]string `json:"files,omitempty" cbor:"files,omitempty"`
	DebugInfo        bool              `json:"debugInfo,omitempty" cbor:"debugInfo,omitempty"`
	Peephole         *bool             `json:"peephole,omitempty" cbor:"peephole,omitempty"`
	WarningsAsErrors bool              `json:"warningsAsErrors,omitempty" cbor:"warningsAsErrors,omitempty"`
}

// CompileResponse reports the diagnostics and, on success, a handle to the
// image and its encoded bytes.
type CompileResponse struct {
	Ok          bool         `json:"ok" cbor:"ok"`
	Handle      string       `json:"handle,omitempty" cbor:"handle,omitempty"`
	Image       []byte       `json:"image,omitempty" cbor:"image,omitempty"`
	Cached      bool         `json:"cached,omitempty" cbor:"cached,omitempty"`
	Exports     []Export     `json:"exports,omitempty" cbor:"exports,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" cbor:"diagnostics,omitempty"`
}

// Inspect views.
const (
	ViewDisasm  = "disasm"
	ViewAST     = "ast"
	ViewSymbols = "symbols"
	ViewCode    = "code"
)

// InspectRequest asks for a printable view of a compiled image.
type InspectRequest struct {
	Handle string `json:"handle" cbor:"handle"`
	View   string `json:"view" cbor:"view"`
}

// InspectResponse holds the view text and the image exports.
type InspectResponse struct {
	Text    string   `json:"text" cbor:"text"`
	Exports []Export `json:"exports,omitempty" cbor:"exports,omitempty"`
}

// RunRequest runs the export carrying the Entry attribute. Zero Memory and
// MaxSteps select the server defaults.
type RunRequest struct {
	Handle    string  `json:"handle" cbor:"handle"`
	Entry     string  `json:"entry,omitempty" cbor:"entry,omitempty"`
	Params    []int32 `json:"params,omitempty" cbor:"params,omitempty"`
	Memory    int     `json:"memory,omitempty" cbor:"memory,omitempty"`
	StackBase int     `json:"stackBase,omitempty" cbor:"stackBase,omitempty"`
	MaxSteps  int     `json:"maxSteps,omitempty" cbor:"maxSteps,omitempty"`
}

// RunResponse holds the returned slots, console output and the final
// value of every exported variable.
type RunResponse struct {
	Ok          bool               `json:"ok" cbor:"ok"`
	Results     []int32            `json:"results,omitempty" cbor:"results,omitempty"`
	Steps       int                `json:"steps" cbor:"steps"`
	Output      string             `json:"output,omitempty" cbor:"output,omitempty"`
	Globals     map[string][]int32 `json:"globals,omitempty" cbor:"globals,omitempty"`
	Diagnostics []Diagnostic       `json:"diagnostics,omitempty" cbor:"diagnostics,omitempty"`
}

// ReleaseRequest drops a handle.
type ReleaseRequest struct {
	Handle string `json:"handle" cbor:"handle"`
}

// ReleaseResponse reports whether the handle existed.
type ReleaseResponse struct {
	Released bool `json:"released" cbor:"released"`
}

// CompilerService implements the compiler service handlers.
type CompilerService struct {
	workers *Workers
	handles *HandleStore
	store   *imagestore.Store
	cfg     *serverConfig
}

// NewCompilerService creates a CompilerService. store may be nil.
func NewCompilerService(workers *Workers, handles *HandleStore, store *imagestore.Store, cfg *serverConfig) *CompilerService {
	return &CompilerService{workers: workers, handles: handles, store: store, cfg: cfg}
}

// Compile compiles a program and registers the image under a new handle.
// User errors are reported in the response, not as an RPC error.
func (s *CompilerService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	msg := *req.Msg
	if msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	if msg.File == "" {
		msg.File = "main.tn"
	}

	result, err := s.workers.Do(ctx, func() (any, error) {
		return s.compileCached(msg)
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(result.(*CompileResponse)), nil
}

func (s *CompilerService) compileCached(msg CompileRequest) (*CompileResponse, error) {
	if s.store == nil {
		return s.compile(msg)
	}
	key := cacheKey(msg)
	data, err := s.store.Get(key)
	if err == nil {
		img, err := bytecode.Decode(data)
		if err == nil {
			return &CompileResponse{
				Ok:      true,
				Handle:  s.handles.Create(msg, data, img),
				Image:   data,
				Cached:  true,
				Exports: exports(img),
			}, nil
		}
		log.Warningf("dropping undecodable cached image %s: %v", key, err)
		s.store.Delete(key)
	} else if !errors.Is(err, imagestore.ErrNotFound) {
		log.Warningf("image cache: %v", err)
	}

	resp, err := s.compile(msg)
	if err != nil || !resp.Ok {
		return resp, err
	}
	if err := s.store.Put(key, msg.File, resp.Image); err != nil {
		log.Warningf("image cache: %v", err)
	}
	return resp, nil
}

func (s *CompilerService) compile(msg CompileRequest) (*CompileResponse, error) {
	res, err := compiler.Compile(msg.Source, compileOptions(msg)...)
	resp := &CompileResponse{Diagnostics: diagnostics(res.Diagnostics)}
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return resp, nil
		}
		return nil, err
	}
	resp.Ok = true
	resp.Image = res.Bytes
	resp.Exports = exports(res.Image)
	resp.Handle = s.handles.Create(msg, res.Bytes, res.Image)
	return resp, nil
}

// Inspect returns a printable view of a compiled image. The AST, symbol
// and code views recompile the program from the handle's request.
func (s *CompilerService) Inspect(
	ctx context.Context,
	req *connect.Request[InspectRequest],
) (*connect.Response[InspectResponse], error) {
	h, ok := s.handles.Lookup(req.Msg.Handle)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", req.Msg.Handle))
	}
	view := req.Msg.View
	if view == "" {
		view = ViewDisasm
	}

	result, err := s.workers.Do(ctx, func() (any, error) {
		resp := &InspectResponse{Exports: exports(h.image)}
		if view == ViewDisasm {
			resp.Text = bytecode.Disassemble(h.image)
			return resp, nil
		}
		res, err := compiler.Compile(h.request.Source, compileOptions(h.request)...)
		if err != nil {
			return nil, err
		}
		switch view {
		case ViewAST:
			resp.Text = res.DumpAST()
		case ViewSymbols:
			resp.Text = res.DumpSymbols()
		case ViewCode:
			resp.Text = res.DumpCode()
		default:
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown view %q", view))
		}
		return resp, nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(result.(*InspectResponse)), nil
}

// Run executes an entry point of a compiled image in fresh memory. Console
// imports are bound and their output returned. Runtime errors are
// reported in the response.
func (s *CompilerService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	h, ok := s.handles.Lookup(msg.Handle)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", msg.Handle))
	}
	entry := msg.Entry
	if entry == "" {
		entry = s.cfg.entry
	}
	memory := msg.Memory
	if memory == 0 {
		memory = s.cfg.memory
	}
	if memory < 0 || memory > s.cfg.maxMemory {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("memory must be between 1 and %d slots", s.cfg.maxMemory))
	}
	steps := stepLimit(msg.MaxSteps, s.cfg.maxSteps)
	exp, ok := h.image.Link.FindExport(entry)
	if !ok || exp.IsVar() {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("no exported function with attribute %q", entry))
	}

	result, err := s.workers.Do(ctx, func() (any, error) {
		var out bytes.Buffer
		opts := []vm.Option{
			vm.WithMaxSteps(steps),
			vm.WithImports(vm.Console(&out).Handle),
		}
		if msg.StackBase > 0 {
			opts = append(opts, vm.WithStackBase(msg.StackBase))
		}
		machine := vm.New(make([]int32, memory), opts...)
		returns := make([]int32, exp.Ret)
		ok := machine.RunImage(h.image, entry, msg.Params, returns)
		resp := &RunResponse{
			Ok:          ok,
			Steps:       machine.Steps(),
			Output:      out.String(),
			Diagnostics: diagnostics(machine.Diagnostics()),
		}
		if ok {
			resp.Results = returns
		}
		for _, e := range h.image.Link.Exports {
			if !e.IsVar() {
				continue
			}
			if vals, found := machine.Global(e.Name); found {
				if resp.Globals == nil {
					resp.Globals = make(map[string][]int32)
				}
				resp.Globals[e.Name] = vals
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(result.(*RunResponse)), nil
}

// Release drops a handle.
func (s *CompilerService) Release(
	ctx context.Context,
	req *connect.Request[ReleaseRequest],
) (*connect.Response[ReleaseResponse], error) {
	return connect.NewResponse(&ReleaseResponse{Released: s.handles.Release(req.Msg.Handle)}), nil
}

func compileOptions(msg CompileRequest) []compiler.Option {
	opts := []compiler.Option{
		compiler.WithFile(msg.File),
		compiler.WithDebugInfo(msg.DebugInfo),
		compiler.WithWarningsAsErrors(msg.WarningsAsErrors),
	}
	if msg.Peephole != nil {
		opts = append(opts, compiler.WithPeephole(*msg.Peephole))
	}
	if len(msg.Files) > 0 {
		opts = append(opts, compiler.WithResolver(compiler.MapResolver(msg.Files)))
	}
	return opts
}

// cacheKey covers every request field that changes the image.
func cacheKey(msg CompileRequest) string {
	peephole := msg.Peephole == nil || *msg.Peephole
	parts := []string{
		msg.File,
		strconv.FormatBool(msg.DebugInfo),
		strconv.FormatBool(peephole),
		strconv.FormatBool(msg.WarningsAsErrors),
	}
	names := make([]string, 0, len(msg.Files))
	for name := range msg.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name, msg.Files[name])
	}
	return imagestore.Key(msg.Source, parts...)
}

func diagnostics(sink *diag.Sink) []Diagnostic {
	if sink == nil {
		return nil
	}
	var out []Diagnostic
	for _, m := range sink.Messages() {
		out = append(out, Diagnostic{
			Severity: m.Severity.String(),
			File:     m.Pos.File,
			Line:     m.Pos.Line,
			Column:   m.Pos.Column,
			Message:  m.Text,
		})
	}
	return out
}

func exports(img *bytecode.Image) []Export {
	if img == nil || img.Link == nil {
		return nil
	}
	out := make([]Export, 0, len(img.Link.Exports))
	for _, e := range img.Link.Exports {
		x := Export{Name: e.Name, Params: int(e.Param), Results: int(e.Ret), Var: e.IsVar()}
		for _, a := range e.Attrs {
			if a.Name != e.Name && a.Name != bytecode.VarAttr {
				x.Attrs = append(x.Attrs, a.Name)
			}
		}
		out = append(out, x)
	}
	return out
}

// rpcError maps worker failures to connect codes.
func rpcError(err error) error {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// stepLimit picks the instruction budget of a run. A request may lower the
// server limit but not raise it; a zero limit means unlimited.
func stepLimit(requested, limit int) int {
	switch {
	case requested <= 0:
		return limit
	case limit > 0 && requested > limit:
		return limit
	}
	return requested
}
