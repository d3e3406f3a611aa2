// Package server exposes the Tern compiler and VM over Connect RPC and as
// a stdio language server.
package server

import (
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/tern/pkg/imagestore"
)

var log = commonlog.GetLogger("tern.server")

// Defaults for run requests that leave a field zero.
const (
	DefaultMemory    = 64 * 1024
	DefaultMaxMemory = 16 * 1024 * 1024
	DefaultMaxSteps  = 50_000_000
)

// Server hosts the compiler service. It serves the Connect, gRPC and
// gRPC-Web protocols on the same handler.
type Server struct {
	workers *Workers
	handles *HandleStore
	service *CompilerService
	mux     *http.ServeMux

	stopSweeper func()
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	store     *imagestore.Store
	workers   int
	entry     string
	memory    int
	maxMemory int
	maxSteps  int
	sweep     time.Duration
	ttl       time.Duration
}

// WithImageStore caches compiled images in store.
func WithImageStore(store *imagestore.Store) Option {
	return func(c *serverConfig) { c.store = store }
}

// WithWorkers sets how many requests compile or run at once.
func WithWorkers(n int) Option {
	return func(c *serverConfig) { c.workers = n }
}

// WithEntry sets the entry attribute used when a run request names none.
func WithEntry(attr string) Option {
	return func(c *serverConfig) { c.entry = attr }
}

// WithMemory sets the default and maximum VM memory in slots.
func WithMemory(def, max int) Option {
	return func(c *serverConfig) { c.memory, c.maxMemory = def, max }
}

// WithMaxSteps caps the instructions a single run may execute.
func WithMaxSteps(n int) Option {
	return func(c *serverConfig) { c.maxSteps = n }
}

// WithHandleTTL drops handles idle for longer than ttl, checking every
// interval.
func WithHandleTTL(interval, ttl time.Duration) Option {
	return func(c *serverConfig) { c.sweep, c.ttl = interval, ttl }
}

// New creates a Server.
func New(opts ...Option) *Server {
	cfg := &serverConfig{
		workers:   runtime.GOMAXPROCS(0),
		entry:     "main",
		memory:    DefaultMemory,
		maxMemory: DefaultMaxMemory,
		maxSteps:  DefaultMaxSteps,
		sweep:     5 * time.Minute,
		ttl:       30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	workers := NewWorkers(cfg.workers)
	handles := NewHandleStore()
	s := &Server{
		workers: workers,
		handles: handles,
		service: NewCompilerService(workers, handles, cfg.store, cfg),
		mux:     http.NewServeMux(),
	}

	codecs := codecOptions()
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, s.service.Compile, codecs...))
	s.mux.Handle(InspectProcedure, connect.NewUnaryHandler(InspectProcedure, s.service.Inspect, codecs...))
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.service.Run, codecs...))
	s.mux.Handle(ReleaseProcedure, connect.NewUnaryHandler(ReleaseProcedure, s.service.Release, codecs...))

	s.stopSweeper = handles.StartSweeper(cfg.sweep, cfg.ttl)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Handles returns the server's handle store.
func (s *Server) Handles() *HandleStore {
	return s.handles
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("Tern compiler service listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, CompileProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the server.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.workers.Stop()
}
