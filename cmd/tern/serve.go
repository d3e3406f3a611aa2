package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/chazu/tern/manifest"
	"github.com/chazu/tern/pkg/imagestore"
	"github.com/chazu/tern/server"
)

// runLSP processes the `tern lsp` subcommand. Inside a project, imports
// resolve through the project's search path and dependencies.
func runLSP(args []string) error {
	fs := flag.NewFlagSet("lsp", flag.ExitOnError)
	fs.Parse(args)

	var opts []server.LSPOption
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		log.Warningf("ignoring manifest: %v", err)
	}
	if m != nil {
		deps, err := manifest.NewDepResolver(m).Resolve()
		if err != nil {
			log.Warningf("dependencies unavailable: %v", err)
		}
		opts = append(opts,
			server.WithLSPResolver(m.Resolver(deps)),
			server.WithLSPCompilerOptions(m.CompilerOptions()...),
		)
	}
	return server.NewLSP(opts...).Run()
}

// runServe processes the `tern serve` subcommand.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":4567", "Listen address")
	cache := fs.String("cache", "", "Image cache database (default: project cache, or none)")
	workers := fs.Int("workers", 0, "Concurrent compilations and runs (default GOMAXPROCS)")
	steps := fs.Int("steps", server.DefaultMaxSteps, "Instruction cap per run")
	ttl := fs.Duration("ttl", 30*time.Minute, "Drop handles idle for this long")
	fs.Parse(args)
	if *ttl < time.Minute {
		return fmt.Errorf("handle ttl must be at least a minute, got %s", *ttl)
	}

	path := *cache
	if path == "" {
		if m, err := manifest.FindAndLoad("."); err == nil && m != nil && !m.Cache.Disabled {
			path = m.CachePath()
		}
	}

	opts := []server.Option{
		server.WithMaxSteps(*steps),
		server.WithHandleTTL(*ttl/6, *ttl),
	}
	if *workers > 0 {
		opts = append(opts, server.WithWorkers(*workers))
	}
	if path != "" {
		store, err := imagestore.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, server.WithImageStore(store))
	}

	srv := server.New(opts...)
	defer srv.Stop()
	return srv.ListenAndServe(*addr)
}

// runCache processes the `tern cache` subcommand.
// Usage:
//
//	tern cache list
//	tern cache prune -older 720h
func runCache(args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	fs := flag.NewFlagSet("cache "+args[0], flag.ExitOnError)
	older := fs.Duration("older", 30*24*time.Hour, "Prune images unused for this long")
	fs.Parse(args[1:])

	m, err := loadProject("")
	if err != nil {
		return err
	}
	store, err := imagestore.Open(m.CachePath())
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "list":
		entries, err := store.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tFILE\tSIZE\tHITS\tLAST USED")
		for _, e := range entries {
			name, err := filepath.Rel(m.Dir, e.Name)
			if err != nil {
				name = e.Name
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", e.Key[:12], name, e.Size, e.Hits, e.Used.Format(time.DateTime))
		}
		return tw.Flush()
	case "prune":
		n, err := store.Prune(time.Now().Add(-*older))
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d images\n", n)
		return nil
	case "clear":
		n, err := store.Prune(time.Now().Add(time.Hour))
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d images\n", n)
		return nil
	}
	return fmt.Errorf("unknown cache command %q (want list, prune or clear)", args[0])
}
