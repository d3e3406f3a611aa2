package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/manifest"
	"github.com/chazu/tern/pkg/imagestore"
)

// buildFlags are shared by the commands that compile.
type buildFlags struct {
	debug   *bool
	werror  *bool
	noPeep  *bool
	noCache *bool
}

func addBuildFlags(fs *flag.FlagSet) buildFlags {
	return buildFlags{
		debug:   fs.Bool("debug", false, "Include the debug chunk (line table and symbols)"),
		werror:  fs.Bool("Werror", false, "Treat warnings as errors"),
		noPeep:  fs.Bool("no-peephole", false, "Disable the peephole pass"),
		noCache: fs.Bool("no-cache", false, "Do not use the image cache"),
	}
}

// apply overrides the manifest's [build] section with the flags.
func (f buildFlags) apply(m *manifest.Manifest) {
	if *f.debug {
		m.Build.DebugInfo = true
	}
	if *f.werror {
		m.Build.WarningsAsErrors = true
	}
	if *f.noPeep {
		off := false
		m.Build.Peephole = &off
	}
	if *f.noCache {
		m.Cache.Disabled = true
	}
}

// buildImage compiles the project, printing diagnostics to stderr.
func buildImage(m *manifest.Manifest) ([]byte, error) {
	var store *imagestore.Store
	if !m.Cache.Disabled {
		var err error
		store, err = imagestore.Open(m.CachePath())
		if err != nil {
			log.Warningf("image cache unavailable: %v", err)
		} else {
			defer store.Close()
		}
	}

	data, res, err := m.BuildImage(store)
	if res != nil && res.Diagnostics.Len() > 0 {
		fmt.Fprint(os.Stderr, res.Diagnostics.String())
	}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return nil, fmt.Errorf("compilation failed with %d errors", ce.Diagnostics.ErrorCount())
	}
	return data, err
}

// runBuild processes the `tern build` subcommand.
// Usage:
//
//	tern build                 # project entry to [build] output
//	tern build -o out.tbc x.tn # single file
func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	output := fs.String("o", "", "Output image path")
	bf := addBuildFlags(fs)
	fs.Parse(args)

	m, err := loadProject(fs.Arg(0))
	if err != nil {
		return err
	}
	bf.apply(m)

	data, err := buildImage(m)
	if err != nil {
		return err
	}
	out := *output
	if out == "" {
		out = m.OutputPath()
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	log.Infof("wrote %s (%d bytes)", out, len(data))
	return nil
}
