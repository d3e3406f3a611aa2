// Package manifest handles tern.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/vm"
)

// FileName is the name of the project file.
const FileName = "tern.toml"

// Manifest represents a tern.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Source       Source                `toml:"source"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	Build        Build                 `toml:"build"`
	Run          Run                   `toml:"run"`
	Cache        Cache                 `toml:"cache"`
	Log          Log                   `toml:"log"`

	// Dir is the directory containing the tern.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations.
type Source struct {
	Dirs        []string `toml:"dirs"`
	Entry       string   `toml:"entry"`
	IncludeDirs []string `toml:"include-dirs"`
}

// Dependency represents a single project dependency. Its files are
// imported as "<name>/<path>".
type Dependency struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`
}

// Build configures compilation.
type Build struct {
	Output           string `toml:"output"`
	DebugInfo        bool   `toml:"debug-info"`
	Peephole         *bool  `toml:"peephole"`
	WarningsAsErrors bool   `toml:"warnings-as-errors"`
}

// Run configures the virtual machine.
type Run struct {
	Entry     string `toml:"entry"`
	Memory    int    `toml:"memory"`
	StackBase int    `toml:"stack-base"`
	MaxSteps  int    `toml:"max-steps"`
	Trace     bool   `toml:"trace"`
}

// Cache configures the compiled image cache.
type Cache struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Defaults used when tern.toml leaves a setting out.
const (
	DefaultEntry  = "main"
	DefaultMemory = 64 * 1024
	DefaultOutput = "out.tbc"
	DefaultSource = "main.tn"
)

// Load parses a tern.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes tern.toml text and applies defaults. Dir is left empty.
func Parse(text string) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(text, &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = DefaultSource
	}
	if m.Build.Output == "" {
		m.Build.Output = DefaultOutput
	}
	if m.Run.Entry == "" {
		m.Run.Entry = DefaultEntry
	}
	if m.Run.Memory == 0 {
		m.Run.Memory = DefaultMemory
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".tern", "cache.db")
	}
}

func (m *Manifest) validate() error {
	switch {
	case m.Run.Memory < 0:
		return fmt.Errorf("run.memory must be positive, got %d", m.Run.Memory)
	case m.Run.StackBase < 0:
		return fmt.Errorf("run.stack-base must not be negative, got %d", m.Run.StackBase)
	case m.Run.StackBase >= m.Run.Memory:
		return fmt.Errorf("run.stack-base %d is outside the %d memory slots", m.Run.StackBase, m.Run.Memory)
	case m.Run.MaxSteps < 0:
		return fmt.Errorf("run.max-steps must not be negative, got %d", m.Run.MaxSteps)
	}
	for name, dep := range m.Dependencies {
		if dep.Git == "" && dep.Path == "" {
			return fmt.Errorf("dependency %q has no git or path specified", name)
		}
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("dependency name %q must not contain a path separator", name)
		}
	}
	return nil
}

// FindAndLoad walks up from startDir to find a tern.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// abs joins a project-relative path to the project directory.
func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// SearchPath returns the directories searched for imports: the source
// directories followed by the include directories.
func (m *Manifest) SearchPath() []string {
	paths := m.SourceDirPaths()
	for _, d := range m.Source.IncludeDirs {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// EntryFile returns the path of the main source file. A relative entry is
// looked up in the source directories first and the project directory last.
func (m *Manifest) EntryFile() string {
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	for _, d := range m.SourceDirPaths() {
		p := filepath.Join(d, m.Source.Entry)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return m.abs(m.Source.Entry)
}

// OutputPath returns the path the built image is written to.
func (m *Manifest) OutputPath() string { return m.abs(m.Build.Output) }

// CachePath returns the path of the image cache database.
func (m *Manifest) CachePath() string { return m.abs(m.Cache.Path) }

// DepsDir returns the path to the .tern/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".tern", "deps")
}

// LockFilePath returns the path to .tern/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".tern", "lock.toml")
}

// CompilerOptions returns the compiler options selected by [build].
func (m *Manifest) CompilerOptions() []compiler.Option {
	opts := []compiler.Option{
		compiler.WithDebugInfo(m.Build.DebugInfo),
		compiler.WithWarningsAsErrors(m.Build.WarningsAsErrors),
	}
	if m.Build.Peephole != nil {
		opts = append(opts, compiler.WithPeephole(*m.Build.Peephole))
	}
	return opts
}

// VMOptions returns the machine options selected by [run].
func (m *Manifest) VMOptions() []vm.Option {
	opts := []vm.Option{
		vm.WithMaxSteps(m.Run.MaxSteps),
		vm.WithTrace(m.Run.Trace),
	}
	if m.Run.StackBase > 0 {
		opts = append(opts, vm.WithStackBase(m.Run.StackBase))
	}
	return opts
}
