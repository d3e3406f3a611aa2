package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tern.manifest")

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name, the first segment of its import paths
	LocalPath string    // local filesystem path
	Manifest  *Manifest // the dependency's own manifest (may be nil)
}

// SearchPath returns the directories searched for the dependency's files.
func (d *ResolvedDep) SearchPath() []string {
	if d.Manifest == nil {
		return []string{d.LocalPath}
	}
	return append(d.Manifest.SearchPath(), d.LocalPath)
}

// DepResolver manages dependency resolution.
type DepResolver struct {
	manifest *Manifest
	lock     *LockFile
}

// NewDepResolver creates a new dependency resolver.
func NewDepResolver(m *Manifest) *DepResolver {
	return &DepResolver{manifest: m}
}

// Resolve resolves all dependencies and returns them in load order
// (dependencies before dependents), updating the lock file.
func (r *DepResolver) Resolve() ([]ResolvedDep, error) {
	if len(r.manifest.Dependencies) == 0 {
		return nil, nil
	}
	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	if err := os.MkdirAll(r.manifest.DepsDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating deps dir: %w", err)
	}

	resolved := make(map[string]*ResolvedDep)
	order, err := r.resolveAll(r.manifest, resolved)
	if err != nil {
		return nil, err
	}

	if err := r.writeLock(resolved); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return order, nil
}

// resolveAll resolves the dependencies of owner recursively, in name order.
func (r *DepResolver) resolveAll(owner *Manifest, resolved map[string]*ResolvedDep) ([]ResolvedDep, error) {
	names := make([]string, 0, len(owner.Dependencies))
	for name := range owner.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var order []ResolvedDep
	for _, name := range names {
		if _, ok := resolved[name]; ok {
			continue
		}
		rd, err := r.resolveOne(owner, name, owner.Dependencies[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		resolved[name] = rd

		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			transitive, err := r.resolveAll(rd.Manifest, resolved)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}
		order = append(order, *rd)
	}
	return order, nil
}

// resolveOne resolves a single dependency declared by owner.
func (r *DepResolver) resolveOne(owner *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	if dep.Path != "" {
		localPath, err := filepath.Abs(owner.abs(dep.Path))
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
		}
		depManifest, _ := Load(localPath)
		return &ResolvedDep{Name: name, LocalPath: localPath, Manifest: depManifest}, nil
	}

	depDir := filepath.Join(r.manifest.DepsDir(), name)
	locked := r.lock.FindLockedDep(name)
	current := locked != nil && locked.Git == dep.Git && locked.Tag == dep.Tag

	rp := repo{dir: depDir}
	if _, err := os.Stat(depDir); errors.Is(err, fs.ErrNotExist) {
		log.Infof("cloning %s from %s", name, dep.Git)
		if rp, err = cloneRepo(dep.Git, depDir); err != nil {
			return nil, err
		}
	} else if !current {
		log.Infof("fetching %s", name)
		if err := rp.fetch(); err != nil {
			return nil, err
		}
	}

	// A lock entry for the same source pins the exact commit.
	ref := dep.Tag
	if current && locked.Commit != "" {
		ref = locked.Commit
	}
	if ref != "" {
		if err := rp.checkout(ref); err != nil {
			return nil, err
		}
	}
	depManifest, _ := Load(depDir)
	return &ResolvedDep{Name: name, LocalPath: depDir, Manifest: depManifest}, nil
}

// writeLock writes the resolved dependencies to the lock file.
func (r *DepResolver) writeLock(resolved map[string]*ResolvedDep) error {
	lf := &LockFile{}
	for _, rd := range resolved {
		ld := LockedDep{Name: rd.Name}
		dep := r.manifest.Dependencies[rd.Name]
		switch {
		case dep.Git != "":
			ld.Git, ld.Tag = dep.Git, dep.Tag
			if commit, err := (repo{dir: rd.LocalPath}).head(); err == nil {
				ld.Commit = commit
			}
		case dep.Path != "":
			ld.Path = dep.Path
		default:
			ld.Path = rd.LocalPath // transitive
		}
		lf.Deps = append(lf.Deps, ld)
	}
	if err := os.MkdirAll(filepath.Dir(r.manifest.LockFilePath()), 0755); err != nil {
		return err
	}
	return WriteLock(r.manifest.LockFilePath(), lf)
}

// ---------------------------------------------------------------------------
// Import resolution
// ---------------------------------------------------------------------------

// ErrNotFound is returned when an imported file exists in no search
// directory.
var ErrNotFound = errors.New("file not found")

// SourceResolver resolves import paths to files on disk. It implements
// compiler.Resolver.
//
// A path is looked up next to the importing file, then in each search
// directory. A path whose first segment names a dependency is looked up in
// that dependency only.
type SourceResolver struct {
	search []string
	deps   map[string]ResolvedDep
}

// NewSourceResolver returns a resolver over search and deps.
func NewSourceResolver(search []string, deps []ResolvedDep) *SourceResolver {
	r := &SourceResolver{search: search, deps: make(map[string]ResolvedDep, len(deps))}
	for _, d := range deps {
		r.deps[d.Name] = d
	}
	return r
}

// Resolver returns the import resolver for the project and its resolved
// dependencies.
func (m *Manifest) Resolver(deps []ResolvedDep) *SourceResolver {
	return NewSourceResolver(m.SearchPath(), deps)
}

// Resolve implements compiler.Resolver. The canonical name is the file's
// absolute path.
func (r *SourceResolver) Resolve(from, path string) (string, string, error) {
	if filepath.IsAbs(path) {
		return read(path)
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	if strings.HasPrefix(clean, "../") {
		return r.first([]string{filepath.Dir(from)}, path)
	}
	if first, rest, ok := strings.Cut(clean, "/"); ok {
		if dep, found := r.deps[first]; found {
			return r.first(dep.SearchPath(), rest)
		}
	}
	dirs := append([]string{filepath.Dir(from)}, r.search...)
	return r.first(dirs, path)
}

func (r *SourceResolver) first(dirs []string, path string) (string, string, error) {
	for _, d := range dirs {
		name, src, err := read(filepath.Join(d, path))
		if err == nil {
			return name, src, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("%w: %s (searched %s)", ErrNotFound, path, strings.Join(dirs, ", "))
}

func read(path string) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", err
	}
	return abs, string(data), nil
}
