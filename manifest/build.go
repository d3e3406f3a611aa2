package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/pkg/imagestore"
)

// ForFile returns a manifest for a lone source file outside any project.
// Imports resolve against the file's directory and caching is off.
func ForFile(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	m, err := Parse("")
	if err != nil {
		return nil, err
	}
	m.Dir = filepath.Dir(abs)
	m.Source.Dirs = []string{"."}
	m.Source.Entry = abs
	m.Build.Output = strings.TrimSuffix(abs, filepath.Ext(abs)) + ".tbc"
	m.Cache.Disabled = true
	return m, nil
}

// Compile resolves the project's dependencies and compiles its entry file
// with the [build] options followed by extra.
func (m *Manifest) Compile(extra ...compiler.Option) (*compiler.Result, error) {
	deps, err := NewDepResolver(m).Resolve()
	if err != nil {
		return nil, err
	}
	return m.compile(deps, extra...)
}

func (m *Manifest) compile(deps []ResolvedDep, extra ...compiler.Option) (*compiler.Result, error) {
	entry := m.EntryFile()
	src, err := os.ReadFile(entry)
	if err != nil {
		return nil, fmt.Errorf("cannot read entry file: %w", err)
	}
	opts := append([]compiler.Option{
		compiler.WithFile(entry),
		compiler.WithResolver(m.Resolver(deps)),
	}, m.CompilerOptions()...)
	return compiler.Compile(string(src), append(opts, extra...)...)
}

// BuildImage returns the encoded image of the project, taking it from
// store when an identical build is cached. The compile result is nil on a
// cache hit. A nil store always compiles.
func (m *Manifest) BuildImage(store *imagestore.Store) ([]byte, *compiler.Result, error) {
	deps, err := NewDepResolver(m).Resolve()
	if err != nil {
		return nil, nil, err
	}
	if store == nil || m.Cache.Disabled {
		res, err := m.compile(deps)
		if err != nil {
			return nil, res, err
		}
		return res.Bytes, res, nil
	}

	key, err := m.cacheKey(deps)
	if err != nil {
		return nil, nil, err
	}
	var res *compiler.Result
	data, hit, err := store.GetOrBuild(key, m.EntryFile(), func() ([]byte, error) {
		var err error
		res, err = m.compile(deps)
		if err != nil {
			return nil, err
		}
		return res.Bytes, nil
	})
	if err != nil {
		return nil, res, err
	}
	if hit {
		log.Infof("using cached image for %s", m.EntryFile())
	}
	return data, res, nil
}

// cacheKey fingerprints the entry file, the build options and every
// source file any import could reach.
func (m *Manifest) cacheKey(deps []ResolvedDep) (string, error) {
	entry := m.EntryFile()
	src, err := os.ReadFile(entry)
	if err != nil {
		return "", fmt.Errorf("cannot read entry file: %w", err)
	}
	peephole := m.Build.Peephole == nil || *m.Build.Peephole
	parts := []string{
		entry,
		strconv.FormatBool(m.Build.DebugInfo),
		strconv.FormatBool(peephole),
		strconv.FormatBool(m.Build.WarningsAsErrors),
	}

	dirs := m.SearchPath()
	for i := range deps {
		dirs = append(dirs, deps[i].SearchPath()...)
	}
	seen := make(map[string]bool)
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() || filepath.Ext(path) != ".tn" || seen[path] {
				return nil
			}
			seen[path] = true
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			parts = append(parts, path, string(data))
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("fingerprinting %s: %w", dir, err)
		}
	}
	return imagestore.Key(string(src), parts...), nil
}
