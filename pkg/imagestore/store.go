// Package imagestore caches compiled bytecode images in SQLite, keyed by a
// hash of everything that went into the compilation.
package imagestore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("tern.imagestore")

// ErrNotFound indicates no image is stored under the key.
var ErrNotFound = errors.New("image not found")

// Memory is the path of a private in-memory store.
const Memory = ":memory:"

// Store is a content-addressed image cache. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Entry describes one cached image.
type Entry struct {
	Key     string
	Name    string
	Size    int
	Hits    int
	Created time.Time
	Used    time.Time
}

// Open opens or creates the store at path, creating its directory.
func Open(path string) (*Store, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == Memory {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		key     TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		image   BLOB NOT NULL,
		hits    INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL,
		used    INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	log.Debugf("opened image store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Key hashes the main source and every other input that changes the
// compiled image: option flags, imported file names and contents. Parts
// are length-prefixed so that no two part lists collide.
func Key(source string, parts ...string) string {
	h := sha256.New()
	for _, p := range append([]string{source}, parts...) {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the image stored under key and records the hit.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var image []byte
	err := s.db.QueryRow("SELECT image FROM images WHERE key = ?", key).Scan(&image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	if _, err := s.db.Exec("UPDATE images SET hits = hits + 1, used = ? WHERE key = ?", time.Now().UnixNano(), key); err != nil {
		return nil, fmt.Errorf("recording hit: %w", err)
	}
	return image, nil
}

// Put stores an image under key, replacing any previous one.
func (s *Store) Put(key, name string, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO images (key, name, image, hits, created, used) VALUES (?, ?, ?, 0, ?, ?)",
		key, name, image, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// GetOrBuild returns the cached image for key, or calls build and caches
// its result. The boolean reports a cache hit. Build errors are returned
// unchanged and nothing is cached.
func (s *Store) GetOrBuild(key, name string, build func() ([]byte, error)) ([]byte, bool, error) {
	image, err := s.Get(key)
	if err == nil {
		log.Debugf("cache hit for %s (%s)", name, key[:12])
		return image, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	image, err = build()
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(key, name, image); err != nil {
		return nil, false, err
	}
	return image, false, nil
}

// Delete removes the image stored under key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM images WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every entry, most recently used first.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT key, name, length(image), hits, created, used FROM images ORDER BY used DESC, key")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created, used int64
		if err := rows.Scan(&e.Key, &e.Name, &e.Size, &e.Hits, &created, &used); err != nil {
			return nil, fmt.Errorf("reading image entry: %w", err)
		}
		e.Created, e.Used = time.Unix(0, created), time.Unix(0, used)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes images not used since before and returns how many went.
func (s *Store) Prune(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM images WHERE used < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Infof("pruned %d images from %s", n, s.path)
	}
	return n, nil
}
