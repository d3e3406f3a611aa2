package imagestore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "images.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKey(t *testing.T) {
	a := Key("src", "peephole")
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64", len(a))
	}
	if a != Key("src", "peephole") {
		t.Error("key is not deterministic")
	}
	distinct := []string{
		Key("src"),
		Key("src", ""),
		Key("srcpeephole"),
		Key("src", "peep", "hole"),
		Key("src", "peephole", "debug"),
	}
	for _, k := range distinct {
		if k == a {
			t.Errorf("collision with %s", k)
		}
	}
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("part boundaries are not part of the key")
	}
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	key := Key("export F()\n")
	if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
	}

	image := []byte{'T', 'E', 'R', 'N', 1, 2, 3}
	if err := s.Put(key, "main.tn", image); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Errorf("Get = %v, want %v", got, image)
	}

	if err := s.Put(key, "main.tn", []byte{9}); err != nil {
		t.Fatalf("replacing Put: %v", err)
	}
	got, _ = s.Get(key)
	if !bytes.Equal(got, []byte{9}) {
		t.Errorf("Get after replace = %v, want [9]", got)
	}
}

func TestGetOrBuild(t *testing.T) {
	s := openTemp(t)
	builds := 0
	build := func() ([]byte, error) {
		builds++
		return []byte("image"), nil
	}
	for i, wantHit := range []bool{false, true, true} {
		image, hit, err := s.GetOrBuild("k", "a.tn", build)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if hit != wantHit || string(image) != "image" {
			t.Errorf("call %d: hit %v image %q, want hit %v", i, hit, image, wantHit)
		}
	}
	if builds != 1 {
		t.Errorf("built %d times, want 1", builds)
	}

	boom := errors.New("boom")
	if _, _, err := s.GetOrBuild("bad", "b.tn", func() ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if _, err := s.Get("bad"); !errors.Is(err, ErrNotFound) {
		t.Error("failed build was cached")
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Hits != 2 || entries[0].Size != 5 || entries[0].Name != "a.tn" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestDeleteAndPrune(t *testing.T) {
	s, err := Open(Memory)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Put(k, k+".tn", []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Delete("a"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := s.Delete("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}

	n, err := s.Prune(time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Errorf("Prune(an hour ago) = %d, %v; want 0", n, err)
	}
	n, err = s.Prune(time.Now().Add(time.Second))
	if err != nil || n != 2 {
		t.Errorf("Prune(now) = %d, %v; want 2", n, err)
	}
	if entries, _ := s.List(); len(entries) != 0 {
		t.Errorf("%d entries left", len(entries))
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("k", "x.tn", []byte("persisted")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get("k")
	if err != nil || string(got) != "persisted" {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}
