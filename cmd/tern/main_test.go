package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/tern/vm"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"3", "-4", "0x10", "true", "false", "1.5", "2e1"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	want := []int32{3, -4, 16, 1, 0,
		int32(math.Float32bits(1.5)), int32(math.Float32bits(20))}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("param %d = %d, want %d", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"x", "1.2.3", "99999999999"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("parseParams(%q) succeeded", bad)
		}
	}
}

func TestBuildCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.tn")
	if err := os.WriteFile(src, []byte("@main\nexport (i32) Main(i32 a)\n    return a * 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runBuild([]string{"-debug", src}); err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "prog.tbc"))
	if err != nil {
		t.Fatalf("image not written: %v", err)
	}
	out := make([]int32, 1)
	if !vm.Run(data, "main", []int32{7}, out, make([]int32, 1024)) || out[0] != 21 {
		t.Errorf("Main(7) = %d, want 21", out[0])
	}

	custom := filepath.Join(dir, "custom.tbc")
	if err := runBuild([]string{"-o", custom, src}); err != nil {
		t.Fatalf("build -o: %v", err)
	}
	if _, err := os.Stat(custom); err != nil {
		t.Errorf("custom output missing: %v", err)
	}

	bad := filepath.Join(dir, "bad.tn")
	if err := os.WriteFile(bad, []byte("export (i32) F()\n    return nope\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runBuild([]string{bad}); err == nil {
		t.Error("building a program with errors succeeded")
	}
}
