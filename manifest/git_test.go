package manifest

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/chazu/tern/vm"
)

// gitRepo creates a repository with two tagged versions of lib.tn: v1
// returns 7 and v2 returns 8.
func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		args = append([]string{"-c", "user.name=tern", "-c", "user.email=tern@example.com"}, args...)
		if _, err := runGit(dir, args...); err != nil {
			t.Fatal(err)
		}
	}
	git("init", "--quiet")
	for i, v := range []string{"7", "8"} {
		writeFile(t, filepath.Join(dir, "lib.tn"), "(i32) Lib()\n    return "+v+"\n")
		git("add", "lib.tn")
		git("commit", "--quiet", "-m", "version "+v)
		git("tag", []string{"v1", "v2"}[i])
	}
	return dir
}

func TestGitDependency(t *testing.T) {
	upstream := gitRepo(t)
	app := t.TempDir()
	writeFile(t, filepath.Join(app, FileName), "[dependencies]\nlib = { git = \""+filepath.ToSlash(upstream)+"\", tag = \"v1\" }\n")
	writeFile(t, filepath.Join(app, "src", "main.tn"), "import \"lib/lib.tn\"\n@main\nexport (i32) Main()\n    return Lib()\n")
	m, err := Load(app)
	if err != nil {
		t.Fatal(err)
	}

	run := func(want int32) {
		t.Helper()
		res, err := m.Compile()
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		out := make([]int32, 1)
		if !vm.Run(res.Bytes, "main", nil, out, make([]int32, 1024)) || out[0] != want {
			t.Errorf("Main() = %d, want %d", out[0], want)
		}
	}
	run(7)

	lock, err := ReadLock(m.LockFilePath())
	if err != nil {
		t.Fatal(err)
	}
	v1, err := runGit(upstream, "rev-parse", "v1^{commit}")
	if err != nil {
		t.Fatal(err)
	}
	if d := lock.FindLockedDep("lib"); d == nil || d.Commit != v1 || d.Tag != "v1" {
		t.Errorf("lock entry = %+v, want commit %s", d, v1)
	}

	// Resolving again reuses the clone at the locked commit.
	run(7)

	m.Dependencies["lib"] = Dependency{Git: filepath.ToSlash(upstream), Tag: "v2"}
	run(8)
	if d, _ := ReadLock(m.LockFilePath()); d.FindLockedDep("lib").Tag != "v2" {
		t.Errorf("lock not updated: %+v", d.FindLockedDep("lib"))
	}
}
