package manifest

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// repo is a git working copy holding a fetched dependency.
type repo struct {
	dir string
}

// runGit runs git with args in dir and returns its trimmed standard output.
// Credential prompts are disabled so a private URL fails instead of
// blocking the build.
func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// cloneRepo clones url into dir.
func cloneRepo(url, dir string) (repo, error) {
	if _, err := runGit("", "clone", "--quiet", url, dir); err != nil {
		return repo{}, fmt.Errorf("cloning %s: %w", url, err)
	}
	return repo{dir: dir}, nil
}

// fetch updates every remote branch and tag.
func (r repo) fetch() error {
	_, err := runGit(r.dir, "fetch", "--quiet", "--all", "--tags")
	return err
}

// checkout detaches the working copy at ref, a tag, branch or commit.
func (r repo) checkout(ref string) error {
	if _, err := runGit(r.dir, "checkout", "--quiet", ref); err != nil {
		return fmt.Errorf("%s at %s: %w", r.dir, ref, err)
	}
	return nil
}

// head returns the commit currently checked out.
func (r repo) head() (string, error) {
	return runGit(r.dir, "rev-parse", "HEAD")
}
