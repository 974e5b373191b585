// Package synctest provides the sync engine's test harness: a real
// local+bare-remote git repository pair (mirroring the teacher's
// internal/git/gittest package) plus small hand-written fakes for the
// Identity, Lint, and Indexer ports, since the teacher's stack has no
// mocking framework and none is introduced here.
package synctest

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gitgov/sync/internal/gitshell"
	"github.com/stretchr/testify/require"
)

// Repo is a local git checkout pushed to a bare "remote" directory, both
// under the test's temp dir, wired up with a real *gitshell.Repo so the
// sync engine is exercised against real `git` subprocesses.
type Repo struct {
	t        *testing.T
	Dir      string
	RemoteDir string
	Git      *gitshell.Repo
}

// NewTempRepo initializes a local repo with an initial commit on "main",
// a bare remote at "origin", and returns both wrapped in a *gitshell.Repo.
func NewTempRepo(t *testing.T) *Repo {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "local")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	remoteDir := filepath.Join(t.TempDir(), "remote")
	require.NoError(t, os.MkdirAll(remoteDir, 0o755))

	runGit(t, remoteDir, "init", "--bare", "--initial-branch=main")
	runGit(t, dir, "init", "--initial-branch=main")
	runGit(t, dir, "config", "user.name", "gitgov-test")
	runGit(t, dir, "config", "user.email", "gitgov-test@nonexistent")
	runGit(t, dir, "remote", "add", "origin", remoteDir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test repo"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "Initial commit")
	runGit(t, dir, "push", "origin", "main")

	gr, err := gitshell.Open(dir)
	require.NoError(t, err, "failed to open git repo")

	return &Repo{t: t, Dir: dir, RemoteDir: remoteDir, Git: gr}
}

// NewTempRepoNoRemote is like NewTempRepo but never configures an "origin"
// remote, for exercising the "no remote configured" pre-flight paths.
func NewTempRepoNoRemote(t *testing.T) *Repo {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "local")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	runGit(t, dir, "init", "--initial-branch=main")
	runGit(t, dir, "config", "user.name", "gitgov-test")
	runGit(t, dir, "config", "user.email", "gitgov-test@nonexistent")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test repo"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "Initial commit")

	gr, err := gitshell.Open(dir)
	require.NoError(t, err, "failed to open git repo")
	return &Repo{t: t, Dir: dir, Git: gr}
}

// Run runs a raw git command inside the repo, for setting up scenarios the
// ports.Git interface doesn't expose directly (writing conflicting content,
// inspecting ref state, etc).
func (r *Repo) Run(args ...string) string {
	r.t.Helper()
	return runGit(r.t, r.Dir, args...)
}

// RunAllowFail is Run but does not fail the test on a non-zero exit; it
// returns combined stdout+stderr.
func (r *Repo) RunAllowFail(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	out, _ := cmd.CombinedOutput()
	return string(out)
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_EDITOR=true")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	require.NoErrorf(t, err, "git %v failed: %s", args, stderr.String())
	return stdout.String()
}

// WriteFile writes a file relative to the repo root, creating parent
// directories as needed.
func (r *Repo) WriteFile(relPath, content string) {
	r.t.Helper()
	abs := filepath.Join(r.Dir, relPath)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(r.t, os.WriteFile(abs, []byte(content), 0o644))
}

// ReadFile reads a file relative to the repo root.
func (r *Repo) ReadFile(relPath string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Dir, relPath))
	require.NoError(r.t, err)
	return string(data)
}

// FileExists reports whether a file relative to the repo root exists.
func (r *Repo) FileExists(relPath string) bool {
	_, err := os.Stat(filepath.Join(r.Dir, relPath))
	return err == nil
}

// Ctx is a convenience background context for test calls into the engine.
func Ctx() context.Context { return context.Background() }

// CloneRemote clones r's remote into a fresh temp directory, simulating a
// second machine/contributor sharing the same origin. It configures the
// same commit identity as NewTempRepo.
func (r *Repo) CloneRemote(t *testing.T) *Repo {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	runGit(t, filepath.Dir(dir), "clone", r.RemoteDir, dir)
	runGit(t, dir, "config", "user.name", "gitgov-test")
	runGit(t, dir, "config", "user.email", "gitgov-test@nonexistent")

	gr, err := gitshell.Open(dir)
	require.NoError(t, err, "failed to open cloned git repo")
	return &Repo{t: t, Dir: dir, RemoteDir: r.RemoteDir, Git: gr}
}
