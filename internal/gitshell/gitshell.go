// Package gitshell is the default implementation of the ports.Git
// interface. Following the teacher's own hybrid approach, cheap read-only
// introspection (current branch, ref existence) goes through go-git's
// plumbing, while anything that mutates the working tree, the index, or
// history (checkout, stash, rebase, commit, push, pull) shells out to the
// git binary, since that's the only thing that reliably drives an
// interactive rebase the way the sync engine needs.
package gitshell

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/utils/executils"
	"github.com/gitgov/sync/internal/utils/stringutils"
	"github.com/sirupsen/logrus"
)

// ErrNothingToCommit is returned by Commit when the index is empty relative
// to HEAD.
var ErrNothingToCommit = errors.Sentinel("nothing to commit")

// Repo is the default ports.Git implementation, backed by a real git
// checkout.
type Repo struct {
	dir     string
	gitRepo *git.Repository
	log     logrus.FieldLogger
}

// Open opens the git repository rooted at dir.
func Open(dir string) (*Repo, error) {
	gr, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open git repo")
	}
	return &Repo{
		dir:     dir,
		gitRepo: gr,
		log:     logrus.WithField("repo", filepath.Base(dir)),
	}, nil
}

func (r *Repo) Dir() string { return r.dir }

// runOpts controls one invocation of the git binary.
type runOpts struct {
	args      []string
	env       []string
	exitError bool
	stdin     []byte
}

type runOutput struct {
	exitCode int
	stdout   []byte
	stderr   []byte
}

func (o *runOutput) Lines() []string {
	s := strings.TrimSpace(string(o.stdout))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// RunError is returned for any git invocation that exits non-zero when
// exitError is requested, or fails to start at all.
type RunError struct {
	Args   []string
	Stderr []byte
	Err    error
}

func (e *RunError) Error() string {
	stderr := strings.TrimSpace(stringutils.RemoveLines(string(e.Stderr), "hint: "))
	return fmt.Sprintf("%s: %v: %s", executils.FormatCommandLine(append([]string{"git"}, e.Args...)), e.Err, stderr)
}

func (e *RunError) Unwrap() error { return e.Err }

// StderrContains reports whether the error is a *RunError whose stderr
// contains target.
func StderrContains(err error, target string) bool {
	var re *RunError
	if errors.As(err, &re) {
		return strings.Contains(string(re.Stderr), target)
	}
	return false
}

func (r *Repo) run(ctx context.Context, opts runOpts) (*runOutput, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, "git", opts.args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), opts.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.stdin)
	}

	err := cmd.Run()
	log := r.log.WithField("duration", time.Since(start))

	cmdLine := "git " + executils.FormatCommandLine(opts.args)

	var exitErr *exec.ExitError
	exitCode := 0
	if err != nil {
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			log.WithError(err).Debugf("%s failed to start", cmdLine)
			return nil, &RunError{Args: opts.args, Err: err}
		}
	}

	out := &runOutput{exitCode: exitCode, stdout: stdout.Bytes(), stderr: stderr.Bytes()}
	if err != nil && opts.exitError {
		log.Debugf("%s failed: %s", cmdLine, stderr.String())
		return out, &RunError{Args: opts.args, Stderr: stderr.Bytes(), Err: err}
	}
	log.Debugf("%s", cmdLine)
	return out, nil
}

// git runs a git command and returns trimmed stdout, erroring on non-zero
// exit.
func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, runOpts{args: args, exitError: true})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out.stdout)), nil
}

func (r *Repo) RepoRoot(ctx context.Context) (string, error) {
	return r.git(ctx, "rev-parse", "--show-toplevel")
}

func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	ref, err := r.gitRepo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve HEAD")
	}
	if ref.Type() != plumbing.SymbolicReference {
		return "", errors.New("repository is in detached HEAD state")
	}
	return ref.Target().Short(), nil
}

func (r *Repo) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := r.gitRepo.Reference(plumbing.NewBranchReferenceName(branch), false)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Repo) CreateBranch(ctx context.Context, branch, startPoint string) error {
	args := []string{"branch", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := r.git(ctx, args...)
	return err
}

func (r *Repo) CheckoutBranch(ctx context.Context, branch string) (string, error) {
	previous, err := r.CurrentBranch(ctx)
	if err != nil {
		r.log.WithError(err).Debug("failed to determine current branch before checkout")
		previous = ""
	}
	if _, err := r.git(ctx, "checkout", branch); err != nil {
		return "", errors.WrapIff(err, "failed to checkout branch %q", branch)
	}
	return previous, nil
}

func (r *Repo) CheckoutBranchForce(ctx context.Context, branch string) (string, error) {
	previous, err := r.CurrentBranch(ctx)
	if err != nil {
		r.log.WithError(err).Debug("failed to determine current branch before forced checkout")
		previous = ""
	}
	if _, err := r.git(ctx, "checkout", "-f", branch); err != nil {
		return "", errors.WrapIff(err, "failed to force-checkout branch %q", branch)
	}
	return previous, nil
}

func (r *Repo) CheckoutOrphanBranch(ctx context.Context, branch string) error {
	if _, err := r.git(ctx, "switch", "--orphan", branch); err != nil {
		return errors.WrapIff(err, "failed to create orphan branch %q", branch)
	}
	if _, err := r.run(ctx, runOpts{args: []string{"rm", "-rf", "--cached", "."}, exitError: false}); err != nil {
		return errors.Wrap(err, "failed to clear index on orphan branch")
	}
	return nil
}

func (r *Repo) CheckoutFilesFromBranch(ctx context.Context, branch string, paths []string) error {
	for _, p := range paths {
		args := []string{"checkout", branch, "--", p}
		out, err := r.run(ctx, runOpts{args: args})
		if err != nil {
			return err
		}
		if out.exitCode != 0 && !strings.Contains(string(out.stderr), "did not match any file") {
			return errors.Errorf("failed to checkout %q from %q: %s", p, branch, out.stderr)
		}
	}
	return nil
}

func (r *Repo) ListRemoteBranches(ctx context.Context, remote string) ([]string, error) {
	out, err := r.run(ctx, runOpts{args: []string{"ls-remote", "--heads", remote}})
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range out.Lines() {
		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			continue
		}
		branches = append(branches, strings.TrimPrefix(parts[1], "refs/heads/"))
	}
	return branches, nil
}

func (r *Repo) IsRemoteConfigured(ctx context.Context, remote string) (bool, error) {
	out, err := r.run(ctx, runOpts{args: []string{"remote"}})
	if err != nil {
		return false, err
	}
	for _, line := range out.Lines() {
		if strings.TrimSpace(line) == remote {
			return true, nil
		}
	}
	return false, nil
}

// RemoteURL returns the fetch URL configured for remote, or "" if the remote
// doesn't exist.
func (r *Repo) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := r.run(ctx, runOpts{args: []string{"remote", "get-url", remote}})
	if err != nil {
		return "", nil
	}
	if out.exitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(string(out.stdout)), nil
}

func (r *Repo) GetBranchRemote(ctx context.Context, branch string) (string, error) {
	out, err := r.run(ctx, runOpts{args: []string{"config", "--get", fmt.Sprintf("branch.%s.remote", branch)}})
	if err != nil {
		return "", err
	}
	if out.exitCode != 0 {
		// Key not set: the branch has no configured upstream remote yet.
		return "", nil
	}
	return strings.TrimSpace(string(out.stdout)), nil
}

// remoteUnreachablePatterns match the class of errors push and pull must
// tolerate: a remote exists but couldn't be reached, or there simply is no
// upstream to talk to.
var remoteUnreachablePatterns = []string{
	"could not read from remote repository",
	"remote unreachable",
	"does not appear to be a git repository",
	"could not resolve host",
	"connection timed out",
}

// IsRemoteUnreachable reports whether err looks like one of the tolerated
// "couldn't reach the remote" failures.
func IsRemoteUnreachable(err error) bool {
	var re *RunError
	if !errors.As(err, &re) {
		return false
	}
	stderr := strings.ToLower(string(re.Stderr))
	for _, pat := range remoteUnreachablePatterns {
		if strings.Contains(stderr, pat) {
			return true
		}
	}
	return false
}

func (r *Repo) Fetch(ctx context.Context, remote string, refspecs ...string) error {
	args := append([]string{"fetch", remote}, refspecs...)
	_, err := r.run(ctx, runOpts{args: args, exitError: true})
	return err
}

func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, runOpts{args: []string{"push", remote, branch}, exitError: true})
	return err
}

func (r *Repo) PushWithUpstream(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, runOpts{args: []string{"push", "--set-upstream", remote, branch}, exitError: true})
	return err
}

func (r *Repo) SetUpstream(ctx context.Context, branch, upstream string) error {
	_, err := r.git(ctx, "branch", fmt.Sprintf("--set-upstream-to=%s", upstream), branch)
	return err
}

func (r *Repo) GetCommitHistory(ctx context.Context, branch string, maxCount int) ([]ports.CommitInfo, error) {
	args := []string{"log", "--format=%H%x00%an <%ae>%x00%ct%x00%s%x00", branch}
	if maxCount > 0 {
		args = append([]string{"log", fmt.Sprintf("-n%d", maxCount), "--format=%H%x00%an <%ae>%x00%ct%x00%s%x00", branch})
	}
	out, err := r.run(ctx, runOpts{args: args, exitError: true})
	if err != nil {
		return nil, err
	}
	return parseCommitHistory(out.stdout)
}

func parseCommitHistory(raw []byte) ([]ports.CommitInfo, error) {
	rd := bufio.NewReader(bytes.NewReader(raw))
	var commits []ports.CommitInfo
	for {
		hash, err := rd.ReadString(0)
		if err != nil {
			break
		}
		author, err := rd.ReadString(0)
		if err != nil {
			break
		}
		unixSec, err := rd.ReadString(0)
		if err != nil {
			break
		}
		subject, err := rd.ReadString(0)
		if err != nil {
			break
		}
		ts, _ := strconv.ParseInt(strings.TrimSuffix(strings.TrimSpace(unixSec), "\x00"), 10, 64)
		commits = append(commits, ports.CommitInfo{
			Hash:      strings.TrimSuffix(hash, "\x00"),
			Author:    strings.TrimSuffix(author, "\x00"),
			Timestamp: time.Unix(ts, 0).UTC(),
			Message:   strings.TrimSuffix(strings.TrimRight(subject, "\x00"), "\n"),
		})
		// consume trailing newline left by %n-less format
		rd.ReadByte() //nolint:errcheck
	}
	return commits, nil
}

func (r *Repo) GetChangedFiles(ctx context.Context, refA, refB, pathFilter string) ([]ports.StateDeltaFile, error) {
	args := []string{"diff", "--name-status", refA, refB}
	if pathFilter != "" {
		args = append(args, "--", pathFilter)
	}
	out, err := r.run(ctx, runOpts{args: args, exitError: true})
	if err != nil {
		return nil, err
	}
	var files []ports.StateDeltaFile
	for _, line := range out.Lines() {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		status := fields[0][:1]
		file := fields[len(fields)-1]
		files = append(files, ports.StateDeltaFile{Status: status, File: file})
	}
	return files, nil
}

func (r *Repo) Add(ctx context.Context, paths []string, force bool) error {
	args := []string{"add"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, paths...)
	_, err := r.git(ctx, args...)
	return err
}

func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	out, err := r.run(ctx, runOpts{args: []string{"commit", "-m", message}})
	if err != nil {
		return "", err
	}
	if out.exitCode != 0 {
		if strings.Contains(string(out.stdout), "nothing to commit") ||
			strings.Contains(string(out.stderr), "nothing to commit") {
			return "", ErrNothingToCommit
		}
		return "", errors.Errorf("git commit failed: %s", out.stderr)
	}
	return r.git(ctx, "rev-parse", "HEAD")
}

func (r *Repo) CommitAllowEmpty(ctx context.Context, message string) (string, error) {
	if _, err := r.git(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return r.git(ctx, "rev-parse", "HEAD")
}

func (r *Repo) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (r *Repo) Stash(ctx context.Context, message string) (string, error) {
	before, err := r.git(ctx, "rev-parse", "--verify", "--quiet", "refs/stash")
	if err != nil {
		before = ""
	}
	out, err := r.run(ctx, runOpts{args: []string{"stash", "push", "--include-untracked", "-m", message}})
	if err != nil {
		return "", err
	}
	if strings.Contains(string(out.stdout), "No local changes to save") {
		return "", nil
	}
	after, err := r.git(ctx, "rev-parse", "--verify", "--quiet", "refs/stash")
	if err != nil || after == before {
		return "", nil
	}
	return after, nil
}

func (r *Repo) StashPop(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	_, err := r.run(ctx, runOpts{args: []string{"stash", "pop"}, exitError: true})
	return err
}

func (r *Repo) IsRebaseInProgress(ctx context.Context) (bool, error) {
	gitDir, err := r.git(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return false, err
	}
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		if _, statErr := os.Stat(filepath.Join(r.dir, gitDir, name)); statErr == nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repo) RebaseContinue(ctx context.Context) (*ports.RebaseResult, error) {
	return r.runRebaseContinueOrAbort(ctx, "--continue")
}

func (r *Repo) RebaseAbort(ctx context.Context) error {
	_, err := r.run(ctx, runOpts{args: []string{"rebase", "--abort"}, env: []string{"GIT_EDITOR=true"}})
	return err
}

func (r *Repo) runRebaseContinueOrAbort(ctx context.Context, flag string) (*ports.RebaseResult, error) {
	inProgress, err := r.IsRebaseInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if !inProgress {
		return &ports.RebaseResult{Status: ports.RebaseNotInProgress}, nil
	}

	out, err := r.run(ctx, runOpts{args: []string{"rebase", flag}, env: []string{"GIT_EDITOR=true"}})
	if err != nil {
		return nil, err
	}
	if out.exitCode != 0 {
		conflicted, cfErr := r.GetConflictedFiles(ctx)
		if cfErr != nil {
			return nil, cfErr
		}
		if len(conflicted) > 0 {
			return &ports.RebaseResult{Status: ports.RebaseConflict, ConflictedFiles: conflicted, Output: string(out.stderr)}, nil
		}
		return nil, errors.Errorf("git rebase %s failed: %s", flag, out.stderr)
	}
	stillInProgress, err := r.IsRebaseInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if stillInProgress {
		conflicted, cfErr := r.GetConflictedFiles(ctx)
		if cfErr != nil {
			return nil, cfErr
		}
		return &ports.RebaseResult{Status: ports.RebaseConflict, ConflictedFiles: conflicted, Output: string(out.stdout)}, nil
	}
	return &ports.RebaseResult{Status: ports.RebaseUpdated, Output: string(out.stdout)}, nil
}

// PullRebase runs `git pull --rebase remote branch`, recording HEAD before
// and after so callers can cheaply tell whether anything changed.
func (r *Repo) PullRebase(ctx context.Context, remote, branch string) (*ports.RebaseResult, error) {
	headBefore, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		headBefore = ""
	}

	out, err := r.run(ctx, runOpts{
		args: []string{"pull", "--rebase", remote, branch},
		env:  []string{"GIT_EDITOR=true"},
	})
	if err != nil {
		return nil, err
	}

	if out.exitCode != 0 {
		conflicted, cfErr := r.GetConflictedFiles(ctx)
		if cfErr != nil {
			return nil, cfErr
		}
		if len(conflicted) > 0 {
			return &ports.RebaseResult{
				Status:          ports.RebaseConflict,
				ConflictedFiles: conflicted,
				HeadBefore:      headBefore,
				Output:          string(out.stderr),
			}, nil
		}
		combined := string(out.stdout) + string(out.stderr)
		if strings.Contains(combined, "up to date") || strings.Contains(combined, "up-to-date") {
			return &ports.RebaseResult{Status: ports.RebaseAlreadyUpToDate, HeadBefore: headBefore, HeadAfter: headBefore}, nil
		}
		return nil, &RunError{Args: []string{"pull", "--rebase", remote, branch}, Stderr: out.stderr, Err: errors.New("pull --rebase failed")}
	}

	headAfter, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	status := ports.RebaseAlreadyUpToDate
	if headAfter != headBefore {
		status = ports.RebaseUpdated
	}
	return &ports.RebaseResult{Status: status, HeadBefore: headBefore, HeadAfter: headAfter, Output: string(out.stdout)}, nil
}

func (r *Repo) GetConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, runOpts{args: []string{"diff", "--name-only", "--diff-filter=U"}})
	if err != nil {
		return nil, err
	}
	return out.Lines(), nil
}

func (r *Repo) GetStagedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, runOpts{args: []string{"diff", "--name-only", "--cached"}})
	if err != nil {
		return nil, err
	}
	return out.Lines(), nil
}

func (r *Repo) GetStagedFileStatuses(ctx context.Context) ([]ports.StateDeltaFile, error) {
	out, err := r.run(ctx, runOpts{args: []string{"diff", "--name-status", "--cached"}})
	if err != nil {
		return nil, err
	}
	var files []ports.StateDeltaFile
	for _, line := range out.Lines() {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		status := fields[0][:1]
		file := fields[len(fields)-1]
		files = append(files, ports.StateDeltaFile{Status: status, File: file})
	}
	return files, nil
}

func (r *Repo) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.git(ctx, "config", key, value)
	return err
}

func (r *Repo) ListTree(ctx context.Context, branch, dir string) ([]string, error) {
	out, err := r.run(ctx, runOpts{args: []string{"ls-tree", "-r", "--name-only", branch, "--", dir}})
	if err != nil {
		return nil, err
	}
	if out.exitCode != 0 {
		return nil, nil
	}
	return out.Lines(), nil
}

func (r *Repo) RemoveForce(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"rm", "-f", "--"}, paths...)
	_, err := r.git(ctx, args...)
	return err
}

func (r *Repo) ResetMixed(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"reset", "HEAD", "--"}, paths...)
	_, err := r.git(ctx, args...)
	return err
}
