// Package ports declares the external collaborators the sync engine consumes:
// Git, Config, Identity, Lint, and Indexer. The engine never talks to Git,
// disk-level config, signing keys, the lint subsystem, or the index builder
// directly -- it only ever calls through these interfaces, so that callers
// can substitute fakes in tests or alternate implementations in production.
package ports

import (
	"context"
	"time"
)

// RebaseStatus classifies the outcome of a rebase-affecting Git operation.
type RebaseStatus int

const (
	RebaseAlreadyUpToDate RebaseStatus = iota
	RebaseUpdated
	RebaseConflict
	RebaseNotInProgress
)

func (s RebaseStatus) String() string {
	switch s {
	case RebaseAlreadyUpToDate:
		return "already_up_to_date"
	case RebaseUpdated:
		return "updated"
	case RebaseConflict:
		return "conflict"
	case RebaseNotInProgress:
		return "not_in_progress"
	default:
		return "unknown"
	}
}

// RebaseResult is returned by any Git operation that may leave a rebase
// paused on conflict (PullRebase, RebaseContinue).
type RebaseResult struct {
	Status          RebaseStatus
	ConflictedFiles []string
	// HeadBefore/HeadAfter are the state-branch HEAD commit hashes observed
	// immediately before and after the operation, used by callers to decide
	// whether anything actually changed.
	HeadBefore string
	HeadAfter  string
	Output     string
}

// HasChanges reports whether the rebase actually advanced HEAD.
func (r *RebaseResult) HasChanges() bool {
	return r != nil && r.HeadBefore != r.HeadAfter
}

// CommitInfo is one entry of a commit history walk, newest first.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	Timestamp time.Time
}

// StateDeltaFile describes one file-level change between two refs, scoped to
// .gitgov/.
type StateDeltaFile struct {
	Status string // "A", "M", or "D"
	File   string // path as Git reports it, e.g. ".gitgov/tasks/1.json" (delta trims the ".gitgov/" prefix)
}

// Git is the narrow set of Git primitives the sync engine needs. A
// production implementation shells out to the git binary for anything that
// mutates repository state (checkout, stash, rebase, commit, push, pull) and
// may use a Git plumbing library for cheap read-only introspection.
type Git interface {
	RepoRoot(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	BranchExists(ctx context.Context, branch string) (bool, error)
	CreateBranch(ctx context.Context, branch, startPoint string) error
	// CheckoutBranch checks out an existing branch and returns the name of
	// the branch that was checked out before the switch (empty if detached).
	CheckoutBranch(ctx context.Context, branch string) (previous string, err error)
	// CheckoutOrphanBranch creates and checks out a new orphan branch with
	// an empty index (nothing staged); tracked files of the previous branch
	// are removed from the working tree, untracked files are left alone.
	CheckoutOrphanBranch(ctx context.Context, branch string) error
	// CheckoutBranchForce is CheckoutBranch but tolerates untracked working
	// tree files that would otherwise block the switch (the pull pipeline's
	// checkout of the state branch can collide with an untracked .gitgov/
	// left over from a previous partial run).
	CheckoutBranchForce(ctx context.Context, branch string) (previous string, err error)
	// CheckoutFilesFromBranch restores the given paths (relative to repo
	// root) from branch onto the current index/worktree. A missing path is
	// tolerated and simply skipped.
	CheckoutFilesFromBranch(ctx context.Context, branch string, paths []string) error

	ListRemoteBranches(ctx context.Context, remote string) ([]string, error)
	IsRemoteConfigured(ctx context.Context, remote string) (bool, error)
	GetBranchRemote(ctx context.Context, branch string) (string, error)
	// RemoteURL returns the fetch URL configured for remote, or "" if the
	// remote doesn't exist.
	RemoteURL(ctx context.Context, remote string) (string, error)

	// Fetch fetches the given refspecs (or everything, if none given) from
	// remote. "remote unreachable"-shaped errors are returned, not
	// swallowed; callers decide whether to tolerate them.
	Fetch(ctx context.Context, remote string, refspecs ...string) error
	// PullRebase runs `pull --rebase remote branch` against the current
	// branch. On conflict the rebase is left in progress (not aborted) and
	// the result reports RebaseConflict with the conflicted paths.
	PullRebase(ctx context.Context, remote, branch string) (*RebaseResult, error)
	Push(ctx context.Context, remote, branch string) error
	PushWithUpstream(ctx context.Context, remote, branch string) error
	SetUpstream(ctx context.Context, branch, upstream string) error

	GetCommitHistory(ctx context.Context, branch string, maxCount int) ([]CommitInfo, error)
	// GetChangedFiles returns the name-status diff between refA and refB,
	// optionally restricted to paths under pathFilter (e.g. ".gitgov").
	GetChangedFiles(ctx context.Context, refA, refB, pathFilter string) ([]StateDeltaFile, error)

	Add(ctx context.Context, paths []string, force bool) error
	// Commit commits the index and returns the new commit hash. If there is
	// nothing staged, it returns ErrNothingToCommit.
	Commit(ctx context.Context, message string) (string, error)
	CommitAllowEmpty(ctx context.Context, message string) (string, error)
	HasUncommittedChanges(ctx context.Context) (bool, error)

	// Stash stashes tracked changes and untracked (non-ignored) files with
	// the given message and returns a
	// stash reference. If there was nothing to stash, it returns ("", nil).
	Stash(ctx context.Context, message string) (ref string, err error)
	StashPop(ctx context.Context, ref string) error

	IsRebaseInProgress(ctx context.Context) (bool, error)
	RebaseContinue(ctx context.Context) (*RebaseResult, error)
	RebaseAbort(ctx context.Context) error
	GetConflictedFiles(ctx context.Context) ([]string, error)
	GetStagedFiles(ctx context.Context) ([]string, error)
	// GetStagedFileStatuses returns the name-status diff of the index
	// against HEAD, i.e. the per-file A/M/D status GetStagedFiles leaves out.
	GetStagedFileStatuses(ctx context.Context) ([]StateDeltaFile, error)

	SetConfig(ctx context.Context, key, value string) error

	// ListTree lists the paths under dir as recorded in branch's tree.
	// Returns an empty, non-error result if dir doesn't exist in branch.
	ListTree(ctx context.Context, branch, dir string) ([]string, error)
	// RemoveForce force-removes the given paths from the index (git rm -f).
	RemoveForce(ctx context.Context, paths []string) error
	// ResetMixed unstages the given paths (git reset HEAD -- paths), leaving
	// the working tree untouched.
	ResetMixed(ctx context.Context, paths []string) error
}
