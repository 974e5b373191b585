// Package statebranch implements the state-branch manager: the lazy
// creation, fetch, and tracking setup for the orphan branch that holds the
// shared subset of .gitgov/.
package statebranch

import (
	"context"
	"slices"
	"strings"

	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/sync/syncerr"
	"github.com/sirupsen/logrus"
)

// DefaultName is the canonical state branch name used when no
// configuration overrides it.
const DefaultName = "gitgov-state"

// DefaultRemote is the remote the state branch is tracked against.
const DefaultRemote = "origin"

// GetStateBranchName reads config.state.branch, defaulting to DefaultName
// if the config is missing, unreadable, or doesn't set it.
func GetStateBranchName(ctx context.Context, cfg ports.Config) string {
	if cfg == nil {
		return DefaultName
	}
	projectConfig, err := cfg.LoadConfig(ctx)
	if err != nil {
		logrus.WithError(err).Debug("failed to load project config; defaulting state branch name")
		return DefaultName
	}
	if projectConfig == nil || projectConfig.State.Branch == "" {
		return DefaultName
	}
	return projectConfig.State.Branch
}

const initialCommitMessage = "Initialize state branch"

// EnsureStateBranch reconciles the four local/remote existence cases for the
// state branch, always attempting to return to the branch that was checked
// out when it was called.
func EnsureStateBranch(ctx context.Context, git ports.Git, branch string) error {
	saved, err := git.CurrentBranch(ctx)
	if err != nil {
		logrus.WithError(err).Debug("could not determine current branch before ensuring state branch")
		saved = ""
	}

	if err := ensure(ctx, git, branch); err != nil {
		if saved != "" {
			if _, coErr := git.CheckoutBranch(ctx, saved); coErr != nil {
				logrus.WithError(coErr).Warn("failed to return to original branch after state-branch setup failure")
			}
		}
		return err
	}

	if saved != "" && saved != branch {
		if _, err := git.CheckoutBranch(ctx, saved); err != nil {
			return &syncerr.StateBranchSetupError{Reason: "failed to return to original branch", Cause: err}
		}
	}
	return nil
}

func ensure(ctx context.Context, git ports.Git, branch string) error {
	localExists, err := git.BranchExists(ctx, branch)
	if err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to check local branch existence", Cause: err}
	}

	// Best-effort fetch so remote existence checks are accurate; tolerate an
	// unreachable remote entirely at this stage.
	_ = git.Fetch(ctx, DefaultRemote)

	remoteBranches, err := git.ListRemoteBranches(ctx, DefaultRemote)
	remoteReachable := err == nil
	remoteExists := remoteReachable && slices.Contains(remoteBranches, branch)

	switch {
	case !localExists && !remoteExists:
		return createFresh(ctx, git, branch)
	case !localExists && remoteExists:
		return trackRemote(ctx, git, branch)
	case localExists && !remoteExists:
		return publishLocal(ctx, git, branch)
	default: // localExists && remoteExists
		return verifyUpstream(ctx, git, branch)
	}
}

func createFresh(ctx context.Context, git ports.Git, branch string) error {
	current, err := git.CurrentBranch(ctx)
	if err != nil {
		return &syncerr.StateBranchSetupError{Reason: "cannot determine current branch", Cause: err}
	}
	history, err := git.GetCommitHistory(ctx, current, 1)
	if err != nil || len(history) == 0 {
		return &syncerr.StateBranchSetupError{Reason: "current branch has no commits; create an initial commit before syncing state"}
	}

	if err := git.CheckoutOrphanBranch(ctx, branch); err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to create orphan state branch", Cause: err}
	}
	if _, err := git.CommitAllowEmpty(ctx, initialCommitMessage); err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to create initial state-branch commit", Cause: err}
	}
	if err := git.PushWithUpstream(ctx, DefaultRemote, branch); err != nil {
		if !isToleratedPushError(err) {
			return &syncerr.StateBranchSetupError{Reason: "failed to push new state branch", Cause: err}
		}
		logrus.WithError(err).Debug("tolerating unreachable remote while creating state branch")
	}
	return nil
}

func trackRemote(ctx context.Context, git ports.Git, branch string) error {
	if err := git.Fetch(ctx, DefaultRemote, branch); err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to fetch remote state branch", Cause: err}
	}
	if err := git.CreateBranch(ctx, branch, DefaultRemote+"/"+branch); err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to create local tracking branch", Cause: err}
	}
	if err := git.SetUpstream(ctx, branch, DefaultRemote+"/"+branch); err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to set upstream for state branch", Cause: err}
	}
	return nil
}

func publishLocal(ctx context.Context, git ports.Git, branch string) error {
	if _, err := git.CheckoutBranch(ctx, branch); err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to checkout existing state branch", Cause: err}
	}
	if err := git.PushWithUpstream(ctx, DefaultRemote, branch); err != nil {
		if !isToleratedPushError(err) {
			return &syncerr.StateBranchSetupError{Reason: "failed to publish existing state branch", Cause: err}
		}
		logrus.WithError(err).Debug("tolerating unreachable remote while publishing state branch")
	}
	return nil
}

func verifyUpstream(ctx context.Context, git ports.Git, branch string) error {
	remote, err := git.GetBranchRemote(ctx, branch)
	if err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to read state branch upstream", Cause: err}
	}
	if remote == DefaultRemote {
		return nil
	}
	if err := git.SetUpstream(ctx, branch, DefaultRemote+"/"+branch); err != nil {
		return &syncerr.StateBranchSetupError{Reason: "failed to set missing upstream for state branch", Cause: err}
	}
	return nil
}

// toleratedPushErrorSubstrings are the "remote unreachable"-shaped failures
// §4.1 says to tolerate when first publishing the state branch (the local
// branch/commit is still valid either way).
var toleratedPushErrorSubstrings = []string{
	"could not read from remote", "unreachable", "does not appear to be a git repository",
	"could not resolve host", "connection timed out", "no configured push destination",
}

func isToleratedPushError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sub := range toleratedPushErrorSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
