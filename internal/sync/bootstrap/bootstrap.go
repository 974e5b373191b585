// Package bootstrap implements the bootstrapper: a one-shot restore of
// .gitgov/ onto a fresh clone's work branch from the state branch, without
// switching off the work branch (spec §4.7).
package bootstrap

import (
	"context"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/sync/statebranch"
	"github.com/gitgov/sync/internal/utils/sliceutils"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of BootstrapFromStateBranch. It never carries a Go
// error for the expected "nothing to bootstrap from" conditions -- those
// are reported as Success:false with Error set, matching the spec's
// "does not throw for expected missing-state conditions".
type Result struct {
	Success bool
	Error   string
}

// BootstrapFromStateBranch restores .gitgov/ onto the current work branch
// from stateBranch, for a fresh clone that has no .gitgov/ yet. It never
// switches the caller off their current branch.
func BootstrapFromStateBranch(ctx context.Context, git ports.Git, stateBranch string) (*Result, error) {
	if stateBranch == "" {
		stateBranch = statebranch.DefaultName
	}

	localExists, err := git.BranchExists(ctx, stateBranch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check local state-branch existence")
	}
	if !localExists {
		if err := git.Fetch(ctx, statebranch.DefaultRemote, stateBranch); err != nil {
			return &Result{Success: false, Error: "state branch not found locally or on origin"}, nil
		}
		remoteBranches, err := git.ListRemoteBranches(ctx, statebranch.DefaultRemote)
		if err != nil || !sliceutils.Contains(remoteBranches, stateBranch) {
			return &Result{Success: false, Error: "state branch not found locally or on origin"}, nil
		}
		if err := git.CreateBranch(ctx, stateBranch, statebranch.DefaultRemote+"/"+stateBranch); err != nil {
			return nil, errors.Wrap(err, "failed to create local tracking branch for state branch")
		}
		if err := git.SetUpstream(ctx, stateBranch, statebranch.DefaultRemote+"/"+stateBranch); err != nil {
			logrus.WithError(err).Debug("failed to set upstream while bootstrapping tracking branch")
		}
	}

	tree, err := git.ListTree(ctx, stateBranch, ".gitgov")
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect state-branch tree")
	}
	if len(tree) == 0 {
		return &Result{Success: false, Error: "state branch has no .gitgov/ tree to bootstrap from"}, nil
	}

	if err := git.CheckoutFilesFromBranch(ctx, stateBranch, []string{".gitgov"}); err != nil {
		return nil, errors.Wrap(err, "failed to checkout .gitgov from state branch")
	}
	if err := git.ResetMixed(ctx, []string{".gitgov"}); err != nil {
		return nil, errors.Wrap(err, "failed to unstage bootstrapped .gitgov")
	}

	return &Result{Success: true}, nil
}
