// Package pull implements the pull pipeline: pre-flight, save local-only
// files, checkout state, pull-rebase, reindex, restore work branch and
// files (spec §4.4).
package pull

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/gitshell"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/sync/delta"
	"github.com/gitgov/sync/internal/sync/statebranch"
	"github.com/gitgov/sync/internal/sync/syncerr"
	"github.com/gitgov/sync/internal/sync/whitelist"
	"github.com/gitgov/sync/internal/utils/sliceutils"
	"github.com/sirupsen/logrus"
)

// Opts configures a single pullState call.
type Opts struct {
	ForceReindex bool
	Force        bool
}

// Result is the outcome of a pullState call.
type Result struct {
	Success          bool
	HasChanges       bool
	FilesUpdated     int
	Reindexed        bool
	ConflictDetected bool
	ConflictInfo     *ports.ConflictInfo
	Error            string
}

// Pipeline runs the pull pipeline against a repository.
type Pipeline struct {
	Git             ports.Git
	Indexer         ports.Indexer
	StateBranchName string
	RepoRoot        string

	log logrus.FieldLogger
}

// NewPipeline constructs a pull Pipeline.
func NewPipeline(git ports.Git, indexer ports.Indexer, stateBranch, repoRoot string) *Pipeline {
	return &Pipeline{
		Git:             git,
		Indexer:         indexer,
		StateBranchName: stateBranch,
		RepoRoot:        repoRoot,
		log:             logrus.WithField("component", "sync.pull"),
	}
}

// Pull runs the full pull pipeline.
func (p *Pipeline) Pull(ctx context.Context, opts Opts) (*Result, error) {
	remoteConfigured, err := p.Git.IsRemoteConfigured(ctx, statebranch.DefaultRemote)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check for a configured remote")
	}
	if !remoteConfigured {
		return &Result{Success: false, Error: "no remote named \"origin\" is configured; add one with `git remote add origin <url>`"}, nil
	}

	_ = p.Git.Fetch(ctx, statebranch.DefaultRemote)

	remoteBranches, err := p.Git.ListRemoteBranches(ctx, statebranch.DefaultRemote)
	remoteExists := err == nil && sliceutils.Contains(remoteBranches, p.StateBranchName)
	if !remoteExists {
		localExists, err := p.Git.BranchExists(ctx, p.StateBranchName)
		if err != nil {
			return nil, errors.Wrap(err, "failed to check local state-branch existence")
		}
		if localExists {
			return &Result{Success: true, HasChanges: false, FilesUpdated: 0}, nil
		}
		if p.hasLocalGitgov() {
			return &Result{Success: false, Error: "no remote state branch found; run `gitgov sync push` first to publish one"}, nil
		}
		return &Result{Success: false, Error: "no state branch found locally or remotely; run `gitgov init`"}, nil
	}

	// Phase 2: ensure state branch, save current branch.
	if err := statebranch.EnsureStateBranch(ctx, p.Git, p.StateBranchName); err != nil {
		return nil, err
	}
	savedBranch, err := p.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to determine current branch")
	}

	// Phase 3: save local-only files into memory.
	saved := p.saveLocalOnlyFiles()

	result, resultErr := p.runOnStateBranch(ctx, opts, savedBranch, saved)
	if resultErr != nil {
		// Always attempt to return to the work branch, even though the
		// state-branch phase failed outright.
		if _, err := p.Git.CheckoutBranch(ctx, savedBranch); err != nil {
			return nil, errors.WrapIff(resultErr, "additionally failed to return to %q: %v", savedBranch, err)
		}
		return nil, resultErr
	}

	if result.ConflictDetected {
		// Stay on the state branch with the rebase paused so `gitgov sync
		// resolve` can pick it up there. Checking out the work branch now
		// would either be refused (unmerged index entries from the
		// conflict) or, if forced, abandon the paused rebase outright.
		return result, nil
	}

	if _, err := p.Git.CheckoutBranch(ctx, savedBranch); err != nil {
		return nil, errors.WrapIff(err, "failed to return to branch %q after pull", savedBranch)
	}

	// Phase 8: bring whitelisted paths back onto the work branch.
	if err := p.restoreWorkBranch(ctx, saved); err != nil {
		return nil, errors.Wrap(err, "failed to restore work branch after pull")
	}

	// Phase 9: reindex.
	shouldReindex := result.HasChanges || opts.ForceReindex
	if shouldReindex && p.Indexer != nil {
		if _, err := p.Indexer.GenerateIndex(ctx); err != nil {
			p.log.WithError(err).Warn("reindex after pull failed; continuing")
		} else {
			result.Reindexed = true
		}
	}

	return result, nil
}

// runOnStateBranch performs phases 4-7: checkout the state branch, sanity
// check it, pull-rebase, and classify the result. It leaves the caller on
// the state branch; Pull checks back out afterward, except on a conflict
// result, where it stays on the state branch with the rebase paused.
func (p *Pipeline) runOnStateBranch(ctx context.Context, opts Opts, savedBranch string, saved map[string][]byte) (*Result, error) {
	if _, err := p.Git.CheckoutBranch(ctx, p.StateBranchName); err != nil {
		if !isUntrackedOverlapError(err) {
			return nil, errors.Wrap(err, "failed to checkout state branch")
		}
		if _, err := p.Git.CheckoutBranchForce(ctx, p.StateBranchName); err != nil {
			return nil, errors.Wrap(err, "failed to force-checkout state branch")
		}
	}

	dirty, err := p.Git.HasUncommittedChanges(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check state-branch status")
	}
	if dirty {
		return nil, &syncerr.UncommittedChangesError{Branch: p.StateBranchName}
	}

	headBefore, err := headOf(ctx, p.Git, p.StateBranchName)
	if err != nil {
		p.log.WithError(err).Debug("failed to resolve state-branch HEAD before pull")
	}

	_ = p.Git.Fetch(ctx, statebranch.DefaultRemote)

	rebase, err := p.Git.PullRebase(ctx, statebranch.DefaultRemote, p.StateBranchName)
	if err != nil {
		if gitshell.IsRemoteUnreachable(err) {
			return &Result{Success: true, HasChanges: false, FilesUpdated: 0}, nil
		}
		return nil, errors.Wrap(err, "pull-rebase failed")
	}
	if rebase.Status == ports.RebaseConflict {
		// Leave the rebase paused; the operator resolves it via
		// `gitgov sync resolve`.
		return &Result{
			Success:          false,
			ConflictDetected: true,
			ConflictInfo: &ports.ConflictInfo{
				Type:            ports.ConflictRebase,
				AffectedFiles:   rebase.ConflictedFiles,
				Message:         "the state branch could not be rebased cleanly against origin",
				ResolutionSteps: resolutionSteps(),
			},
		}, nil
	}

	hasChanges := rebase.HasChanges()
	filesUpdated := 0
	if hasChanges {
		files, err := delta.CalculateStateDelta(ctx, p.Git, rebase.HeadBefore, rebase.HeadAfter)
		if err != nil {
			p.log.WithError(err).Debug("failed to compute pull delta size")
		} else {
			filesUpdated = len(files)
		}
	} else if headBefore != "" {
		headAfter, err := headOf(ctx, p.Git, p.StateBranchName)
		if err == nil {
			hasChanges = headAfter != headBefore
		}
	}

	return &Result{Success: true, HasChanges: hasChanges, FilesUpdated: filesUpdated}, nil
}

func (p *Pipeline) restoreWorkBranch(ctx context.Context, saved map[string][]byte) error {
	whitelisted := whitelist.Filter(p.listStateBranchGitgov(ctx))
	paths := make([]string, 0, len(whitelisted))
	for _, rel := range whitelisted {
		paths = append(paths, ".gitgov/"+rel)
	}
	if err := p.Git.CheckoutFilesFromBranch(ctx, p.StateBranchName, paths); err != nil {
		return errors.Wrap(err, "failed to checkout whitelisted files from state branch")
	}
	if err := p.Git.ResetMixed(ctx, []string{".gitgov"}); err != nil {
		p.log.WithError(err).Debug("failed to unstage .gitgov after pull")
	}
	return p.writeLocalOnlyFiles(saved)
}

func (p *Pipeline) listStateBranchGitgov(ctx context.Context) []string {
	tree, err := p.Git.ListTree(ctx, p.StateBranchName, ".gitgov")
	if err != nil {
		p.log.WithError(err).Debug("failed to list state-branch .gitgov tree")
		return nil
	}
	out := make([]string, 0, len(tree))
	for _, f := range tree {
		out = append(out, strings.TrimPrefix(f, ".gitgov/"))
	}
	return out
}

func (p *Pipeline) hasLocalGitgov() bool {
	_, err := os.Stat(filepath.Join(p.RepoRoot, ".gitgov"))
	return err == nil
}

// saveLocalOnlyFiles reads every whitelist.LocalOnlyFiles entry from disk
// into memory, ignoring ones that don't exist.
func (p *Pipeline) saveLocalOnlyFiles() map[string][]byte {
	saved := make(map[string][]byte)
	gitgovDir := filepath.Join(p.RepoRoot, ".gitgov")
	for _, name := range whitelist.LocalOnlyFiles {
		data, err := os.ReadFile(filepath.Join(gitgovDir, name))
		if err != nil {
			continue
		}
		saved[name] = data
	}
	return saved
}

func (p *Pipeline) writeLocalOnlyFiles(saved map[string][]byte) error {
	if len(saved) == 0 {
		return nil
	}
	gitgovDir := filepath.Join(p.RepoRoot, ".gitgov")
	if err := os.MkdirAll(gitgovDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to recreate .gitgov")
	}
	for name, data := range saved {
		if err := os.WriteFile(filepath.Join(gitgovDir, name), data, 0o644); err != nil {
			return errors.WrapIff(err, "failed to restore local-only file %q", name)
		}
	}
	return nil
}

func headOf(ctx context.Context, git ports.Git, branch string) (string, error) {
	history, err := git.GetCommitHistory(ctx, branch, 1)
	if err != nil || len(history) == 0 {
		return "", err
	}
	return history[0].Hash, nil
}

func isUntrackedOverlapError(err error) bool {
	return gitshell.StderrContains(err, "would be overwritten by checkout") ||
		gitshell.StderrContains(err, "untracked working tree files")
}

func resolutionSteps() []string {
	return []string{
		"inspect the conflicting files listed above",
		"resolve the conflicts in place and stage the resolved files",
		"run `gitgov sync resolve` to re-sign the resolved records and continue",
	}
}
