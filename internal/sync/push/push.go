// Package push implements the push pipeline: pre-flight, audit,
// stash+preserve, checkout state, implicit pull-rebase, whitelist copy,
// commit, push, restore.
package push

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/gitshell"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/sync/audit"
	"github.com/gitgov/sync/internal/sync/delta"
	"github.com/gitgov/sync/internal/sync/preserve"
	"github.com/gitgov/sync/internal/sync/statebranch"
	"github.com/gitgov/sync/internal/sync/syncerr"
	"github.com/gitgov/sync/internal/sync/whitelist"
	"github.com/sirupsen/logrus"
)

// Opts configures a single pushState call.
type Opts struct {
	// SourceBranch is pushed from. If empty, the current branch is used.
	SourceBranch string
	ActorID      string
	DryRun       bool
	Force        bool
}

// ImplicitPullInfo reports the outcome of the implicit reconciliation step
// that runs against the state branch before publication.
type ImplicitPullInfo struct {
	HasChanges   bool
	FilesUpdated int
	Reindexed    bool
}

// Result is the outcome of a pushState call.
type Result struct {
	Success         bool
	FilesSynced     int
	SourceBranch    string
	CommitHash      string
	CommitMessage   string
	ConflictDetected bool
	ConflictInfo    *ports.ConflictInfo
	ImplicitPull    *ImplicitPullInfo
	Error           string
}

// Pipeline runs the push pipeline against a repository.
type Pipeline struct {
	Git             ports.Git
	Indexer         ports.Indexer
	Lint            ports.Lint
	StateBranchName string
	RepoRoot        string

	log logrus.FieldLogger
}

// NewPipeline constructs a push Pipeline.
func NewPipeline(git ports.Git, indexer ports.Indexer, lint ports.Lint, stateBranch, repoRoot string) *Pipeline {
	return &Pipeline{
		Git:             git,
		Indexer:         indexer,
		Lint:            lint,
		StateBranchName: stateBranch,
		RepoRoot:        repoRoot,
		log:             logrus.WithField("component", "sync.push"),
	}
}

// Push runs the full push pipeline: audit, preserve, checkout, implicit
// pull-rebase, whitelist copy, commit, publish, restore.
func (p *Pipeline) Push(ctx context.Context, opts Opts) (*Result, error) {
	source := opts.SourceBranch
	if source == "" {
		current, err := p.Git.CurrentBranch(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to determine current branch")
		}
		source = current
	}

	if source == p.StateBranchName {
		return nil, &syncerr.PushFromStateBranchError{Branch: p.StateBranchName}
	}

	remoteConfigured, err := p.Git.IsRemoteConfigured(ctx, statebranch.DefaultRemote)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check for a configured remote")
	}
	if !remoteConfigured {
		return &Result{Success: false, SourceBranch: source, Error: "no remote named \"origin\" is configured; add one with `git remote add origin <url>`"}, nil
	}

	history, err := p.Git.GetCommitHistory(ctx, source, 1)
	if err != nil || len(history) == 0 {
		return &Result{Success: false, SourceBranch: source, Error: fmt.Sprintf("branch %q has no commits to push", source)}, nil
	}

	// Phase 2: audit (scope=current).
	auditor := audit.New(p.Git, p.Lint, p.StateBranchName)
	auditReport, auditErr := auditor.AuditState(ctx, audit.Options{
		Scope:            audit.ScopeCurrent,
		VerifySignatures: true,
		VerifyChecksums:  true,
	})
	if auditErr == nil && !auditReport.Passed {
		return &Result{
			Success:          false,
			SourceBranch:     source,
			ConflictDetected: true,
			ConflictInfo: &ports.ConflictInfo{
				Type:            ports.ConflictIntegrityViolation,
				Message:         auditReport.Summary,
				ResolutionSteps: []string{"run `gitgov sync audit` for details", "run `gitgov sync resolve` if a rebase is in progress"},
			},
		}, nil
	}
	if auditErr != nil {
		p.log.WithError(auditErr).Debug("pre-flight audit could not run; proceeding without it")
	}

	// Phase 3: ensure state branch.
	if err := statebranch.EnsureStateBranch(ctx, p.Git, p.StateBranchName); err != nil {
		return nil, err
	}

	// Phase 4: preserve local tree + stash.
	scope, err := preserve.Acquire(ctx, p.Git, p.RepoRoot, source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to preserve working tree before push")
	}

	result, implicitPull, pushErr := p.runOnStateBranch(ctx, source, opts, scope)

	// Phase 8: restoration runs on every exit path.
	restoreErr := p.restore(ctx, scope, implicitPull)

	if pushErr != nil {
		return nil, combineRestoreError(pushErr, restoreErr)
	}
	if restoreErr != nil {
		result.Error = appendRestoreNote(result.Error, restoreErr)
	}
	return result, nil
}

// runOnStateBranch performs phases 5-7 (checkout, implicit reconciliation,
// publication) and returns to the caller without restoring -- restoration
// always happens in Push, regardless of how this returns.
func (p *Pipeline) runOnStateBranch(ctx context.Context, source string, opts Opts, scope *preserve.Scope) (*Result, *ImplicitPullInfo, error) {
	if _, err := p.Git.CheckoutBranch(ctx, p.StateBranchName); err != nil {
		return nil, nil, errors.Wrap(err, "failed to checkout state branch")
	}

	rebase, err := p.Git.PullRebase(ctx, statebranch.DefaultRemote, p.StateBranchName)
	implicit := &ImplicitPullInfo{}
	if err != nil {
		if !gitshell.IsRemoteUnreachable(err) {
			return nil, implicit, errors.Wrap(err, "implicit pull-rebase failed")
		}
	} else if rebase.Status == ports.RebaseConflict {
		_ = p.Git.RebaseAbort(ctx)
		return &Result{
			Success:          false,
			SourceBranch:     source,
			ConflictDetected: true,
			ConflictInfo: &ports.ConflictInfo{
				Type:            ports.ConflictRebase,
				AffectedFiles:   rebase.ConflictedFiles,
				Message:         "the state branch could not be rebased cleanly against origin",
				ResolutionSteps: resolutionSteps(),
			},
		}, implicit, nil
	} else if rebase.HasChanges() {
		filesUpdated, deltaErr := delta.CalculateStateDelta(ctx, p.Git, rebase.HeadBefore, rebase.HeadAfter)
		if deltaErr != nil {
			p.log.WithError(deltaErr).Debug("failed to compute implicit-pull delta size")
		}
		implicit.HasChanges = true
		implicit.FilesUpdated = len(filesUpdated)
	}

	return p.publish(ctx, source, opts, scope, implicit)
}

func (p *Pipeline) publish(ctx context.Context, source string, opts Opts, scope *preserve.Scope, implicit *ImplicitPullInfo) (*Result, *ImplicitPullInfo, error) {
	existingTree, err := p.Git.ListTree(ctx, p.StateBranchName, ".gitgov")
	if err != nil {
		return nil, implicit, errors.Wrap(err, "failed to inspect existing state-branch tree")
	}
	firstPush := len(existingTree) == 0

	var candidates []string
	if scope.HadTree() {
		candidates, err = listRelativeJSONPaths(scope.TempDir())
		if err != nil {
			return nil, implicit, errors.Wrap(err, "failed to enumerate preserved .gitgov tree")
		}
		if err := p.copyWhitelistedFromTemp(ctx, scope.TempDir(), candidates); err != nil {
			return nil, implicit, err
		}
	} else {
		sourceFiles, err := p.Git.ListTree(ctx, source, ".gitgov")
		if err != nil {
			return nil, implicit, errors.Wrap(err, "failed to list .gitgov tree on source branch")
		}
		candidates = toRelative(sourceFiles)
		whitelisted := whitelist.Filter(candidates)
		abs := make([]string, 0, len(whitelisted))
		for _, rel := range whitelisted {
			abs = append(abs, path.Join(".gitgov", rel))
		}
		if err := p.Git.CheckoutFilesFromBranch(ctx, source, abs); err != nil {
			return nil, implicit, errors.Wrap(err, "failed to checkout whitelisted files from source branch")
		}
	}

	if err := p.Git.Add(ctx, []string{".gitgov"}, true); err != nil {
		return nil, implicit, errors.Wrap(err, "failed to stage .gitgov")
	}
	if err := p.purgeNonWhitelisted(ctx); err != nil {
		return nil, implicit, err
	}

	staged, err := p.Git.GetStagedFileStatuses(ctx)
	if err != nil {
		return nil, implicit, errors.Wrap(err, "failed to list staged files")
	}
	if len(staged) == 0 {
		return &Result{Success: true, SourceBranch: source, FilesSynced: 0, CommitHash: ""}, implicit, nil
	}

	message := buildCommitMessage(source, opts.ActorID, staged, firstPush)

	if opts.DryRun {
		return &Result{Success: true, SourceBranch: source, FilesSynced: len(staged), CommitMessage: message}, implicit, nil
	}

	hash, err := p.Git.Commit(ctx, message)
	if err != nil {
		if errors.Is(err, gitshell.ErrNothingToCommit) {
			return &Result{Success: true, SourceBranch: source, FilesSynced: 0, CommitHash: ""}, implicit, nil
		}
		return nil, implicit, errors.Wrap(err, "failed to commit state branch changes")
	}

	if err := p.Git.Push(ctx, statebranch.DefaultRemote, p.StateBranchName); err != nil {
		if !gitshell.IsRemoteUnreachable(err) {
			return nil, implicit, errors.Wrap(err, "failed to push state branch")
		}
		p.log.WithError(err).Debug("tolerating unreachable remote; local commit is still valid")
	}

	return &Result{
		Success:       true,
		SourceBranch:  source,
		FilesSynced:   len(staged),
		CommitHash:    hash,
		CommitMessage: message,
	}, implicit, nil
}

func (p *Pipeline) copyWhitelistedFromTemp(ctx context.Context, tempDir string, candidates []string) error {
	whitelisted := whitelist.Filter(candidates)
	abs := make([]string, 0, len(whitelisted))
	for _, rel := range whitelisted {
		abs = append(abs, path.Join(".gitgov", rel))
	}
	_ = ctx
	_ = tempDir
	// copyTree from the temp dir onto .gitgov/ happens one path at a time so
	// only whitelisted files land on disk; preserve.Scope already holds the
	// full tree in tempDir for restoration later.
	return copyPaths(tempDir, p.RepoRoot, abs)
}

func (p *Pipeline) purgeNonWhitelisted(ctx context.Context) error {
	staged, err := p.Git.GetStagedFiles(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list staged files while enforcing whitelist")
	}
	var forbidden []string
	for _, f := range staged {
		if !strings.HasPrefix(f, ".gitgov/") {
			continue
		}
		rel := strings.TrimPrefix(f, ".gitgov/")
		if !whitelist.IsWhitelisted(rel) {
			forbidden = append(forbidden, f)
		}
	}
	if len(forbidden) == 0 {
		return nil
	}
	return p.Git.RemoveForce(ctx, forbidden)
}

func (p *Pipeline) restore(ctx context.Context, scope *preserve.Scope, implicit *ImplicitPullInfo) error {
	if _, err := p.Git.CheckoutBranch(ctx, scope.SavedBranch()); err != nil {
		return errors.WrapIff(err, "failed to return to branch %q after push", scope.SavedBranch())
	}

	if implicit != nil && implicit.HasChanges {
		if err := p.Git.CheckoutFilesFromBranch(ctx, p.StateBranchName, []string{".gitgov"}); err != nil {
			return errors.Wrap(err, "failed to bring pulled state files onto the work branch")
		}
		if err := scope.OverlayLocalOnly(localOnlyNames()); err != nil {
			return errors.Wrap(err, "failed to restore local-only files after push")
		}
	} else if err := scope.OverlayTempDir(); err != nil {
		return errors.Wrap(err, "failed to restore preserved .gitgov tree after push")
	}

	teardownErr := scope.Teardown(ctx)

	if implicit != nil && implicit.HasChanges && p.Indexer != nil {
		if _, err := p.Indexer.GenerateIndex(ctx); err != nil {
			p.log.WithError(err).Warn("reindex after implicit pull failed; continuing")
		} else {
			implicit.Reindexed = true
		}
	}

	return teardownErr
}

func localOnlyNames() []string {
	return []string{"index.json", ".session.json", "gitgov"}
}

func resolutionSteps() []string {
	return []string{
		"inspect the conflicting files listed above",
		"resolve the conflicts in place and stage the resolved files",
		"run `gitgov sync resolve` to re-sign the resolved records and continue",
	}
}

func buildCommitMessage(source, actorID string, staged []ports.StateDeltaFile, firstPush bool) string {
	var b strings.Builder
	if firstPush {
		fmt.Fprintf(&b, "sync: Initial state from %s\n\n", source)
	} else {
		fmt.Fprintf(&b, "sync: Publish state from %s\n\n", source)
	}
	fmt.Fprintf(&b, "Actor: %s\n", actorID)
	fmt.Fprintf(&b, "Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339))
	if firstPush {
		fmt.Fprintf(&b, "Files: %d file(s) synced (initial)\n\n", len(staged))
	} else {
		fmt.Fprintf(&b, "Files: %d file(s) changed\n\n", len(staged))
	}
	for _, f := range staged {
		fmt.Fprintf(&b, "%s %s\n", f.Status, f.File)
	}
	return strings.TrimRight(b.String(), "\n")
}

func combineRestoreError(primary, restore error) error {
	if restore == nil {
		return primary
	}
	return errors.WrapIff(primary, "restoration also failed: %v", restore)
}

func appendRestoreNote(primary string, restoreErr error) string {
	if primary == "" {
		return restoreErr.Error()
	}
	return primary + "; " + restoreErr.Error()
}

func toRelative(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, strings.TrimPrefix(p, ".gitgov/"))
	}
	return out
}
