// Package resolve implements the resolve pipeline: re-sign staged records,
// continue the paused rebase, and create a signed resolution commit (spec
// §4.5).
package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/record"
	"github.com/gitgov/sync/internal/sync/syncerr"
	"github.com/sirupsen/logrus"
)

// Opts configures a single resolveConflict call.
type Opts struct {
	ActorID string
	Reason  string
}

// Result is the outcome of a resolveConflict call.
type Result struct {
	Success            bool
	RebaseCommitHash   string
	ResolutionCommitHash string
	ConflictsResolved  int
	ResolvedBy         string
	Reason             string
}

// Pipeline runs the resolve pipeline against a repository.
type Pipeline struct {
	Git      ports.Git
	Identity ports.Identity
	Indexer  ports.Indexer
	RepoRoot string

	log logrus.FieldLogger
}

// NewPipeline constructs a resolve Pipeline.
func NewPipeline(git ports.Git, identity ports.Identity, indexer ports.Indexer, repoRoot string) *Pipeline {
	return &Pipeline{
		Git:      git,
		Identity: identity,
		Indexer:  indexer,
		RepoRoot: repoRoot,
		log:      logrus.WithField("component", "sync.resolve"),
	}
}

// Resolve re-signs the staged records of a paused rebase and continues it.
func (p *Pipeline) Resolve(ctx context.Context, opts Opts) (*Result, error) {
	inProgress, err := p.Git.IsRebaseInProgress(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check rebase status")
	}
	if !inProgress {
		return nil, &syncerr.NoRebaseInProgressError{}
	}

	staged, err := p.Git.GetStagedFiles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list staged files")
	}

	recordFiles := make([]string, 0, len(staged))
	for _, f := range staged {
		if isGitgovJSON(f) {
			recordFiles = append(recordFiles, f)
		}
	}

	markerFiles, err := p.filesWithConflictMarkers(recordFiles)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan staged files for conflict markers")
	}
	if len(markerFiles) > 0 {
		return nil, &syncerr.ConflictMarkersPresentError{Files: markerFiles}
	}

	if err := p.reSignRecords(ctx, recordFiles, opts.ActorID); err != nil {
		return nil, err
	}

	if err := p.Git.Add(ctx, []string{".gitgov"}, true); err != nil {
		return nil, errors.Wrap(err, "failed to re-stage .gitgov after re-signing")
	}

	rebaseResult, err := p.Git.RebaseContinue(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to continue rebase")
	}
	if rebaseResult.Status == ports.RebaseConflict {
		return nil, &syncerr.ConflictMarkersPresentError{Files: rebaseResult.ConflictedFiles}
	}
	rebaseHash, err := headHash(ctx, p.Git)
	if err != nil {
		p.log.WithError(err).Debug("failed to read rebase-continuation commit hash")
	}

	message := buildResolutionCommitMessage(opts.ActorID, opts.Reason, len(recordFiles))
	resolutionHash, err := p.Git.CommitAllowEmpty(ctx, message)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolution commit")
	}

	if p.Indexer != nil {
		if _, err := p.Indexer.GenerateIndex(ctx); err != nil {
			p.log.WithError(err).Warn("reindex after resolve failed; continuing")
		}
	}

	return &Result{
		Success:              true,
		RebaseCommitHash:     rebaseHash,
		ResolutionCommitHash: resolutionHash,
		ConflictsResolved:    len(recordFiles),
		ResolvedBy:           opts.ActorID,
		Reason:               opts.Reason,
	}, nil
}

// reSignRecords re-signs every staged record file that parses as a valid
// {header, payload} envelope. Non-JSON and legacy-shape files are silently
// skipped, per §4.5 step 4.
func (p *Pipeline) reSignRecords(ctx context.Context, recordFiles []string, actorID string) error {
	for _, rel := range recordFiles {
		abs := filepath.Join(p.RepoRoot, rel)
		data, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.WrapIff(err, "failed to read staged record %q", rel)
		}

		r, err := record.Parse(data)
		if err != nil {
			p.log.WithField("file", rel).Debug("skipping non-record staged file during resolve")
			continue
		}

		signed, err := p.Identity.SignRecord(ctx, r, actorID, "resolver")
		if err != nil {
			return errors.WrapIff(err, "failed to sign resolved record %q", rel)
		}

		out, err := record.Marshal(signed)
		if err != nil {
			return errors.WrapIff(err, "failed to marshal resolved record %q", rel)
		}
		if err := os.WriteFile(abs, out, 0o644); err != nil {
			return errors.WrapIff(err, "failed to write resolved record %q", rel)
		}
	}
	return nil
}

func (p *Pipeline) filesWithConflictMarkers(recordFiles []string) ([]string, error) {
	var marked []string
	for _, rel := range recordFiles {
		data, err := os.ReadFile(filepath.Join(p.RepoRoot, rel))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if record.HasConflictMarkers(data) {
			marked = append(marked, rel)
		}
	}
	return marked, nil
}

func isGitgovJSON(relPath string) bool {
	return strings.HasPrefix(relPath, ".gitgov/") && strings.HasSuffix(relPath, ".json")
}

func headHash(ctx context.Context, git ports.Git) (string, error) {
	history, err := git.GetCommitHistory(ctx, "HEAD", 1)
	if err != nil || len(history) == 0 {
		return "", err
	}
	return history[0].Hash, nil
}

func buildResolutionCommitMessage(actorID, reason string, filesResolved int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "resolution: Conflict resolved by %s\n\n", actorID)
	fmt.Fprintf(&b, "Actor: %s\n", actorID)
	fmt.Fprintf(&b, "Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	fmt.Fprintf(&b, "Files: %d file(s) resolved\n\n", filesResolved)
	fmt.Fprintf(&b, "Signed-off-by: %s", actorID)
	return b.String()
}
