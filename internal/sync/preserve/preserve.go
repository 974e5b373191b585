// Package preserve implements the working-tree preservation scope: an
// RAII-style helper that copies .gitgov/ aside to a temp directory and
// stashes any uncommitted changes, untracked files included, before the push pipeline checks
// out the state branch, then guarantees cleanup (stash-pop + temp-dir
// removal) on every exit path.
package preserve

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/google/uuid"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/utils/cleanup"
	"github.com/sirupsen/logrus"
)

// Scope tracks the (tempDir, stashRef, savedBranch) triple for a single
// pipeline invocation.
type Scope struct {
	git         ports.Git
	repoRoot    string
	tempDir     string
	stashRef    string
	savedBranch string
	hadTree     bool
	log         logrus.FieldLogger
}

// Acquire preserves the current state of .gitgov/ (if present) by copying
// it to a fresh, unique temp directory, then stashes any uncommitted
// changes in the working tree, untracked (non-ignored) files included.
// savedBranch is recorded purely for
// the caller's convenience (it's whatever branch was checked out when
// Acquire was called).
func Acquire(ctx context.Context, git ports.Git, repoRoot, savedBranch string) (*Scope, error) {
	s := &Scope{
		git:         git,
		repoRoot:    repoRoot,
		savedBranch: savedBranch,
		log:         logrus.WithField("component", "preserve"),
	}

	// unwind undoes whatever partial preservation work Acquire has done so
	// far if a later step fails; it's cancelled once Acquire fully succeeds.
	var unwind cleanup.Cleanup
	defer unwind.Cleanup()

	gitgovDir := filepath.Join(repoRoot, ".gitgov")
	if _, err := os.Stat(gitgovDir); err == nil {
		s.hadTree = true
		tempDir, err := os.MkdirTemp("", "gitgov-sync-preserve-"+uuid.NewString())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create preservation temp dir")
		}
		unwind.Add(func() { _ = os.RemoveAll(tempDir) })
		if err := copyTree(gitgovDir, tempDir); err != nil {
			return nil, errors.Wrap(err, "failed to preserve .gitgov tree")
		}
		s.tempDir = tempDir
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to stat .gitgov")
	}

	dirty, err := git.HasUncommittedChanges(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check working tree status")
	}
	if dirty {
		ref, err := git.Stash(ctx, "gitgov-sync: preserving working tree for state sync")
		if err != nil {
			return nil, errors.Wrap(err, "failed to stash working tree changes")
		}
		s.stashRef = ref
	}

	unwind.Cancel()
	return s, nil
}

// TempDir returns the path .gitgov/ was copied to, or "" if there was no
// .gitgov/ directory to preserve.
func (s *Scope) TempDir() string { return s.tempDir }

// HadTree reports whether .gitgov/ existed on disk at Acquire time.
func (s *Scope) HadTree() bool { return s.hadTree }

// HasStash reports whether Acquire stashed any changes.
func (s *Scope) HasStash() bool { return s.stashRef != "" }

// SavedBranch returns the branch name recorded at Acquire time.
func (s *Scope) SavedBranch() string { return s.savedBranch }

// OverlayTempDir copies the entire preserved tree back onto .gitgov/,
// overwriting anything already there. Used when the push pipeline didn't
// pull any new state-branch content and can simply restore what was there
// before.
func (s *Scope) OverlayTempDir() error {
	if s.tempDir == "" {
		return nil
	}
	return copyTree(s.tempDir, filepath.Join(s.repoRoot, ".gitgov"))
}

// OverlayLocalOnly copies just the given local-only file names from the
// preserved tree back onto .gitgov/. Used when the push pipeline did pull
// new state-branch content: the newly pulled files should win, but local-
// only files (keys, session state, the binary) must still be restored.
func (s *Scope) OverlayLocalOnly(names []string) error {
	if s.tempDir == "" {
		return nil
	}
	dst := filepath.Join(s.repoRoot, ".gitgov")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return errors.Wrap(err, "failed to recreate .gitgov")
	}
	for _, name := range names {
		src := filepath.Join(s.tempDir, name)
		info, err := os.Stat(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.WrapIff(err, "failed to stat preserved %q", name)
		}
		if info.IsDir() {
			if err := copyTree(src, filepath.Join(dst, name)); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(src, filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	return nil
}

// Teardown pops the stash (if any) and removes the temp dir (if any). It
// never silently swallows a stash-pop failure: instead it returns that
// failure so the caller can annotate (not replace) the pipeline's primary
// error.
func (s *Scope) Teardown(ctx context.Context) error {
	var teardownErr error
	if s.stashRef != "" {
		if err := s.git.StashPop(ctx, s.stashRef); err != nil {
			s.log.WithError(err).Warn("failed to pop stash during teardown")
			teardownErr = errors.WrapIff(err, "failed to restore stashed changes (stash ref %s); restore manually with `git stash pop`", s.stashRef)
		}
	}
	if s.tempDir != "" {
		if err := os.RemoveAll(s.tempDir); err != nil {
			s.log.WithError(err).Warn("failed to remove preservation temp dir")
		}
	}
	return teardownErr
}

func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	info, err := os.Stat(src)
	mode := fs.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	return os.WriteFile(dst, data, mode)
}
