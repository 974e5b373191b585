package resolve_test

import (
	"testing"

	"github.com/gitgov/sync/internal/sync/resolve"
	"github.com/gitgov/sync/internal/sync/statebranch"
	"github.com/gitgov/sync/internal/sync/syncerr"
	"github.com/gitgov/sync/internal/sync/synctest"
	"github.com/stretchr/testify/require"
)

func TestResolveNoRebaseInProgressReturnsError(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	identity := synctest.NewFakeIdentity("human:alice")
	indexer := &synctest.FakeIndexer{}
	p := resolve.NewPipeline(repo.Git, identity, indexer, repo.Dir)

	_, err := p.Resolve(synctest.Ctx(), resolve.Opts{ActorID: "human:alice", Reason: "test"})
	require.Error(t, err)
	var noRebase *syncerr.NoRebaseInProgressError
	require.ErrorAs(t, err, &noRebase)
}

// setupConflictedRebase creates a state branch with a record file, diverges
// it into two branches that both touch the same file, and rebases one onto
// the other so the repo is left with a real conflict and an in-progress
// rebase, mirroring what PullRebase leaves behind on §4.4 step 5.
func setupConflictedRebase(t *testing.T, repo *synctest.Repo) {
	t.Helper()
	ctx := synctest.Ctx()

	require.NoError(t, repo.Git.CheckoutOrphanBranch(ctx, statebranch.DefaultName))
	repo.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"x","signatures":[{"keyId":"human:alice","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"base"}}`)
	require.NoError(t, repo.Git.Add(ctx, []string{".gitgov"}, true))
	_, err := repo.Git.Commit(ctx, "base")
	require.NoError(t, err)

	repo.Run("branch", "theirs")

	repo.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"x","signatures":[{"keyId":"human:alice","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"ours"}}`)
	require.NoError(t, repo.Git.Add(ctx, []string{".gitgov"}, true))
	_, err = repo.Git.Commit(ctx, "ours")
	require.NoError(t, err)

	repo.Run("checkout", "theirs")
	repo.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"x","signatures":[{"keyId":"human:alice","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"theirs"}}`)
	repo.Run("add", "-A")
	repo.Run("commit", "-m", "theirs")

	repo.Run("checkout", statebranch.DefaultName)
	repo.RunAllowFail("rebase", "theirs")

	inProgress, err := repo.Git.IsRebaseInProgress(synctest.Ctx())
	require.NoError(t, err)
	require.True(t, inProgress, "expected rebase to be left in progress by the conflicting replay")
}

func TestResolveConflictMarkersPresentReturnsError(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	setupConflictedRebase(t, repo)

	// Leave the conflict markers in place and stage the file as-is.
	require.NoError(t, repo.Git.Add(synctest.Ctx(), []string{".gitgov"}, true))

	identity := synctest.NewFakeIdentity("human:alice")
	indexer := &synctest.FakeIndexer{}
	p := resolve.NewPipeline(repo.Git, identity, indexer, repo.Dir)

	_, err := p.Resolve(synctest.Ctx(), resolve.Opts{ActorID: "human:alice", Reason: "test"})
	require.Error(t, err)
	var markers *syncerr.ConflictMarkersPresentError
	require.ErrorAs(t, err, &markers)
	require.Equal(t, 0, identity.Calls())
}

func TestResolveHappyPathResignsAndContinues(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	setupConflictedRebase(t, repo)

	repo.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"x","signatures":[{"keyId":"human:alice","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"resolved"}}`)
	require.NoError(t, repo.Git.Add(synctest.Ctx(), []string{".gitgov"}, true))

	identity := synctest.NewFakeIdentity("human:bob")
	indexer := &synctest.FakeIndexer{}
	p := resolve.NewPipeline(repo.Git, identity, indexer, repo.Dir)

	result, err := p.Resolve(synctest.Ctx(), resolve.Opts{ActorID: "human:bob", Reason: "merge both edits"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.ConflictsResolved)
	require.Equal(t, "human:bob", result.ResolvedBy)
	require.NotEmpty(t, result.ResolutionCommitHash)
	require.Equal(t, 1, identity.Calls())

	inProgress, err := repo.Git.IsRebaseInProgress(synctest.Ctx())
	require.NoError(t, err)
	require.False(t, inProgress)
	require.Equal(t, 1, indexer.Calls)
}

func TestResolveNonGitgovConflictProducesZeroResolved(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	ctx := synctest.Ctx()

	// A tracked .gitgov/ file must exist so the pipeline's unconditional
	// `git add --force .gitgov` re-stage has a pathspec to match.
	repo.WriteFile(".gitgov/.keep", "")
	repo.WriteFile("README.md", "base\n")
	require.NoError(t, repo.Git.Add(ctx, []string{"."}, false))
	_, err := repo.Git.Commit(ctx, "base readme")
	require.NoError(t, err)

	repo.Run("branch", "theirs-readme")

	repo.WriteFile("README.md", "ours\n")
	require.NoError(t, repo.Git.Add(ctx, []string{"README.md"}, false))
	_, err = repo.Git.Commit(ctx, "ours readme")
	require.NoError(t, err)

	repo.Run("checkout", "theirs-readme")
	repo.WriteFile("README.md", "theirs\n")
	repo.Run("add", "-A")
	repo.Run("commit", "-m", "theirs readme")

	repo.Run("checkout", "main")
	repo.RunAllowFail("rebase", "theirs-readme")

	inProgress, err := repo.Git.IsRebaseInProgress(ctx)
	require.NoError(t, err)
	require.True(t, inProgress)

	repo.WriteFile("README.md", "resolved\n")
	require.NoError(t, repo.Git.Add(ctx, []string{"README.md"}, false))

	identity := synctest.NewFakeIdentity("human:alice")
	indexer := &synctest.FakeIndexer{}
	p := resolve.NewPipeline(repo.Git, identity, indexer, repo.Dir)

	result, err := p.Resolve(ctx, resolve.Opts{ActorID: "human:alice", Reason: "readme conflict"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 0, result.ConflictsResolved)
	require.Equal(t, 0, identity.Calls())
}
