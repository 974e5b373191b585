package push_test

import (
	"testing"

	"github.com/gitgov/sync/internal/sync/push"
	"github.com/gitgov/sync/internal/sync/statebranch"
	"github.com/gitgov/sync/internal/sync/syncerr"
	"github.com/gitgov/sync/internal/sync/synctest"
	"github.com/stretchr/testify/require"
)

func TestPushFirstPushHappyPath(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	repo.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"x","signatures":[{"keyId":"human:alice","role":"author","signature":"sig","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"write docs"}}`)
	repo.WriteFile(".gitgov/config.json", `{"state":{"branch":"gitgov-state"}}`)

	indexer := &synctest.FakeIndexer{}
	lint := synctest.NewFakeLint(repo.Dir)
	p := push.NewPipeline(repo.Git, indexer, lint, statebranch.DefaultName, repo.Dir)

	result, err := p.Push(synctest.Ctx(), push.Opts{ActorID: "human:alice"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.GreaterOrEqual(t, result.FilesSynced, 2)
	require.NotEmpty(t, result.CommitHash)
	require.Contains(t, result.CommitMessage, "Initial state from main")
	require.Contains(t, result.CommitMessage, "Actor: human:alice")

	ctx := synctest.Ctx()
	tree, err := repo.Git.ListTree(ctx, statebranch.DefaultName, ".gitgov")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{".gitgov/tasks/1.json", ".gitgov/config.json"}, tree)
}

func TestPushWhitelistEnforcement(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	repo.WriteFile(".gitgov/builds/out.js", "console.log(1)")
	repo.WriteFile(".gitgov/scripts/helper.sh", "#!/bin/sh")
	repo.WriteFile(".gitgov/.gitignore", "*.log")
	repo.WriteFile(".gitgov/file.backup-001", "{}")
	repo.WriteFile(".gitgov/temp.tmp", "{}")
	repo.WriteFile(".gitgov/tasks/t.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"x","signatures":[{"keyId":"a","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{}}`)
	repo.WriteFile(".gitgov/config.json", `{}`)

	indexer := &synctest.FakeIndexer{}
	lint := synctest.NewFakeLint(repo.Dir)
	p := push.NewPipeline(repo.Git, indexer, lint, statebranch.DefaultName, repo.Dir)

	result, err := p.Push(synctest.Ctx(), push.Opts{ActorID: "human:alice"})
	require.NoError(t, err)
	require.True(t, result.Success)

	ctx := synctest.Ctx()
	_, _ = repo.Git.CheckoutBranch(ctx, statebranch.DefaultName)
	tree, err := repo.Git.ListTree(ctx, statebranch.DefaultName, ".gitgov")
	require.NoError(t, err)
	require.Contains(t, tree, ".gitgov/tasks/t.json")
	require.Contains(t, tree, ".gitgov/config.json")
	require.NotContains(t, tree, ".gitgov/builds/out.js")
	require.NotContains(t, tree, ".gitgov/scripts/helper.sh")
	require.NotContains(t, tree, ".gitgov/.gitignore")
	require.NotContains(t, tree, ".gitgov/file.backup-001")
	require.NotContains(t, tree, ".gitgov/temp.tmp")
	_, _ = repo.Git.CheckoutBranch(ctx, "main")
}

func TestPushFromStateBranchFails(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	ctx := synctest.Ctx()
	require.NoError(t, repo.Git.CheckoutOrphanBranch(ctx, statebranch.DefaultName))
	_, err := repo.Git.CommitAllowEmpty(ctx, "Initialize state branch")
	require.NoError(t, err)

	indexer := &synctest.FakeIndexer{}
	lint := synctest.NewFakeLint(repo.Dir)
	p := push.NewPipeline(repo.Git, indexer, lint, statebranch.DefaultName, repo.Dir)

	_, err = p.Push(ctx, push.Opts{ActorID: "human:alice"})
	require.Error(t, err)
	var pushErr *syncerr.PushFromStateBranchError
	require.ErrorAs(t, err, &pushErr)
	require.Equal(t, statebranch.DefaultName, pushErr.Branch)
}

// TestPushImplicitPullReconcilesRemoteChangesAndReindexes covers the case
// where another contributor has already advanced the state branch on
// origin: the second push's implicit pull-rebase must pick up their commit,
// report it through ImplicitPull, and trigger a reindex, all before
// publishing the local edit (spec §4.3 step 6).
func TestPushImplicitPullReconcilesRemoteChangesAndReindexes(t *testing.T) {
	ctx := synctest.Ctx()
	repoA := synctest.NewTempRepo(t)
	repoA.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"749f06339865df419654840b89f1faf798c789fa330af4e70927caec0eabee51","signatures":[{"keyId":"human:alice","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"write docs"}}`)

	indexerA := &synctest.FakeIndexer{}
	lintA := synctest.NewFakeLint(repoA.Dir)
	pA := push.NewPipeline(repoA.Git, indexerA, lintA, statebranch.DefaultName, repoA.Dir)

	first, err := pA.Push(ctx, push.Opts{ActorID: "human:alice"})
	require.NoError(t, err)
	require.True(t, first.Success)

	// A second contributor clones the shared remote, which already carries
	// the state branch published above, and pushes a new record directly.
	repoB := repoA.CloneRemote(t)
	repoB.Run("checkout", "-b", statebranch.DefaultName, "origin/"+statebranch.DefaultName)
	repoB.WriteFile(".gitgov/tasks/2.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"26f31ceb665ad7571df9cffadcdaf049d341a3ca55b9502e2174de73fb2ff6e1","signatures":[{"keyId":"human:bob","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"task2 from contributor b"}}`)
	repoB.Run("add", ".gitgov")
	repoB.Run("commit", "-m", "add task 2")
	repoB.Run("push", "origin", statebranch.DefaultName)

	// Back on repoA's source branch, edit the first record locally.
	repoA.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"cd5fd5528317e9c04c81b171f93f36119d83bdf89766943b204adaca21217b88","signatures":[{"keyId":"human:alice","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"updated by a"}}`)

	second, err := pA.Push(ctx, push.Opts{ActorID: "human:alice"})
	require.NoError(t, err)
	require.True(t, second.Success)
	require.NotNil(t, second.ImplicitPull)
	require.True(t, second.ImplicitPull.HasChanges)
	require.Equal(t, 1, second.ImplicitPull.FilesUpdated)
	require.True(t, second.ImplicitPull.Reindexed)
	require.Equal(t, 1, indexerA.Calls)

	tree, err := repoA.Git.ListTree(ctx, statebranch.DefaultName, ".gitgov")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{".gitgov/tasks/1.json", ".gitgov/tasks/2.json"}, tree)
	require.Contains(t, repoA.ReadFile(".gitgov/tasks/2.json"), "task2 from contributor b")
}

func TestPushTwiceInSuccessionIsNoOpSecondTime(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	repo.WriteFile(".gitgov/tasks/1.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a","signatures":[{"keyId":"a","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{}}`)

	indexer := &synctest.FakeIndexer{}
	lint := synctest.NewFakeLint(repo.Dir)
	p := push.NewPipeline(repo.Git, indexer, lint, statebranch.DefaultName, repo.Dir)

	first, err := p.Push(synctest.Ctx(), push.Opts{ActorID: "human:alice"})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := p.Push(synctest.Ctx(), push.Opts{ActorID: "human:alice"})
	require.NoError(t, err)
	require.True(t, second.Success)
	require.Equal(t, 0, second.FilesSynced)
	require.Empty(t, second.CommitHash)
}
