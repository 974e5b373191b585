package statebranch_test

import (
	"testing"

	"github.com/gitgov/sync/internal/sync/statebranch"
	"github.com/gitgov/sync/internal/sync/synctest"
	"github.com/stretchr/testify/require"
)

func TestEnsureStateBranchCreatesFreshOrphanAndReturnsToWorkBranch(t *testing.T) {
	repo := synctest.NewTempRepo(t)

	err := statebranch.EnsureStateBranch(synctest.Ctx(), repo.Git, statebranch.DefaultName)
	require.NoError(t, err)

	current, err := repo.Git.CurrentBranch(synctest.Ctx())
	require.NoError(t, err)
	require.Equal(t, "main", current)

	exists, err := repo.Git.BranchExists(synctest.Ctx(), statebranch.DefaultName)
	require.NoError(t, err)
	require.True(t, exists)

	remoteBranches, err := repo.Git.ListRemoteBranches(synctest.Ctx(), statebranch.DefaultRemote)
	require.NoError(t, err)
	require.Contains(t, remoteBranches, statebranch.DefaultName)
}

func TestEnsureStateBranchIsIdempotent(t *testing.T) {
	repo := synctest.NewTempRepo(t)

	require.NoError(t, statebranch.EnsureStateBranch(synctest.Ctx(), repo.Git, statebranch.DefaultName))
	require.NoError(t, statebranch.EnsureStateBranch(synctest.Ctx(), repo.Git, statebranch.DefaultName))

	current, err := repo.Git.CurrentBranch(synctest.Ctx())
	require.NoError(t, err)
	require.Equal(t, "main", current)
}

func TestEnsureStateBranchOnFreshCloneTracksRemote(t *testing.T) {
	origin := synctest.NewTempRepo(t)
	require.NoError(t, statebranch.EnsureStateBranch(synctest.Ctx(), origin.Git, statebranch.DefaultName))

	clone := origin.CloneRemote(t)
	err := statebranch.EnsureStateBranch(synctest.Ctx(), clone.Git, statebranch.DefaultName)
	require.NoError(t, err)

	exists, err := clone.Git.BranchExists(synctest.Ctx(), statebranch.DefaultName)
	require.NoError(t, err)
	require.True(t, exists)

	remote, err := clone.Git.GetBranchRemote(synctest.Ctx(), statebranch.DefaultName)
	require.NoError(t, err)
	require.Equal(t, statebranch.DefaultRemote, remote)

	current, err := clone.Git.CurrentBranch(synctest.Ctx())
	require.NoError(t, err)
	require.Equal(t, "main", current)
}

func TestGetStateBranchNameDefaultsWhenConfigIsNil(t *testing.T) {
	require.Equal(t, statebranch.DefaultName, statebranch.GetStateBranchName(synctest.Ctx(), nil))
}
