package delta_test

import (
	"strings"
	"testing"

	"github.com/gitgov/sync/internal/sync/delta"
	"github.com/gitgov/sync/internal/sync/synctest"
	"github.com/stretchr/testify/require"
)

func TestCalculateStateDeltaReportsAddedAndModifiedGitgovFiles(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	before := repo.Run("rev-parse", "HEAD")

	repo.WriteFile(".gitgov/tasks/1.json", `{"title":"first"}`)
	repo.WriteFile("notes.txt", "not part of .gitgov")
	repo.Run("add", ".")
	repo.Run("commit", "-m", "add task 1")

	repo.WriteFile(".gitgov/tasks/1.json", `{"title":"first, edited"}`)
	repo.Run("add", ".gitgov")
	repo.Run("commit", "-m", "edit task 1")
	after := repo.Run("rev-parse", "HEAD")

	files, err := delta.CalculateStateDelta(synctest.Ctx(), repo.Git, strings.TrimSpace(before), strings.TrimSpace(after))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "tasks/1.json", files[0].File)
}

func TestCalculateStateDeltaIgnoresNonGitgovChanges(t *testing.T) {
	repo := synctest.NewTempRepo(t)
	before := repo.Run("rev-parse", "HEAD")

	repo.WriteFile("README.md", "# updated")
	repo.Run("add", ".")
	repo.Run("commit", "-m", "update readme only")
	after := repo.Run("rev-parse", "HEAD")

	files, err := delta.CalculateStateDelta(synctest.Ctx(), repo.Git, strings.TrimSpace(before), strings.TrimSpace(after))
	require.NoError(t, err)
	require.Empty(t, files)
}
