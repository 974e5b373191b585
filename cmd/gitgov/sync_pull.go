package main

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/config"
	"github.com/gitgov/sync/internal/sync/pull"
	"github.com/gitgov/sync/internal/utils/colors"
	"github.com/spf13/cobra"
)

var syncPullFlags struct {
	ForceReindex bool
	Force        bool
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "bring this branch's .gitgov/ up to date from the state branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := getRepo(ctx)
		if err != nil {
			return err
		}
		repoRoot, err := repo.RepoRoot(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to determine repository root")
		}

		cfg := config.New(repoRoot)
		stateBranch := getStateBranch(ctx, cfg)

		pipeline := pull.NewPipeline(repo, nil, stateBranch, repoRoot)
		result, err := pipeline.Pull(ctx, pull.Opts{
			ForceReindex: syncPullFlags.ForceReindex,
			Force:        syncPullFlags.Force,
		})
		if err != nil {
			return errors.Wrap(err, "sync pull failed")
		}

		if !result.Success {
			if result.ConflictDetected {
				fmt.Println(colors.Failure(fmt.Sprintf("pull blocked: %s", result.ConflictInfo.Message)))
				for _, step := range result.ConflictInfo.ResolutionSteps {
					fmt.Println("  -", step)
				}
				return errors.New("sync pull blocked by a conflict")
			}
			fmt.Println(colors.Failure(fmt.Sprintf("pull failed: %s", result.Error)))
			return errors.New(result.Error)
		}

		if !result.HasChanges {
			fmt.Println(colors.Success("already up to date"))
			return nil
		}
		fmt.Printf("%s %d file(s) updated from %s\n", colors.Success("pulled"), result.FilesUpdated, stateBranch)
		if result.Reindexed {
			fmt.Println("  reindexed")
		}
		return nil
	},
}

func init() {
	syncPullCmd.Flags().BoolVar(&syncPullFlags.ForceReindex, "force-reindex", false, "reindex even if nothing changed")
	syncPullCmd.Flags().BoolVar(&syncPullFlags.Force, "force", false, "override the usual pre-flight guards")
}
