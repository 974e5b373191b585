package main

import (
	"context"
	"fmt"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/config"
	"github.com/gitgov/sync/internal/identity"
	"github.com/gitgov/sync/internal/lint"
	"github.com/gitgov/sync/internal/sync/push"
	"github.com/gitgov/sync/internal/utils/colors"
	"github.com/spf13/cobra"
)

var syncPushFlags struct {
	DryRun bool
	Force  bool
	Actor  string
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "publish this branch's .gitgov/ state onto the state branch",
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
		actorID, err := resolveActor(ctx, repoRoot, syncPushFlags.Actor)
		if err != nil {
			return err
		}

		pipeline := push.NewPipeline(repo, nil, lint.New(repoRoot), stateBranch, repoRoot)
		result, err := pipeline.Push(ctx, push.Opts{
			ActorID: actorID,
			DryRun:  syncPushFlags.DryRun,
			Force:   syncPushFlags.Force,
		})
		if err != nil {
			return errors.Wrap(err, "sync push failed")
		}

		if !result.Success {
			if result.ConflictDetected {
				fmt.Println(colors.Failure(fmt.Sprintf("push blocked: %s", result.ConflictInfo.Message)))
				for _, step := range result.ConflictInfo.ResolutionSteps {
					fmt.Println("  -", step)
				}
				return errors.New("sync push blocked by a conflict")
			}
			fmt.Println(colors.Failure(fmt.Sprintf("push failed: %s", result.Error)))
			return errors.New(result.Error)
		}

		if result.FilesSynced == 0 {
			fmt.Println(colors.Success("gitgov-state already up to date, nothing to push"))
			return nil
		}
		fmt.Printf("%s %d file(s) synced from %s to %s\n",
			colors.Success("pushed"), result.FilesSynced, result.SourceBranch, stateBranch)
		if result.CommitHash != "" {
			fmt.Println("  commit:", result.CommitHash)
		}
		return nil
	},
}

func init() {
	syncPushCmd.Flags().BoolVar(&syncPushFlags.DryRun, "dry-run", false, "compute the push without committing or publishing it")
	syncPushCmd.Flags().BoolVar(&syncPushFlags.Force, "force", false, "override the usual pre-flight guards")
	syncPushCmd.Flags().StringVar(&syncPushFlags.Actor, "actor", "", "actor id recorded on the publish commit (defaults to the local git identity)")
}

// resolveActor returns the explicit --actor flag if set, else the actor
// derived from the local git identity.
func resolveActor(ctx context.Context, repoRoot, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	id := identity.New(repoRoot, filepath.Join(repoRoot, ".git"))
	actor, err := id.GetCurrentActor(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to determine actor identity")
	}
	return actor.ID, nil
}
