package main

import (
	"fmt"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/identity"
	"github.com/gitgov/sync/internal/sync/resolve"
	"github.com/gitgov/sync/internal/utils/colors"
	"github.com/spf13/cobra"
)

var syncResolveFlags struct {
	Actor  string
	Reason string
}

var syncResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "re-sign conflict-resolved records and continue a paused rebase",
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

		actorID, err := resolveActor(ctx, repoRoot, syncResolveFlags.Actor)
		if err != nil {
			return err
		}

		id := identity.New(repoRoot, filepath.Join(repoRoot, ".git"))
		pipeline := resolve.NewPipeline(repo, id, nil, repoRoot)
		result, err := pipeline.Resolve(ctx, resolve.Opts{ActorID: actorID, Reason: syncResolveFlags.Reason})
		if err != nil {
			return errors.Wrap(err, "sync resolve failed")
		}

		fmt.Printf("%s %d record(s), resolved by %s\n", colors.Success("resolved"), result.ConflictsResolved, result.ResolvedBy)
		fmt.Println("  rebase commit:    ", result.RebaseCommitHash)
		fmt.Println("  resolution commit:", result.ResolutionCommitHash)
		return nil
	},
}

func init() {
	syncResolveCmd.Flags().StringVar(&syncResolveFlags.Actor, "actor", "", "actor id recorded on the resolution commit (defaults to the local git identity)")
	syncResolveCmd.Flags().StringVar(&syncResolveFlags.Reason, "reason", "", "human-readable reason for the resolution")
}
