package main

import (
	"fmt"
	"time"

	"emperror.dev/errors"
	giturls "github.com/chainguard-dev/git-urls"
	"github.com/fatih/color"
	"github.com/gitgov/sync/internal/config"
	"github.com/gitgov/sync/internal/sync/scheduler"
	"github.com/gitgov/sync/internal/sync/statebranch"
	"github.com/gitgov/sync/internal/utils/timeutils"
	"github.com/spf13/cobra"
)

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the current branch, state branch, and pull scheduler configuration",
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

		current, err := repo.CurrentBranch(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to determine current branch")
		}

		cfg := config.New(repoRoot)
		stateBranch := getStateBranch(ctx, cfg)

		remoteConfigured, err := repo.IsRemoteConfigured(ctx, statebranch.DefaultRemote)
		if err != nil {
			return errors.Wrap(err, "failed to check remote configuration")
		}
		stateBranchExists, err := repo.BranchExists(ctx, stateBranch)
		if err != nil {
			return errors.Wrap(err, "failed to check state branch existence")
		}

		fmt.Println("current branch:", color.CyanString(current))
		fmt.Println("state branch:  ", color.CyanString(stateBranch))
		fmt.Println("origin remote: ", yesNo(remoteConfigured))
		if remoteConfigured {
			if rawURL, err := repo.RemoteURL(ctx, statebranch.DefaultRemote); err == nil && rawURL != "" {
				if u, err := giturls.Parse(rawURL); err == nil {
					fmt.Println("  host:", u.Host)
				}
			}
		}
		fmt.Println("state branch exists locally:", yesNo(stateBranchExists))

		project, err := cfg.LoadConfig(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to load project config")
		}
		session, err := cfg.LoadSession(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to load session state")
		}
		resolved := scheduler.ResolveConfig(project.State.Defaults.PullScheduler, session.SyncPreferences.PullScheduler)

		fmt.Println("pull scheduler:")
		fmt.Println("  enabled:         ", resolved.Enabled)
		fmt.Println("  interval:        ", resolved.PullIntervalSeconds, "s")
		fmt.Println("  continue on net err:", resolved.ContinueOnNetworkError)
		fmt.Println("  stop on conflict:", resolved.StopOnConflict)
		if session.LastSession.ActorID != "" {
			fmt.Println("last session actor:", session.LastSession.ActorID)
		}
		fmt.Println("checked at:", timeutils.FormatLocal(time.Now()))
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}
