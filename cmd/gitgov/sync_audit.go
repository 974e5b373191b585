package main

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/config"
	"github.com/gitgov/sync/internal/lint"
	"github.com/gitgov/sync/internal/sync/audit"
	"github.com/gitgov/sync/internal/utils/colors"
	"github.com/spf13/cobra"
)

var syncAuditFlags struct {
	Current bool
}

var syncAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "verify resolution integrity and record structure on the state branch",
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

		auditor := audit.New(repo, lint.New(repoRoot), stateBranch)
		opts := audit.DefaultOptions()
		if syncAuditFlags.Current {
			opts.Scope = audit.ScopeCurrent
		}

		report, err := auditor.AuditState(ctx, opts)
		if err != nil {
			return errors.Wrap(err, "sync audit failed")
		}

		fmt.Println(report.Summary)
		for _, v := range report.IntegrityViolations {
			fmt.Printf("  %s %s (%s, %s)\n", colors.Failure("violation:"), v.RebaseCommitHash, v.Author, audit.HumanizeTimestamp(v.Timestamp))
		}
		if report.LintReport != nil {
			for _, finding := range report.LintReport.Results {
				fmt.Printf("  %s %s: %s\n", colors.Troubleshooting(finding.Severity+":"), finding.File, finding.Message)
			}
		}

		if !report.Passed {
			return errors.New("audit failed")
		}
		return nil
	},
}

func init() {
	syncAuditCmd.Flags().BoolVar(&syncAuditFlags.Current, "current", false, "label the report's scope as \"current\" (the same history scan and lint checks run either way)")
}
