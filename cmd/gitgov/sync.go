package main

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "synchronize governance state through the gitgov-state branch",
}

func init() {
	syncCmd.AddCommand(
		syncPushCmd,
		syncPullCmd,
		syncResolveCmd,
		syncAuditCmd,
		syncStatusCmd,
	)
}
