package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gitgov/sync/internal/sync/syncerr"
	"github.com/gitgov/sync/internal/utils/errutils"
	"github.com/kr/text"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	Debug     bool
	Directory string
}

var rootCmd = &cobra.Command{
	Use: "gitgov",

	SilenceErrors: true,
	SilenceUsage:  true,

	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootFlags.Debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(
		&rootFlags.Debug, "debug", false,
		"enable verbose debug logging",
	)
	rootCmd.PersistentFlags().StringVarP(
		&rootFlags.Directory, "repo", "C", "",
		"directory to use for the git repository",
	)
	rootCmd.AddCommand(syncCmd)
}

func main() {
	startTime := time.Now()
	err := rootCmd.Execute()
	logrus.WithField("duration", time.Since(startTime)).Debug("command exited")
	if err != nil {
		if rootFlags.Debug {
			stackTrace := fmt.Sprintf("%+v", err)
			fmt.Fprintf(os.Stderr, "error: %s\n%s\n", err, text.Indent(stackTrace, "\t"))
		} else {
			fmt.Fprint(os.Stderr, renderError(err))
		}
		os.Exit(1)
	}
}

func renderError(err error) string {
	msg := fmt.Sprintf("error: %s\n", err)
	if _, ok := errutils.As[*syncerr.ConflictMarkersPresentError](err); ok {
		msg += "  resolve the markers in place, stage the files, then run `gitgov sync resolve` again\n"
	} else if _, ok := errutils.As[*syncerr.NoRebaseInProgressError](err); ok {
		msg += "  there is nothing to resolve; run `gitgov sync pull` or `gitgov sync push` to trigger one\n"
	}
	return msg
}
