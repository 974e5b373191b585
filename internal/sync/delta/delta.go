// Package delta implements the delta calculator: a file-level diff of
// .gitgov/ between the state branch and a source branch.
package delta

import (
	"context"
	"strings"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/ports"
)

// CalculateStateDelta returns the .gitgov/-scoped added/modified/deleted
// files between stateBranch and sourceBranch.
func CalculateStateDelta(ctx context.Context, git ports.Git, stateBranch, sourceBranch string) ([]ports.StateDeltaFile, error) {
	files, err := git.GetChangedFiles(ctx, stateBranch, sourceBranch, ".gitgov")
	if err != nil {
		return nil, errors.WrapIff(err, "failed to diff %q against %q", stateBranch, sourceBranch)
	}
	out := make([]ports.StateDeltaFile, 0, len(files))
	for _, f := range files {
		if !strings.HasPrefix(f.File, ".gitgov/") {
			continue
		}
		out = append(out, ports.StateDeltaFile{Status: f.Status, File: strings.TrimPrefix(f.File, ".gitgov/")})
	}
	return out, nil
}
