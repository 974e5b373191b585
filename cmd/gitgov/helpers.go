package main

import (
	"context"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/config"
	"github.com/gitgov/sync/internal/gitshell"
	"github.com/gitgov/sync/internal/sync/statebranch"
)

var cachedRepo *gitshell.Repo

func getRepo(ctx context.Context) (*gitshell.Repo, error) {
	if cachedRepo != nil {
		return cachedRepo, nil
	}

	dir := rootFlags.Directory
	if dir == "" {
		dir = "."
	}
	repo, err := gitshell.Open(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open git repo (are you running inside one?)")
	}
	cachedRepo = repo
	return repo, nil
}

func getStateBranch(ctx context.Context, cfg *config.FileConfig) string {
	return statebranch.GetStateBranchName(ctx, cfg)
}
