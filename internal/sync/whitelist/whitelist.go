// Package whitelist implements the fixed sync whitelist policy: which files
// under .gitgov/ are allowed onto the state branch, and which are
// local-only and must never leave the work branch.
package whitelist

import (
	"path"
	"regexp"
	"slices"
	"strings"
)

// SyncDirectories are the .gitgov/ subdirectories whose *.json contents are
// eligible for sync.
var SyncDirectories = []string{
	"tasks", "cycles", "actors", "agents", "feedback", "executions", "changelogs", "workflows",
}

// SyncRootFiles are the .gitgov/-root files eligible for sync.
var SyncRootFiles = []string{"config.json"}

// LocalOnlyFiles never get synced and are always preserved on the work
// branch across push/pull.
var LocalOnlyFiles = []string{"index.json", ".session.json", "gitgov"}

// excludedPattern matches filenames that are excluded from sync regardless
// of which directory they live in: key material, backups (including
// numbered backups), temp files.
var excludedPattern = regexp.MustCompile(`(\.key|\.backup|\.backup-\d+|\.tmp|\.bak)$`)

// IsLocalOnly reports whether name (a base filename, not a path) is one of
// the fixed local-only files.
func IsLocalOnly(name string) bool {
	return slices.Contains(LocalOnlyFiles, name)
}

// IsExcluded reports whether name (a base filename) matches one of the
// excluded patterns.
func IsExcluded(name string) bool {
	return excludedPattern.MatchString(name)
}

// IsWhitelisted reports whether relPath, a slash-separated path relative to
// .gitgov/ (e.g. "tasks/1.json" or "config.json"), is eligible to be synced
// to the state branch.
func IsWhitelisted(relPath string) bool {
	relPath = strings.TrimPrefix(relPath, "./")
	base := path.Base(relPath)

	if IsLocalOnly(base) {
		return false
	}
	if IsExcluded(base) {
		return false
	}
	if path.Ext(base) != ".json" {
		return false
	}

	dir := path.Dir(relPath)
	if dir == "." {
		// Root-level file.
		return slices.Contains(SyncRootFiles, base)
	}
	top := strings.SplitN(dir, "/", 2)[0]
	return slices.Contains(SyncDirectories, top)
}

// Filter returns the subset of paths that are whitelisted.
func Filter(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if IsWhitelisted(p) {
			out = append(out, p)
		}
	}
	return out
}
