package push

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"emperror.dev/errors"
)

// listRelativeJSONPaths walks a preserved .gitgov/ tree (a temp directory
// produced by preserve.Acquire) and returns every regular file path,
// relative to the tree root, using forward slashes regardless of OS.
func listRelativeJSONPaths(tempDir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(tempDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(tempDir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// copyPaths copies each of relPaths (relative to the repo root, e.g.
// ".gitgov/tasks/1.json") from srcRoot onto dstRoot, creating directories as
// needed. Missing source files are skipped.
func copyPaths(srcRoot, dstRoot string, relPaths []string) error {
	for _, rel := range relPaths {
		// relPaths here are rooted at ".gitgov/...", but srcRoot already *is*
		// the preserved .gitgov directory, so strip that prefix.
		inner := rel
		if path.IsAbs(inner) {
			inner = inner[1:]
		}
		const prefix = ".gitgov/"
		if len(inner) >= len(prefix) && inner[:len(prefix)] == prefix {
			inner = inner[len(prefix):]
		}

		src := filepath.Join(srcRoot, filepath.FromSlash(inner))
		dst := filepath.Join(dstRoot, ".gitgov", filepath.FromSlash(inner))

		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.WrapIff(err, "failed to read %q", src)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.WrapIff(err, "failed to create directory for %q", dst)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errors.WrapIff(err, "failed to write %q", dst)
		}
	}
	return nil
}
