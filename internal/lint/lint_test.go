package lint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gitgov/sync/internal/lint"
	"github.com/gitgov/sync/internal/ports"
	"github.com/stretchr/testify/require"
)

func writeRecord(t *testing.T, dir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestLintFlagsChecksumMismatchAndMissingSignature(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, ".gitgov/tasks/good.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"ec4e2e8f9f0f5c1c6f3b8b6f51b8a5efb8a5efb8a5efb8a5efb8a5efb8a5efb8","signatures":[{"keyId":"a","role":"author","signature":"s","timestamp":"2026-01-01T00:00:00Z"}]},"payload":{"title":"x"}}`)
	writeRecord(t, dir, ".gitgov/tasks/unsigned.json", `{"header":{"version":"1.0","type":"task","payloadChecksum":"ec4e2e8f9f0f5c1c6f3b8b6f51b8a5efb8a5efb8a5efb8a5efb8a5efb8a5efb8","signatures":[]},"payload":{"title":"y"}}`)
	writeRecord(t, dir, ".gitgov/tasks/garbage.json", `not json`)

	l := lint.New(dir)
	report, err := l.Lint(context.Background(), ports.LintOptions{ValidateChecksums: true, ValidateSignatures: true})
	require.NoError(t, err)
	require.Equal(t, 3, report.Summary.FilesChecked)
	require.GreaterOrEqual(t, report.Summary.Errors, 3)
}

func TestLintRestrictsToFilePaths(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, ".gitgov/tasks/a.json", `not json`)
	writeRecord(t, dir, ".gitgov/tasks/b.json", `not json`)

	l := lint.New(dir)
	report, err := l.Lint(context.Background(), ports.LintOptions{FilePaths: []string{".gitgov/tasks/a.json"}})
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.FilesChecked)
}
