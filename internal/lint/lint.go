// Package lint is the default ports.Lint implementation: a local structural
// validator that walks every .json file under .gitgov/ and checks the
// checksum and signature-presence invariants of every record envelope it
// finds, without depending on any external lint service.
package lint

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/record"
)

// Lint validates record envelopes found under RepoRoot/.gitgov.
type Lint struct {
	RepoRoot string
}

// New constructs a Lint rooted at repoRoot.
func New(repoRoot string) *Lint {
	return &Lint{RepoRoot: repoRoot}
}

// fileReport is the outcome of checking a single file, kept separate from
// ports.LintReport so concurrent workers never touch shared state.
type fileReport struct {
	checked  bool
	findings []ports.LintFinding
	errors   int
}

// Lint implements ports.Lint. When opts.Concurrent is set, files are checked
// by a bounded pool of goroutines (fan-out) and the per-file results are
// merged back in path order (fan-in) so the report is identical regardless
// of scheduling.
func (l *Lint) Lint(ctx context.Context, opts ports.LintOptions) (*ports.LintReport, error) {
	report := &ports.LintReport{Metadata: map[string]string{}}

	paths := opts.FilePaths
	if len(paths) == 0 {
		paths = l.discoverRecordFiles()
	}

	var results []fileReport
	if opts.Concurrent {
		results = l.lintConcurrent(paths, opts)
	} else {
		results = make([]fileReport, len(paths))
		for i, rel := range paths {
			results[i] = l.lintFile(rel, opts)
		}
	}

	for _, r := range results {
		if !r.checked {
			continue
		}
		report.Summary.FilesChecked++
		report.Results = append(report.Results, r.findings...)
		report.Summary.Errors += r.errors
	}
	return report, nil
}

// lintConcurrent fans a bounded number of workers out across paths and
// collects their fileReports into a slice indexed the same way the
// sequential path would, so merge order never depends on goroutine
// scheduling.
func (l *Lint) lintConcurrent(paths []string, opts ports.LintOptions) []fileReport {
	results := make([]fileReport, len(paths))

	workers := runtime.GOMAXPROCS(0)
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers < 1 {
		return results
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = l.lintFile(paths[i], opts)
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (l *Lint) lintFile(rel string, opts ports.LintOptions) fileReport {
	abs := filepath.Join(l.RepoRoot, rel)
	data, err := os.ReadFile(abs)
	if err != nil {
		return fileReport{}
	}

	fr := fileReport{checked: true}

	r, err := record.Parse(data)
	if err != nil {
		fr.findings = append(fr.findings, ports.LintFinding{
			File: rel, Rule: "schema", Severity: "error", Message: "not a valid record envelope",
		})
		fr.errors++
		return fr
	}

	if opts.ValidateChecksums {
		ok, err := record.VerifyChecksum(r)
		if err != nil || !ok {
			fr.findings = append(fr.findings, ports.LintFinding{
				File: rel, Rule: "checksum", Severity: "error", Message: "payload checksum mismatch",
			})
			fr.errors++
		}
	}
	if opts.ValidateSignatures && len(r.Header.Signatures) == 0 {
		fr.findings = append(fr.findings, ports.LintFinding{
			File: rel, Rule: "signature", Severity: "error", Message: "no signatures present",
		})
		fr.errors++
	}

	return fr
}

func (l *Lint) discoverRecordFiles() []string {
	var out []string
	gitgovDir := filepath.Join(l.RepoRoot, ".gitgov")
	_ = filepath.Walk(gitgovDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(l.RepoRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, ".gitgov/") && strings.HasSuffix(rel, ".json") {
			out = append(out, rel)
		}
		return nil
	})
	return out
}
