package lint

import (
	"context"
	"os"
	"sort"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// Linter runs rules over script files.
type Linter struct {
	rules []Rule
}

// NewLinter creates a linter with the given rules, or the default set.
func NewLinter(rules ...Rule) *Linter {
	if len(rules) == 0 {
		rules = []Rule{SyntaxRule{}, NoDebuggerRule{}}
	}
	return &Linter{rules: rules}
}

// LintFiles lints each path. Issues are ordered by file, line and column.
func (l *Linter) LintFiles(ctx context.Context, paths []string) (*Result, error) {
	result := &Result{Issues: []Issue{}}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := os.ReadFile(p) // #nosec G304 -- paths come from configured lint globs
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read file").
				WithContext("path", p).
				Build()
		}
		result.FilesTotal++
		for _, rule := range l.rules {
			if rule.AppliesTo(p) {
				result.Issues = append(result.Issues, rule.Check(p, src)...)
			}
		}
	}

	sort.SliceStable(result.Issues, func(i, j int) bool {
		a, b := result.Issues[i], result.Issues[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return result, nil
}
