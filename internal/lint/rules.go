package lint

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/assetpipe/internal/transform"
)

// SyntaxRule parses the file with esbuild. Parse errors become error-level
// issues and esbuild's own diagnostics (duplicate keys, suspicious
// comparisons and the like) become warnings.
type SyntaxRule struct{}

func (SyntaxRule) Name() string { return "syntax" }

func (SyntaxRule) AppliesTo(filePath string) bool { return IsScriptFile(filePath) }

func (SyntaxRule) Check(filePath string, src []byte) []Issue {
	loader, ok := transform.LoaderFor(filePath)
	if !ok {
		return nil
	}
	result := api.Transform(string(src), api.TransformOptions{
		Loader:     loader,
		Sourcefile: filePath,
		LogLevel:   api.LogLevelSilent,
	})
	issues := make([]Issue, 0, len(result.Errors)+len(result.Warnings))
	for _, m := range result.Errors {
		issues = append(issues, issueFromMessage(filePath, SeverityError, m))
	}
	for _, m := range result.Warnings {
		issues = append(issues, issueFromMessage(filePath, SeverityWarning, m))
	}
	return issues
}

func issueFromMessage(filePath string, sev Severity, m api.Message) Issue {
	rule := m.ID
	if rule == "" {
		rule = "syntax"
	}
	issue := Issue{FilePath: filePath, Severity: sev, Rule: rule, Message: m.Text}
	if m.Location != nil {
		issue.Line = m.Location.Line
		issue.Column = m.Location.Column + 1
	}
	return issue
}

var debuggerPattern = regexp.MustCompile(`\bdebugger\s*(;|$)`)

// NoDebuggerRule flags leftover debugger statements.
type NoDebuggerRule struct{}

func (NoDebuggerRule) Name() string { return "no-debugger" }

func (NoDebuggerRule) AppliesTo(filePath string) bool { return IsScriptFile(filePath) }

func (r NoDebuggerRule) Check(filePath string, src []byte) []Issue {
	var issues []Issue
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.Index(text, "//"); i >= 0 {
			text = text[:i]
		}
		loc := debuggerPattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		issues = append(issues, Issue{
			FilePath: filePath,
			Severity: SeverityError,
			Rule:     r.Name(),
			Message:  "Unexpected 'debugger' statement",
			Line:     line,
			Column:   loc[0] + 1,
		})
	}
	return issues
}
