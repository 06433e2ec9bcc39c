package lint

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLintFilesReportsSyntaxErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeScript(t, dir, "bad.js", "var x = ;\n")
	good := writeScript(t, dir, "good.js", "var y = 1;\n")

	res, err := NewLinter().LintFiles(t.Context(), []string{good, bad})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesTotal)
	require.True(t, res.HasErrors())

	issue := res.Issues[0]
	assert.Equal(t, bad, issue.FilePath)
	assert.Equal(t, SeverityError, issue.Severity)
	assert.Equal(t, 1, issue.Line)
}

func TestNoDebuggerRule(t *testing.T) {
	src := []byte("function f() {\n  debugger;\n  // debugger;\n  var debuggerEnabled = true;\n}\n")
	issues := NoDebuggerRule{}.Check("a.js", src)
	require.Len(t, issues, 1)
	assert.Equal(t, 2, issues[0].Line)
	assert.Equal(t, 3, issues[0].Column)
	assert.Equal(t, "no-debugger", issues[0].Rule)
}

func TestSyntaxRuleWarnings(t *testing.T) {
	issues := SyntaxRule{}.Check("w.js", []byte("var o = {a: 1, a: 2};\n"))
	require.NotEmpty(t, issues)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.NotEmpty(t, issues[0].Rule)
}

func TestLintFilesMissingFile(t *testing.T) {
	_, err := NewLinter().LintFiles(t.Context(), []string{filepath.Join(t.TempDir(), "nope.js")})
	assert.Error(t, err)
}

func TestFormatters(t *testing.T) {
	res := &Result{FilesTotal: 1, Issues: []Issue{
		{FilePath: "a.js", Severity: SeverityError, Rule: "no-debugger", Message: "Unexpected 'debugger' statement", Line: 2, Column: 3},
		{FilePath: "a.js", Severity: SeverityWarning, Rule: "duplicate-object-key", Message: "Duplicate key", Line: 4, Column: 1},
	}}

	var text bytes.Buffer
	require.NoError(t, NewFormatter("text").Format(&text, res))
	assert.Contains(t, text.String(), "a.js\n")
	assert.Contains(t, text.String(), "2:3  error")
	assert.Contains(t, text.String(), "2 problems (1 error, 1 warning)")

	var out bytes.Buffer
	require.NoError(t, NewFormatter("json").Format(&out, res))
	var decoded JSONOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.ErrorCount)
	assert.Equal(t, 1, decoded.WarningCount)
	require.Len(t, decoded.Issues, 2)
	assert.Equal(t, "warning", decoded.Issues[1].Severity)
}

func TestIsScriptFile(t *testing.T) {
	assert.True(t, IsScriptFile("a/b.TSX"))
	assert.False(t, IsScriptFile("a/b.css"))
}
