package lint

import (
	"path/filepath"
	"strings"
)

// Severity indicates the importance level of a linting issue.
type Severity int

const (
	// SeverityInfo indicates informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning indicates issues that should be fixed but never fail a build.
	SeverityWarning
	// SeverityError indicates issues that fail the lint task when gating is on.
	SeverityError
)

// String returns the human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Issue represents a single linting problem found in a file.
type Issue struct {
	FilePath string   // Path to the file, as passed to the linter
	Severity Severity // Issue severity level
	Rule     string   // Rule identifier (e.g., "no-debugger")
	Message  string   // Brief description of the issue
	Line     int      // 1-based line (0 if file-level issue)
	Column   int      // 1-based column (0 if unknown)
}

// Result contains all issues found during linting.
type Result struct {
	Issues     []Issue
	FilesTotal int // Total files scanned
}

// HasErrors returns true if any error-level issues exist.
func (r *Result) HasErrors() bool {
	return r.ErrorCount() > 0
}

// ErrorCount returns the number of error-level issues.
func (r *Result) ErrorCount() int {
	return r.count(SeverityError)
}

// WarningCount returns the number of warning-level issues.
func (r *Result) WarningCount() int {
	return r.count(SeverityWarning)
}

func (r *Result) count(s Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

// Rule checks one script file.
type Rule interface {
	// Name returns the unique identifier for this rule.
	Name() string

	// Check validates a file's contents and returns any issues found.
	Check(filePath string, src []byte) []Issue

	// AppliesTo returns true if this rule should be checked for the given file.
	AppliesTo(filePath string) bool
}

// IsScriptFile returns true for files the linter understands.
func IsScriptFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs":
		return true
	}
	return false
}
