// Package errors provides the classified error primitives used across assetpipe.
//
// Every failure that crosses a package boundary carries a category (what kind
// of failure), a severity (how bad) and a retry strategy, plus free-form
// context such as the offending file. The scheduler, the watch loop and the
// CLI all branch on the category rather than on error strings.
//
// Example usage:
//
//	err := errors.TransformError("unexpected token").
//		WithContext("file", "src/scripts/a.js").
//		WithContext("line", 12).
//		Build()
package errors
