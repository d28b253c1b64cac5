// Package tools holds plumbing shared by the gateway's resource tools.
// Each tool validates its paths through the sandbox before any I/O occurs.
package tools

import "errors"

// ErrNotFound reports a path that passed sandbox validation but does not
// name a regular file.
var ErrNotFound = errors.New("file not found")

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}
