// Package sandbox confines taskgate to a single filesystem subtree and
// executes translated commands as isolated OS processes.
//
// Every filesystem path that reaches the rest of the system must first pass
// through Root.Validate — raw user-supplied paths are never used directly.
package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is the sandbox root used when none is configured.
const DefaultRoot = "/data"

// ErrForbidden is returned when a path resolves outside the sandbox root.
var ErrForbidden = errors.New("access outside the sandbox root is forbidden")

// Root validates candidate paths against a single sandbox directory.
type Root struct {
	path   string
	logger *slog.Logger
}

// NewRoot creates a path validator rooted at dir. The directory is not
// required to exist at construction time (readiness checks report that).
func NewRoot(dir string, logger *slog.Logger) (*Root, error) {
	if dir == "" {
		dir = DefaultRoot
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", dir, err)
	}
	return &Root{path: abs, logger: logger}, nil
}

// Path returns the absolute sandbox root directory.
func (r *Root) Path() string { return r.path }

// Validate resolves raw to its absolute, symlink-free canonical form and
// verifies it is the sandbox root or a descendant of it.
//
// The comparison is segment-safe: "/data-other" and "/data2/x" do not
// validate against root "/data" even though they share the string prefix.
// Paths that do not exist yet are resolved through their nearest existing
// ancestor, so a file about to be created under the root still validates.
//
// Failure returns ErrForbidden and logs the raw offending input for audit.
func (r *Root) Validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", ErrForbidden)
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", raw, err)
	}

	resolved, err := resolveSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %q: %w", raw, err)
	}

	if !r.contains(resolved) {
		if r.logger != nil {
			r.logger.Warn("unauthorized path access attempt",
				slog.String("input", raw),
				slog.String("resolved", resolved),
				slog.String("root", r.path),
			)
		}
		return "", fmt.Errorf("path %q: %w", raw, ErrForbidden)
	}

	return resolved, nil
}

// contains reports whether canonical path p is the root or a descendant.
// "/data" must match "/data/foo" but NOT "/data-other".
func (r *Root) contains(p string) bool {
	return p == r.path || strings.HasPrefix(p, r.path+string(filepath.Separator))
}

// resolveSymlinks canonicalizes abs even when the path does not exist yet:
// the nearest existing ancestor is resolved and the missing remainder is
// re-joined onto it. A symlink escape anywhere in the existing portion is
// therefore still caught.
func resolveSymlinks(abs string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir := filepath.Dir(filepath.Clean(abs))
	if dir == abs {
		// Filesystem root cannot be missing; give up.
		return "", err
	}
	parent, err := resolveSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}
