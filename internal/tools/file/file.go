// Package file implements sandboxed file read and write operations.
//
// Every path goes through the sandbox root before any I/O occurs, so
// traversal and symlink escapes fail before a file handle is opened.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jkaninda/taskgate/internal/sandbox"
	"github.com/jkaninda/taskgate/internal/tools"
)

const defaultMaxFileSize = 10 << 20 // 10 MB

// Config configures file size restrictions.
type Config struct {
	MaxFileSizeBytes int64 // Maximum file size for read/write. 0 = 10 MB default.
}

// Tool reads and writes files inside the sandbox root.
type Tool struct {
	root    *sandbox.Root
	maxSize int64
	logger  *slog.Logger
}

// New creates a file tool restricted to the sandbox root.
func New(root *sandbox.Root, cfg Config, logger *slog.Logger) *Tool {
	size := cfg.MaxFileSizeBytes
	if size <= 0 {
		size = defaultMaxFileSize
	}
	return &Tool{root: root, maxSize: size, logger: logger}
}

// Read returns the contents of a regular file inside the sandbox.
// A path that validates but does not name a regular file reports
// tools.ErrNotFound.
func (t *Tool) Read(ctx context.Context, path string) (string, error) {
	resolved, err := t.root.Validate(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", tools.ErrNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", resolved, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", tools.ErrNotFound, path)
	}
	if info.Size() > t.maxSize {
		return "", fmt.Errorf("file size %d exceeds limit %d bytes", info.Size(), t.maxSize)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", resolved, err)
	}

	t.logger.InfoContext(ctx, "file read",
		slog.String("path", resolved),
		slog.Int64("size_bytes", info.Size()),
	)
	return string(data), nil
}

// Write stores content at a path inside the sandbox, creating parent
// directories as needed.
func (t *Tool) Write(ctx context.Context, path, content string) error {
	if int64(len(content)) > t.maxSize {
		return fmt.Errorf("content size %d exceeds limit %d bytes", len(content), t.maxSize)
	}

	resolved, err := t.root.Validate(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), fs.FileMode(0640)); err != nil {
		return fmt.Errorf("writing %s: %w", resolved, err)
	}

	t.logger.InfoContext(ctx, "file written",
		slog.String("path", resolved),
		slog.Int("size_bytes", len(content)),
	)
	return nil
}
