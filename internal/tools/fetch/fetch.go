// Package fetch downloads URLs to files inside the sandbox root.
//
// The save path is validated before any network I/O, so a bad destination
// never costs a request. Response bodies are capped and redirects bounded.
package fetch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jkaninda/taskgate/internal/sandbox"
)

const (
	defaultMaxResponseBytes = 5 << 20 // 5 MB
	defaultTimeout          = 20 * time.Second
	maxRedirects            = 5

	userAgent = "taskgate/1.0"
)

// Config configures download restrictions.
type Config struct {
	MaxResponseBytes int64         // Maximum body size saved. 0 = 5 MB default.
	Timeout          time.Duration // Per-download deadline. 0 = 20s default.
}

// Tool fetches http/https URLs and stores the body in the sandbox.
type Tool struct {
	root     *sandbox.Root
	client   *http.Client
	maxBytes int64
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a fetch tool restricted to the sandbox root.
func New(root *sandbox.Root, cfg Config, logger *slog.Logger) *Tool {
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Tool{
		root: root,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				if s := req.URL.Scheme; s != "http" && s != "https" {
					return fmt.Errorf("redirect to %q scheme blocked", s)
				}
				return nil
			},
		},
		maxBytes: maxBytes,
		timeout:  timeout,
		logger:   logger,
	}
}

// Fetch downloads rawURL and writes the body to path inside the sandbox,
// returning the number of bytes saved.
func (t *Tool) Fetch(ctx context.Context, rawURL, path string) (int64, error) {
	resolved, err := t.root.Validate(path)
	if err != nil {
		return 0, err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return 0, fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("fetching %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(body)) > t.maxBytes {
		return 0, fmt.Errorf("response from %s exceeds %d bytes", rawURL, t.maxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return 0, fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(resolved, body, fs.FileMode(0640)); err != nil {
		return 0, fmt.Errorf("writing %s: %w", resolved, err)
	}

	t.logger.InfoContext(ctx, "url fetched",
		slog.String("url", rawURL),
		slog.String("path", resolved),
		slog.Int("size_bytes", len(body)),
		slog.Int("status_code", resp.StatusCode),
	)
	return int64(len(body)), nil
}
