package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent OOM from chatty commands.
	maxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout    = 20 * time.Second
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512
)

// ErrTimeout is returned when a command exceeds its wall-clock deadline.
// The process group is killed; no partial result is returned.
var ErrTimeout = errors.New("execution timed out")

// ProcessConfig configures the process runner.
type ProcessConfig struct {
	Timeout time.Duration
	Limits  ResourceLimits
}

// ResourceLimits constrains the child process.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v).
}

// ExecutionResult captures the outcome of a command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ProcessRunner executes argv vectors as isolated OS processes.
//
// Guarantees:
//   - Each child runs in its own process group, killed entirely on
//     timeout or cancel
//   - No environment inheritance from the serving process — only a
//     minimal safe set
//   - CPU and memory bounded via ulimit
//   - stdout/stderr capped at 1 MB each
type ProcessRunner struct {
	root    *Root
	timeout time.Duration
	limits  ResourceLimits
	logger  *slog.Logger
}

// NewProcessRunner creates a runner whose children start inside the sandbox
// root directory.
func NewProcessRunner(root *Root, cfg ProcessConfig, logger *slog.Logger) *ProcessRunner {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	limits := cfg.Limits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}
	return &ProcessRunner{
		root:    root,
		timeout: timeout,
		limits:  limits,
		logger:  logger,
	}
}

// Timeout returns the wall-clock deadline applied to each execution.
func (r *ProcessRunner) Timeout() time.Duration { return r.timeout }

// Run executes argv as a child process and returns its captured output.
// A non-zero exit code is a result, not an error; exceeding the deadline
// returns ErrTimeout.
func (r *ProcessRunner) Run(ctx context.Context, argv []string) (*ExecutionResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The command is wrapped:
	//   sh -c 'ulimit -v KB 2>/dev/null; ulimit -t SEC 2>/dev/null; exec "$@"' _ cmd args...
	//
	// Using exec "$@" with positional parameters prevents shell injection —
	// argv is never interpolated into the shell string.
	memKB := r.limits.MaxMemoryMB * 1024
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, r.limits.MaxCPUSeconds,
	)
	args := make([]string, 0, 3+len(argv))
	args = append(args, "-c", shellScript, "_") // "_" is the $0 placeholder
	args = append(args, argv...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)
	cmd.Dir = r.root.Path()

	// Own process group; the whole group is killed on timeout/cancel so
	// grandchildren do not outlive the request.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.Env = buildEnv(r.root.Path())

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	r.logger.Info("sandbox executing",
		slog.String("command", strings.Join(argv, " ")),
		slog.String("dir", cmd.Dir),
		slog.Duration("timeout", r.timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			r.logger.Warn("sandbox execution timed out",
				slog.String("command", strings.Join(argv, " ")),
				slog.Duration("timeout", r.timeout),
				slog.Duration("duration", duration),
			)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
	}

	r.logger.Info("sandbox execution completed",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	return &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// buildEnv constructs a minimal environment. The serving process's
// environment is NEVER inherited — the model API credential must not leak
// into translated commands.
func buildEnv(workDir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
}

// limitedWriter stops writing after a byte limit. Excess data is silently
// discarded rather than treated as an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
