// Package executor runs translated commands inside the filesystem sandbox.
//
// Commands are split on whitespace and handed to the process runner as an
// argv vector, never re-interpolated through a shell. A small lexical
// denylist rejects destructive commands before anything is spawned.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/taskgate/internal/sandbox"
	"github.com/jkaninda/taskgate/internal/tools"
	"github.com/jkaninda/taskgate/internal/translator"
)

// maxStderrDetail bounds the stderr carried in an ExitError, which flows
// into HTTP error responses and logs.
const maxStderrDetail = 4 << 10

var (
	// ErrEmptyCommand is returned when translation yields nothing runnable.
	ErrEmptyCommand = errors.New("failed to parse task")

	// ErrDeletionBlocked is returned when the command's first token is a
	// deletion verb. The check is lexical on the leading token only.
	ErrDeletionBlocked = errors.New("file deletion is not allowed")
)

// deniedCommands lists command names rejected outright.
var deniedCommands = map[string]bool{
	"rm":     true,
	"delete": true,
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Metrics receives execution outcomes. The observability package provides
// the production implementation.
type Metrics interface {
	RecordExecution(status string, duration time.Duration)
}

// Executor translates tasks and runs the resulting commands in the sandbox.
type Executor struct {
	translator *translator.Translator
	runner     *sandbox.ProcessRunner
	metrics    Metrics
	logger     *slog.Logger
}

// New creates an Executor.
func New(tr *translator.Translator, runner *sandbox.ProcessRunner, logger *slog.Logger) *Executor {
	return &Executor{translator: tr, runner: runner, logger: logger}
}

// WithMetrics attaches a metrics recorder.
func (e *Executor) WithMetrics(m Metrics) *Executor {
	e.metrics = m
	return e
}

// Run translates the task and executes the resulting command, returning its
// standard output. A non-zero exit surfaces as *ExitError, a blocked or empty
// command never reaches the process runner.
func (e *Executor) Run(ctx context.Context, task string) (string, error) {
	command, err := e.translator.Translate(ctx, task)
	if err != nil {
		return "", err
	}

	argv := strings.Fields(command)
	if len(argv) == 0 {
		e.record("empty", 0)
		return "", fmt.Errorf("%w: task %q translated to an empty command", ErrEmptyCommand, task)
	}
	if deniedCommands[argv[0]] {
		e.record("denied", 0)
		e.logger.WarnContext(ctx, "deletion command blocked",
			slog.String("task", task),
			slog.String("command", command),
		)
		return "", fmt.Errorf("%w: %q", ErrDeletionBlocked, argv[0])
	}

	start := time.Now()
	result, err := e.runner.Run(ctx, argv)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, sandbox.ErrTimeout) {
			e.record("timeout", duration)
		} else {
			e.record("error", duration)
		}
		return "", err
	}
	if result.ExitCode != 0 {
		e.record("exit_error", duration)
		return "", &ExitError{
			Command:  command,
			ExitCode: result.ExitCode,
			Stderr:   tools.TruncateOutput(result.Stderr, maxStderrDetail),
		}
	}

	e.record("success", duration)
	e.logger.InfoContext(ctx, "command executed",
		slog.String("command", command),
		slog.Duration("duration", result.Duration),
	)
	return strings.TrimSpace(result.Stdout), nil
}

func (e *Executor) record(status string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordExecution(status, d)
	}
}
