package conan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Command is one process invocation.
type Command struct {
	// Name is the executable.
	Name string

	// Args are passed verbatim, without a shell.
	Args []string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Env is appended to the inherited environment as KEY=VALUE pairs.
	Env []string

	// Stdin is fed to the process when set.
	Stdin io.Reader
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout and stderr joined, which is where Conan reports errors.
func (r *Result) Output() string {
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes commands. A non-zero exit status is reported through
// Result.ExitCode; the error is reserved for processes that could not run.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct {
	// Stream receives a live copy of stdout and stderr when set.
	Stream io.Writer

	logger zerolog.Logger
}

// NewExecRunner creates a runner that logs each command at debug level.
func NewExecRunner(logger zerolog.Logger, stream io.Writer) *ExecRunner {
	return &ExecRunner{
		Stream: stream,
		logger: logger.With().Str("component", "exec").Logger(),
	}
}

// Run executes cmd and waits for it.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if r.Stream != nil {
		c.Stdout = io.MultiWriter(&stdout, r.Stream)
		c.Stderr = io.MultiWriter(&stderr, r.Stream)
	}

	r.logger.Debug().Str("command", cmd.String()).Str("dir", cmd.Dir).Msg("Running command")

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug().
		Str("command", cmd.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command finished")

	return result, nil
}
