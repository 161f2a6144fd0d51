package ci

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs one git command and returns its trimmed standard output.
type Git func(ctx context.Context, args ...string) (string, error)

// ExecGit runs the git binary in dir ("" for the working directory).
func ExecGit(dir string) Git {
	return func(ctx context.Context, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}
