package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
	"github.com/openfroyo/pkgmatrix/pkg/transports/ssh"
)

// SSHOptions configures SSHRunner.
type SSHOptions struct {
	// WorkDir holds the recipe on the build host. Job files go to
	// WorkDir/.pkgmatrix/jobs.
	WorkDir string
	// Binary is the pkgmatrix executable on the build host.
	Binary string

	// Env travels inside the job file, never on the command line.
	Env      map[string]string
	Settings *config.Settings
}

// SSHRunner runs each job through `pkgmatrix exec` on a remote host.
type SSHRunner struct {
	transport ssh.Transport
	opts      SSHOptions
	logger    zerolog.Logger
}

// NewSSHRunner creates an SSHRunner over transport.
func NewSSHRunner(transport ssh.Transport, opts SSHOptions, logger zerolog.Logger) *SSHRunner {
	if opts.Binary == "" {
		opts.Binary = "pkgmatrix"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	return &SSHRunner{
		transport: transport,
		opts:      opts,
		logger:    logger.With().Str("component", "ssh_runner").Logger(),
	}
}

// Run ships job to the build host and waits for its result.
func (r *SSHRunner) Run(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()
	logger := r.logger.With().Str("job_id", job.ID).Logger()

	if err := r.transport.Connect(ctx); err != nil {
		err = matrix.NewTransientError("failed to connect to build host", err).WithJob(job.ID)
		return failed(job, err, start), err
	}

	var payload bytes.Buffer
	msg := &JobMessage{Job: job, Settings: r.opts.Settings, Env: r.opts.Env}
	if err := NewEncoder(&payload).EncodeJob(msg); err != nil {
		return failed(job, err, start), err
	}

	jobFile := path.Join(r.opts.WorkDir, ".pkgmatrix", "jobs", job.ID+".ndjson")
	if err := r.transport.WriteFile(ctx, jobFile, payload.Bytes(), 0o600); err != nil {
		err = fmt.Errorf("failed to upload job: %w", err)
		return failed(job, err, start), err
	}

	cmd := r.Command(jobFile)
	logger.Info().Str("command", cmd).Msg("Running job on build host")

	var stdout, stderr bytes.Buffer
	runErr := r.transport.Run(ctx, cmd, nil, &stdout, &stderr)

	result, err := Collect(stdout.String(), job.ID, logger)
	if result == nil {
		if err == nil || runErr != nil {
			err = remoteFailure(job.ID, runErr, err, stderr.String())
		}
		return failed(job, err, start), err
	}
	result.Duration = time.Since(start)
	return result, err
}

// Command is the remote shell line for jobFile.
func (r *SSHRunner) Command(jobFile string) string {
	return fmt.Sprintf("cd %s && %s exec --job %s",
		shellQuote(r.opts.WorkDir), shellQuote(r.opts.Binary), shellQuote(jobFile))
}

func remoteFailure(jobID string, runErr, collectErr error, stderr string) error {
	cause := collectErr
	msg := "build host produced no result"
	var te *ssh.TransportError
	if errors.As(runErr, &te) {
		cause = te
		if te.ExitCode != 0 {
			msg = fmt.Sprintf("remote exec exited with %d", te.ExitCode)
		}
		if te.Temporary() {
			return matrix.NewTransientError(msg, cause).WithJob(jobID)
		}
	}
	if s := strings.TrimSpace(stderr); s != "" {
		msg += ": " + s
	}
	return matrix.NewPermanentError(msg, cause).WithCode(matrix.ErrCodeBuildFailed).WithJob(jobID)
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
