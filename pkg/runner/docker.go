package runner

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

const (
	containerProject = "/home/conan/project"
	containerBinary  = "/usr/local/bin/pkgmatrix"
)

// DockerOptions configures DockerRunner.
type DockerOptions struct {
	// Image overrides ImagePattern when set.
	Image string
	// ImagePattern expands {compiler} and {version} (dots removed),
	// e.g. conanio/{compiler}{version}.
	ImagePattern string
	RunOptions   string
	SkipUpdate   bool
	EntryScript  string
	// Shell wraps the in-container command, "/bin/sh -c" by default.
	Shell      string
	UseSudo    bool
	Platform   string
	PipPackage string

	// ProjectDir is mounted as the container working directory.
	ProjectDir string
	// Binary is the pkgmatrix executable mounted into the container.
	Binary string

	// Env is forwarded with -e KEY, values travel in the docker process
	// environment rather than on its command line.
	Env map[string]string

	// Settings are handed to `pkgmatrix exec` with each job.
	Settings *config.Settings
}

// DockerOptionsFrom fills the options from settings.
func DockerOptionsFrom(s *config.Settings, projectDir, binary string, env map[string]string) DockerOptions {
	return DockerOptions{
		Image:        s.DockerImage,
		ImagePattern: s.DockerImagePattern,
		RunOptions:   s.DockerRunOptions,
		SkipUpdate:   s.DockerImageSkipUpdate,
		EntryScript:  s.DockerEntryScript,
		Shell:        s.DockerShell,
		UseSudo:      s.DockerUseSudo,
		Platform:     s.DockerPlatform,
		PipPackage:   s.PipPackage,
		ProjectDir:   projectDir,
		Binary:       binary,
		Env:          env,
		Settings:     s,
	}
}

// DockerRunner runs each job through `pkgmatrix exec` inside a container.
type DockerRunner struct {
	exec   conan.Runner
	opts   DockerOptions
	logger zerolog.Logger

	mu     sync.Mutex
	pulled map[string]bool
}

// NewDockerRunner creates a DockerRunner. Processes are started through exec.
func NewDockerRunner(exec conan.Runner, opts DockerOptions, logger zerolog.Logger) *DockerRunner {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh -c"
	}
	return &DockerRunner{
		exec:   exec,
		opts:   opts,
		logger: logger.With().Str("component", "docker_runner").Logger(),
		pulled: make(map[string]bool),
	}
}

// Image returns the image for cfg.
func (r *DockerRunner) Image(cfg matrix.BuildConfiguration) (string, error) {
	if r.opts.Image != "" {
		return r.opts.Image, nil
	}
	compiler := cfg.Settings["compiler"]
	version := cfg.Settings["compiler.version"]
	if compiler == "" || version == "" || r.opts.ImagePattern == "" {
		return "", matrix.NewConfigurationError(
			"docker image not set and not derivable from compiler settings", nil).
			WithCode(matrix.ErrCodeValidation)
	}
	image := strings.ReplaceAll(r.opts.ImagePattern, "{compiler}", compiler)
	return strings.ReplaceAll(image, "{version}", strings.ReplaceAll(version, ".", "")), nil
}

// Run pulls the image if needed and builds job in a container.
func (r *DockerRunner) Run(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()
	logger := r.logger.With().Str("job_id", job.ID).Logger()

	image, err := r.Image(job.Configuration)
	if err != nil {
		return failed(job, err, start), err
	}
	if err := r.pull(ctx, image); err != nil {
		return failed(job, err, start), err
	}

	var stdin bytes.Buffer
	if err := NewEncoder(&stdin).EncodeJob(&JobMessage{Job: job, Settings: r.opts.Settings}); err != nil {
		return failed(job, err, start), err
	}

	cmd := r.command(image)
	cmd.Stdin = &stdin
	logger.Info().Str("image", image).Msg("Running job in container")

	res, err := r.exec.Run(ctx, cmd)
	if err != nil {
		err = fmt.Errorf("failed to run docker: %w", err)
		return failed(job, err, start), err
	}

	result, err := Collect(res.Stdout, job.ID, logger)
	if result == nil {
		if err == nil || res.ExitCode != 0 {
			err = matrix.NewPermanentError(
				fmt.Sprintf("container exited with %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)), err).
				WithCode(matrix.ErrCodeBuildFailed).WithJob(job.ID)
		}
		return failed(job, err, start), err
	}
	result.Duration = time.Since(start)
	return result, err
}

func (r *DockerRunner) pull(ctx context.Context, image string) error {
	if r.opts.SkipUpdate {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pulled[image] {
		return nil
	}

	cmd := r.docker("pull", image)
	r.logger.Info().Str("image", image).Msg("Pulling docker image")
	res, err := r.exec.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", image, err)
	}
	if res.ExitCode != 0 {
		return matrix.NewTransientError(fmt.Sprintf("docker pull %s exited with %d", image, res.ExitCode), nil).
			WithDetail("output", strings.TrimSpace(res.Stderr))
	}
	r.pulled[image] = true
	return nil
}

// command composes the docker run invocation for image.
func (r *DockerRunner) command(image string) conan.Command {
	args := []string{"run", "--rm", "-i"}
	if r.opts.Platform != "" {
		args = append(args, "--platform", r.opts.Platform)
	}
	if r.opts.ProjectDir != "" {
		args = append(args, "-v", filepath.Clean(r.opts.ProjectDir)+":"+containerProject, "-w", containerProject)
	}
	if r.opts.Binary != "" {
		args = append(args, "-v", r.opts.Binary+":"+containerBinary+":ro")
	}

	var env []string
	for _, k := range sortedEnvNames(r.opts.Env) {
		args = append(args, "-e", k)
		env = append(env, k+"="+r.opts.Env[k])
	}
	args = append(args, strings.Fields(r.opts.RunOptions)...)
	args = append(args, image)
	args = append(args, strings.Fields(r.opts.Shell)...)
	args = append(args, r.innerCommand())

	cmd := r.docker(args...)
	cmd.Env = env
	return cmd
}

func (r *DockerRunner) innerCommand() string {
	var steps []string
	if r.opts.EntryScript != "" {
		steps = append(steps, r.opts.EntryScript)
	}
	if r.opts.PipPackage != "" {
		// Output goes to stderr to keep stdout for the protocol.
		steps = append(steps, "pip install -q "+r.opts.PipPackage+" 1>&2")
	}
	steps = append(steps, "pkgmatrix exec")
	return strings.Join(steps, " && ")
}

func (r *DockerRunner) docker(args ...string) conan.Command {
	if r.opts.UseSudo {
		// -E keeps the forwarded variables, "-e NAME" reads them from the client env.
		return conan.Command{Name: "sudo", Args: append([]string{"-E", "docker"}, args...)}
	}
	return conan.Command{Name: "docker", Args: args}
}

func failed(job Job, err error, start time.Time) *Result {
	result := newResult(job)
	result.fail(err)
	result.Duration = time.Since(start)
	return result
}
