package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/auth"
	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/remotes"
	"github.com/openfroyo/pkgmatrix/pkg/runner"
	"github.com/openfroyo/pkgmatrix/pkg/transports/ssh"
	"github.com/openfroyo/pkgmatrix/pkg/uploader"
)

// RunnerKind resolves Options.Runner against the settings.
func (p *Packager) RunnerKind() string {
	switch {
	case p.opts.Runner != "":
		return p.opts.Runner
	case p.settings.UseDocker:
		return RunnerDocker
	case p.settings.SSHHost != "":
		return RunnerSSH
	default:
		return RunnerLocal
	}
}

// selectRunner builds the runner of the run and a func releasing it.
func (p *Packager) selectRunner() (runner.Runner, string, func(), error) {
	kind := p.RunnerKind()
	noop := func() {}
	if p.deps.Runner != nil {
		return p.deps.Runner, kind, noop, nil
	}

	s := &p.settings
	switch kind {
	case RunnerLocal:
		if p.client == nil {
			return nil, kind, noop, fmt.Errorf("the local runner needs a package manager client")
		}
		up := uploader.New(p.client, p.remotes, p.auth, uploaderOptions(s), p.logger)
		return runner.NewCreateRunner(p.client, up, runner.CreateOptionsFrom(s), p.logger), kind, noop, nil

	case RunnerDocker:
		exec := p.deps.Exec
		if exec == nil {
			exec = conan.NewExecRunner(p.logger, nil)
		}
		binary := p.opts.Binary
		if binary == "" {
			if self, err := os.Executable(); err == nil {
				binary = self
			}
		}
		opts := runner.DockerOptionsFrom(s, p.opts.ProjectDir, binary, p.auth.EnvVars())
		return runner.NewDockerRunner(exec, opts, p.logger), kind, noop, nil

	case RunnerSSH:
		transport := p.deps.Transport
		if transport == nil {
			client, err := newSSHTransport(s.SSHHost, s.SSHUser, s.SSHKeyPath, p.logger)
			if err != nil {
				return nil, kind, noop, err
			}
			transport = client
		}
		opts := runner.SSHOptions{
			WorkDir:  s.SSHWorkDir,
			Env:      p.auth.EnvVars(),
			Settings: s,
		}
		closeFn := func() {
			if err := transport.Close(); err != nil {
				p.logger.Debug().Err(err).Msg("Failed to close SSH connection")
			}
		}
		return runner.NewSSHRunner(transport, opts, p.logger), kind, closeFn, nil
	}
	return nil, kind, noop, fmt.Errorf("unknown runner %q, expected local, docker or ssh", kind)
}

func newSSHTransport(host, user, keyPath string, logger zerolog.Logger) (*ssh.Client, error) {
	cfg, err := ssh.ParseHost(host, user)
	if err != nil {
		return nil, err
	}
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	if keyPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			keyPath = filepath.Join(home, ".ssh", "id_rsa")
		}
	}
	cfg.PrivateKeyPath = keyPath
	return ssh.NewClient(cfg, logger)
}

func uploaderOptions(s *config.Settings) uploader.Options {
	return uploader.Options{Retry: s.UploadRetry, RetryWait: s.UploadRetryWait, Force: s.UploadForce}
}

// ClientFactory creates the package manager client on the build side.
type ClientFactory func(ctx context.Context, settings *config.Settings, logger zerolog.Logger) (conan.Client, error)

// ExecFactory returns the runner factory of `pkgmatrix exec`. The runner
// prepares the build side package manager with the settings and credentials
// carried by the job, then builds it like the local runner does.
func ExecFactory(newClient ClientFactory, environ []string) runner.Factory {
	return func(msg *runner.JobMessage, logger zerolog.Logger) (runner.Runner, error) {
		s := msg.Settings
		env := append([]string(nil), environ...)
		for _, k := range sortedKeys(msg.Env) {
			env = append(env, k+"="+msg.Env[k])
		}

		rm, err := remotes.NewManager(s.Remotes, s.Upload, logger)
		if err != nil {
			return nil, err
		}
		am, err := auth.NewManager(auth.Input{DefaultUser: s.Username}, env, logger)
		if err != nil {
			return nil, err
		}

		return runner.RunnerFunc(func(ctx context.Context, job runner.Job) (*runner.Result, error) {
			client, err := newClient(ctx, s, logger)
			if err != nil {
				return nil, err
			}
			if err := prepare(ctx, client, s, rm, logger); err != nil {
				return nil, err
			}
			up := uploader.New(client, rm, am, uploaderOptions(s), logger)
			return runner.NewCreateRunner(client, up, runner.CreateOptionsFrom(s), logger).Run(ctx, job)
		}), nil
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
