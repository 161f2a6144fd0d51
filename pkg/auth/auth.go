// Package auth resolves remote credentials from explicit input or the
// CONAN_LOGIN_USERNAME / CONAN_PASSWORD environment variables.
package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

const (
	userVar     = "CONAN_LOGIN_USERNAME"
	passwordVar = "CONAN_PASSWORD"
)

// Input holds credentials passed explicitly. Either the plain pair or the
// per-remote maps are used; explicit values win over the environment.
type Input struct {
	User        string
	Password    string
	Users       map[string]string
	Passwords   map[string]string
	DefaultUser string
}

// Credentials is a user/password pair.
type Credentials struct {
	User     string
	Password string
}

// Ready reports whether both fields are set.
func (c Credentials) Ready() bool {
	return c.User != "" && c.Password != ""
}

// Manager hands out credentials per remote.
type Manager struct {
	plain     Credentials
	perRemote map[string]Credentials
	logger    zerolog.Logger
}

// NewManager resolves credentials from in and environ ("KEY=value" entries,
// as returned by os.Environ).
func NewManager(in Input, environ []string, logger zerolog.Logger) (*Manager, error) {
	env := parseEnviron(environ)
	m := &Manager{logger: logger.With().Str("component", "auth").Logger()}

	if in.Users != nil || in.Passwords != nil {
		if in.Users == nil {
			return nil, configError("Specify a dict for 'login_username'")
		}
		if in.Passwords == nil {
			return nil, configError("Specify a dict for 'password'")
		}
		m.perRemote = make(map[string]Credentials, len(in.Users))
		for remote, user := range in.Users {
			password, ok := in.Passwords[remote]
			if !ok {
				return nil, configError(fmt.Sprintf("Password for remote '%s' not specified", remote))
			}
			m.perRemote[strings.ToUpper(remote)] = Credentials{User: user, Password: password}
		}
		return m, nil
	}

	if in.User == "" && in.Password == "" {
		perRemote, err := perRemoteFromEnv(env)
		if err != nil {
			return nil, err
		}
		if len(perRemote) > 0 {
			m.perRemote = perRemote
			return m, nil
		}
	}

	user := in.User
	if user == "" {
		user = env[userVar]
	}
	if user == "" {
		user = in.DefaultUser
	}
	password := in.Password
	if password == "" {
		password = env[passwordVar]
	}
	// A password alone is discarded.
	if user != "" && password != "" {
		m.plain = Credentials{User: user, Password: password}
	}
	return m, nil
}

func perRemoteFromEnv(env map[string]string) (map[string]Credentials, error) {
	out := make(map[string]Credentials)
	prefix := userVar + "_"
	for key, user := range env {
		remote, ok := strings.CutPrefix(key, prefix)
		if !ok || remote == "" {
			continue
		}
		password, ok := env[passwordVar+"_"+remote]
		if !ok {
			return nil, configError(fmt.Sprintf("Password for remote '%s' not specified", remote))
		}
		out[remote] = Credentials{User: user, Password: password}
	}
	return out, nil
}

// Get returns the credentials for remote. In plain mode every remote shares
// the same pair, which may be empty.
func (m *Manager) Get(remote string) (Credentials, error) {
	if m.perRemote == nil {
		return m.plain, nil
	}
	creds, ok := m.perRemote[strings.ToUpper(remote)]
	if !ok {
		return Credentials{}, configError(fmt.Sprintf("User and password for remote '%s' not specified", remote))
	}
	return creds, nil
}

// CredentialsReady reports whether a login to remote can be attempted.
func (m *Manager) CredentialsReady(remote string) bool {
	creds, err := m.Get(remote)
	return err == nil && creds.Ready()
}

// EnvVars exports the credentials in the variable form NewManager reads, so
// they can be forwarded to a container or remote host.
func (m *Manager) EnvVars() map[string]string {
	out := make(map[string]string)
	if m.perRemote != nil {
		for remote, creds := range m.perRemote {
			out[userVar+"_"+remote] = creds.User
			out[passwordVar+"_"+remote] = creds.Password
		}
		return out
	}
	if m.plain.Ready() {
		out[userVar] = m.plain.User
		out[passwordVar] = m.plain.Password
	}
	return out
}

// Remotes lists the remotes with per-remote credentials, upper-cased.
func (m *Manager) Remotes() []string {
	names := make([]string, 0, len(m.perRemote))
	for name := range m.perRemote {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Login authenticates client against remote.
func (m *Manager) Login(ctx context.Context, client conan.Client, remote string) error {
	creds, err := m.Get(remote)
	if err != nil {
		return err
	}
	if !creds.Ready() {
		return configError(fmt.Sprintf("User and password for remote '%s' not specified", remote))
	}
	m.logger.Info().Str("remote", remote).Str("user", creds.User).Msg("Logging in")
	if err := client.Login(ctx, remote, creds.User, creds.Password); err != nil {
		return fmt.Errorf("login to %s failed: %w", remote, err)
	}
	return nil
}

func configError(msg string) error {
	return matrix.NewConfigurationError(msg, nil).WithCode(matrix.ErrCodeValidation)
}

func parseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
