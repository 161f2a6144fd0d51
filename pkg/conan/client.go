package conan

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// ExitInvalidConfiguration is the exit status Conan uses when a recipe
// rejects the requested configuration.
const ExitInvalidConfiguration = 6

// Client is the subset of the Conan CLI pkgmatrix drives. Implementations
// exist for Conan 1.x and Conan 2.x.
type Client interface {
	// Version returns the detected Conan version.
	Version() Version

	// Create builds the recipe for one configuration.
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// Upload uploads a recipe, and its packages when PackageID is set.
	Upload(ctx context.Context, req UploadRequest) error

	// Remotes lists the configured remotes.
	Remotes(ctx context.Context) ([]Remote, error)

	// AddRemote registers a remote, first in the list when insertFirst is set.
	AddRemote(ctx context.Context, remote Remote, insertFirst bool) error

	// UpdateRemote changes the URL and SSL verification of a remote.
	UpdateRemote(ctx context.Context, remote Remote) error

	// Login authenticates against a remote.
	Login(ctx context.Context, remote, user, password string) error

	// ConfigInstall installs a shared configuration from url.
	ConfigInstall(ctx context.Context, url, args string) error

	// HomePath returns the Conan home directory.
	HomePath(ctx context.Context) (string, error)

	// DefaultProfileName returns the name of the user's default profile.
	DefaultProfileName() string

	// ProfilesPath returns the directory holding named profiles.
	ProfilesPath(ctx context.Context) (string, error)

	// GlobalConfPath returns the path of global.conf.
	GlobalConfPath(ctx context.Context) (string, error)
}

// CreateRequest describes one `conan create`.
type CreateRequest struct {
	RecipePath   string
	Reference    matrix.Reference
	HostProfile  string
	BuildProfile string

	// BuildPolicy is passed as --build, e.g. "missing". Empty builds only the recipe.
	BuildPolicy []string

	// Env is added to the process environment.
	Env []string
}

// PackageResult is one node of the dependency graph after a create.
type PackageResult struct {
	// Reference is name/version[@user/channel] without revisions.
	Reference string `json:"reference"`

	// ID is the package ID.
	ID string `json:"id"`

	// Built is true when the binary was built, not downloaded or cached.
	Built bool `json:"built"`
}

// CreateResult lists every package the create resolved.
type CreateResult struct {
	Packages []PackageResult `json:"packages"`
}

// Package returns the entry whose reference matches ref.
func (r *CreateResult) Package(ref string) (PackageResult, bool) {
	for _, p := range r.Packages {
		if p.Reference == ref {
			return p, true
		}
	}
	return PackageResult{}, false
}

// UploadRequest describes one `conan upload`.
type UploadRequest struct {
	Reference matrix.Reference
	Remote    string

	// PackageID uploads binaries too when set; otherwise only the recipe.
	PackageID string

	Force bool
	Retry int
}

// Remote is a Conan remote.
type Remote struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	VerifySSL bool   `json:"verify_ssl"`
}

// Version is a Conan CLI version.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion reads the output of `conan --version`.
func ParseVersion(output string) (Version, error) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return Version{}, fmt.Errorf("no version in %q", strings.TrimSpace(output))
	}
	var v Version
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v, nil
}

// Options configures NewClient.
type Options struct {
	// Binary is the conan executable, "conan" by default.
	Binary string

	// Generation forces Conan 1 or 2; 0 detects it from `conan --version`.
	Generation int

	// DefaultProfile is the default profile name, "default" when empty.
	DefaultProfile string

	// Env is added to every conan invocation.
	Env []string
}

// NewClient detects the installed Conan and returns the matching adapter.
func NewClient(ctx context.Context, runner Runner, opts Options, logger zerolog.Logger) (Client, error) {
	if opts.Binary == "" {
		opts.Binary = "conan"
	}
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = "default"
	}

	b := &base{
		runner: runner,
		opts:   opts,
		logger: logger.With().Str("component", "conan").Logger(),
	}

	res, err := b.run(ctx, nil, "--version")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("conan --version exited with %d: %s", res.ExitCode, strings.TrimSpace(res.Output()))
	}
	version, err := ParseVersion(res.Stdout)
	if err != nil {
		return nil, err
	}
	b.version = version

	generation := opts.Generation
	if generation == 0 {
		generation = version.Major
	}

	b.logger.Info().Str("version", version.String()).Int("generation", generation).Msg("Conan client detected")

	switch generation {
	case 1:
		return &v1Client{base: b}, nil
	case 2:
		return &v2Client{base: b}, nil
	default:
		return nil, fmt.Errorf("unsupported conan version %s", version)
	}
}

// base holds what both adapters share.
type base struct {
	runner  Runner
	opts    Options
	version Version
	logger  zerolog.Logger
}

func (b *base) Version() Version { return b.version }

func (b *base) DefaultProfileName() string { return b.opts.DefaultProfile }

func (b *base) run(ctx context.Context, env []string, args ...string) (*Result, error) {
	cmd := Command{
		Name: b.opts.Binary,
		Args: args,
		Env:  append(append([]string(nil), b.opts.Env...), env...),
	}
	return b.runner.Run(ctx, cmd)
}

// runOK runs a command that must succeed and returns its trimmed stdout.
func (b *base) runOK(ctx context.Context, args ...string) (string, error) {
	res, err := b.run(ctx, nil, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("conan %s exited with %d: %s", args[0], res.ExitCode, lastLines(res.Output(), 5))
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (b *base) HomePath(ctx context.Context) (string, error) {
	return b.runOK(ctx, "config", "home")
}

func (b *base) ProfilesPath(ctx context.Context) (string, error) {
	home, err := b.HomePath(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "profiles"), nil
}

func (b *base) GlobalConfPath(ctx context.Context) (string, error) {
	home, err := b.HomePath(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "global.conf"), nil
}

func (b *base) ConfigInstall(ctx context.Context, url, args string) error {
	msg := b.logger.Info().Str("url", url)
	if args != "" {
		msg = msg.Str("args", args)
	}
	msg.Msg("Installing config")

	cmdArgs := []string{"config", "install", url}
	if args != "" {
		cmdArgs = append(cmdArgs, "--args", args)
	}
	_, err := b.runOK(ctx, cmdArgs...)
	return err
}

// createError classifies a failed create.
func createError(ref matrix.Reference, res *Result) error {
	output := res.Output()
	if reason, ok := invalidReason(output); ok || res.ExitCode == ExitInvalidConfiguration {
		if reason == "" {
			reason = lastLines(output, 1)
		}
		return matrix.NewInvalidConfigurationError(reason, nil).
			WithDetail("reference", ref.String())
	}
	return matrix.NewPermanentError(fmt.Sprintf("conan create exited with %d", res.ExitCode), nil).
		WithCode(matrix.ErrCodeBuildFailed).
		WithDetail("reference", ref.String()).
		WithDetail("output", lastLines(output, 20))
}

// uploadError classifies a failed upload. Authorization failures are
// permanent; everything else is worth retrying.
func uploadError(ref matrix.Reference, res *Result) error {
	output := res.Output()
	msg := fmt.Sprintf("conan upload exited with %d", res.ExitCode)
	var err *matrix.Error
	if authFailure.MatchString(output) {
		err = matrix.NewPermanentError(msg, nil)
	} else {
		err = matrix.NewTransientError(msg, nil)
	}
	return err.WithCode(matrix.ErrCodeUploadFailed).
		WithDetail("reference", ref.String()).
		WithDetail("output", lastLines(output, 10))
}

var (
	invalidPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Invalid configuration: (.*)`),
		regexp.MustCompile(`ConanInvalidConfiguration: (.*)`),
		regexp.MustCompile(`: Invalid: (.*)`),
	}
	authFailure = regexp.MustCompile(`(?i)\b(401|403|unauthorized|forbidden|wrong user or password)\b`)
)

// invalidReason finds the recipe's invalid-configuration message in output.
func invalidReason(output string) (string, bool) {
	for _, p := range invalidPatterns {
		if m := p.FindStringSubmatch(output); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			kept = append([]string{lines[i]}, kept...)
		}
	}
	return strings.Join(kept, "\n")
}

// stripRevision turns "lib/1.0@u/c#rrev" into "lib/1.0@u/c".
func stripRevision(ref string) string {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[:i]
	}
	return ref
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
