package ci

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

var (
	buildPolicyPattern = regexp.MustCompile(`\[build=(\w*)\]`)
	skipPattern        = regexp.MustCompile(`\[(?:skip ci|ci skip)\]`)
)

// ValidBuildPolicies are the values accepted in a [build=<policy>] directive.
var ValidBuildPolicies = []string{"never", "outdated", "missing", "cascade"}

// Manager interprets the CI context: commit directives, stable branches and tags.
type Manager struct {
	provider Provider
	logger   zerolog.Logger
}

// NewManager wraps provider.
func NewManager(provider Provider, logger zerolog.Logger) *Manager {
	return &Manager{
		provider: provider,
		logger:   logger.With().Str("component", "ci").Str("provider", provider.Name()).Logger(),
	}
}

// Provider returns the wrapped provider.
func (m *Manager) Provider() Provider {
	return m.provider
}

// Branch returns the branch being built.
func (m *Manager) Branch(ctx context.Context) string {
	return m.provider.Branch(ctx)
}

// IsPullRequest reports whether a pull request is being built.
func (m *Manager) IsPullRequest(ctx context.Context) bool {
	return m.provider.IsPullRequest(ctx)
}

// CommitBuildPolicy returns the policy of a [build=<policy>] directive in
// the commit message, or "" when there is none.
func (m *Manager) CommitBuildPolicy(ctx context.Context) (string, error) {
	match := buildPolicyPattern.FindStringSubmatch(m.provider.CommitMessage(ctx))
	if match == nil {
		return "", nil
	}
	policy := match[1]
	for _, valid := range ValidBuildPolicies {
		if policy == valid {
			m.logger.Info().Str("build_policy", policy).Msg("Build policy set by commit message")
			return policy, nil
		}
	}
	return "", matrix.NewConfigurationError(
		fmt.Sprintf("invalid build policy %q, valid values: %v", policy, ValidBuildPolicies), nil)
}

// SkipBuilds reports whether the commit message asks to skip CI.
func (m *Manager) SkipBuilds(ctx context.Context) bool {
	return skipPattern.MatchString(m.provider.CommitMessage(ctx))
}

// IsStableBranch reports whether the branch matches one of patterns. Each
// pattern is a regular expression anchored at the start of the branch name.
func (m *Manager) IsStableBranch(ctx context.Context, patterns []string) bool {
	branch := m.provider.Branch(ctx)
	if branch == "" {
		return false
	}
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			m.logger.Warn().Err(err).Str("pattern", p).Msg("Ignoring invalid stable branch pattern")
			continue
		}
		if re.MatchString(branch) {
			return true
		}
	}
	return false
}

// Tag returns the tag being built.
func (m *Manager) Tag(ctx context.Context) string {
	return m.provider.Tag(ctx)
}

// IsTag reports whether a tag is being built.
func (m *Manager) IsTag(ctx context.Context) bool {
	return m.provider.Tag(ctx) != ""
}
