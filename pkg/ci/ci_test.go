package ci

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// fakeGit answers from a table keyed by the joined arguments.
func fakeGit(answers map[string]string) Git {
	return func(_ context.Context, args ...string) (string, error) {
		if out, ok := answers[strings.Join(args, " ")]; ok {
			return out, nil
		}
		return "", errors.New("exit status 128")
	}
}

var repoGit = fakeGit(map[string]string{
	"rev-parse --abbrev-ref HEAD":        "feature/x",
	"log -1 --format=%s%n%b":             "Fix build\n[skip ci]",
	"describe --tags --exact-match HEAD": "v1.0",
})

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"travis", map[string]string{"TRAVIS": "true"}, "travis"},
		{"appveyor", map[string]string{"APPVEYOR": "True"}, "appveyor"},
		{"bamboo", map[string]string{"bamboo_buildNumber": "12"}, "bamboo"},
		{"circle", map[string]string{"CIRCLECI": "true"}, "circleci"},
		{"gitlab", map[string]string{"GITLAB_CI": "true"}, "gitlab"},
		{"jenkins", map[string]string{"JENKINS_URL": "http://ci"}, "jenkins"},
		{"github", map[string]string{"GITHUB_ACTIONS": "true"}, "github"},
		{"azure", map[string]string{"TF_BUILD": "True"}, "azure"},
		{"travis before jenkins", map[string]string{"JENKINS_URL": "http://ci", "TRAVIS": "1"}, "travis"},
		{"empty marker ignored", map[string]string{"TRAVIS": ""}, "git"},
		{"none", nil, "git"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Detect(config.MapLookup(tt.env), repoGit)
			if p.Name() != tt.want {
				t.Errorf("Detect() = %s, want %s", p.Name(), tt.want)
			}
		})
	}
}

func TestProviders(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		env     map[string]string
		branch  string
		message string
		pr      bool
		tag     string
	}{
		{
			name:    "travis push",
			env:     map[string]string{"TRAVIS": "true", "TRAVIS_BRANCH": "master", "TRAVIS_COMMIT_MESSAGE": "msg", "TRAVIS_PULL_REQUEST": "false"},
			branch:  "master",
			message: "msg",
		},
		{
			name:    "travis pull request",
			env:     map[string]string{"TRAVIS": "true", "TRAVIS_BRANCH": "master", "TRAVIS_COMMIT_MESSAGE": "msg", "TRAVIS_PULL_REQUEST": "42", "TRAVIS_TAG": ""},
			branch:  "master",
			message: "msg",
			pr:      true,
		},
		{
			name:    "travis empty message reads git",
			env:     map[string]string{"TRAVIS": "true", "TRAVIS_BRANCH": "master", "TRAVIS_COMMIT_MESSAGE": ""},
			branch:  "master",
			message: "Fix build\n[skip ci]",
		},
		{
			name: "appveyor extended message",
			env: map[string]string{
				"APPVEYOR": "True", "APPVEYOR_REPO_BRANCH": "release/1.0",
				"APPVEYOR_REPO_COMMIT_MESSAGE": "subject", "APPVEYOR_REPO_COMMIT_MESSAGE_EXTENDED": "[build=missing]",
			},
			branch:  "release/1.0",
			message: "subject [build=missing]",
		},
		{
			name: "appveyor pull request hides branch",
			env: map[string]string{
				"APPVEYOR": "True", "APPVEYOR_REPO_BRANCH": "master",
				"APPVEYOR_REPO_COMMIT_MESSAGE": "subject", "APPVEYOR_PULL_REQUEST_NUMBER": "7",
			},
			message: "subject",
			pr:      true,
		},
		{
			name:    "bamboo reads message from git",
			env:     map[string]string{"bamboo_buildNumber": "1", "bamboo_planRepository_branch": "stable/2"},
			branch:  "stable/2",
			message: "Fix build\n[skip ci]",
			tag:     "v1.0",
		},
		{
			name:    "gitlab legacy branch variable",
			env:     map[string]string{"GITLAB_CI": "true", "CI_BUILD_REF_NAME": "main", "CI_COMMIT_MESSAGE": "m", "CI_COMMIT_TAG": "v2"},
			branch:  "main",
			message: "m",
			tag:     "v2",
		},
		{
			name:    "jenkins change",
			env:     map[string]string{"JENKINS_URL": "x", "BRANCH_NAME": "PR-3", "CHANGE_ID": "3"},
			branch:  "PR-3",
			message: "Fix build\n[skip ci]",
			pr:      true,
		},
		{
			name:    "github tag",
			env:     map[string]string{"GITHUB_ACTIONS": "true", "GITHUB_REF": "refs/tags/v1.2.3", "GITHUB_EVENT_NAME": "push"},
			message: "Fix build\n[skip ci]",
			tag:     "v1.2.3",
		},
		{
			name:    "github pull request",
			env:     map[string]string{"GITHUB_ACTIONS": "true", "GITHUB_REF": "refs/pull/5/merge", "GITHUB_HEAD_REF": "topic", "GITHUB_EVENT_NAME": "pull_request"},
			branch:  "topic",
			message: "Fix build\n[skip ci]",
			pr:      true,
		},
		{
			name:    "azure branch",
			env:     map[string]string{"TF_BUILD": "True", "BUILD_SOURCEBRANCH": "refs/heads/main", "BUILD_SOURCEVERSIONMESSAGE": "azure msg"},
			branch:  "main",
			message: "azure msg",
		},
		{
			name:    "git fallback",
			env:     nil,
			branch:  "feature/x",
			message: "Fix build\n[skip ci]",
			tag:     "v1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Detect(config.MapLookup(tt.env), repoGit)
			if got := p.Branch(ctx); got != tt.branch {
				t.Errorf("Branch() = %q, want %q", got, tt.branch)
			}
			if got := p.CommitMessage(ctx); got != tt.message {
				t.Errorf("CommitMessage() = %q, want %q", got, tt.message)
			}
			if got := p.IsPullRequest(ctx); got != tt.pr {
				t.Errorf("IsPullRequest() = %v, want %v", got, tt.pr)
			}
			if got := p.Tag(ctx); got != tt.tag {
				t.Errorf("Tag() = %q, want %q", got, tt.tag)
			}
		})
	}
}

func TestGeneric_DetachedHead(t *testing.T) {
	p := Detect(config.MapLookup(nil), fakeGit(map[string]string{"rev-parse --abbrev-ref HEAD": "HEAD"}))
	ctx := context.Background()
	if b := p.Branch(ctx); b != "" {
		t.Errorf("Expected no branch on detached HEAD, got %q", b)
	}
	if m := p.CommitMessage(ctx); m != "" {
		t.Errorf("Expected empty message when git fails, got %q", m)
	}
}

func travisManager(branch, message string) *Manager {
	env := map[string]string{"TRAVIS": "true", "TRAVIS_BRANCH": branch, "TRAVIS_COMMIT_MESSAGE": message}
	return NewManager(Detect(config.MapLookup(env), repoGit), zerolog.Nop())
}

func TestManager_CommitBuildPolicy(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		message string
		want    string
		wantErr bool
	}{
		{"Update recipe", "", false},
		{"Update recipe [build=missing]", "missing", false},
		{"[build=outdated] bump", "outdated", false},
		{"bump\n\n[build=cascade]", "cascade", false},
		{"bump [build=never]", "never", false},
		{"bump [build=always]", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got, err := travisManager("master", tt.message).CommitBuildPolicy(ctx)
			if tt.wantErr {
				if !matrix.IsConfigurationError(err) {
					t.Fatalf("Expected configuration error, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CommitBuildPolicy() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CommitBuildPolicy() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestManager_SkipBuilds(t *testing.T) {
	ctx := context.Background()
	tests := map[string]bool{
		"Fix typo [skip ci]":  true,
		"Fix typo [ci skip]":  true,
		"Fix typo\n[skip ci]": true,
		"Fix typo [skip-ci]":  false,
		"Fix typo skip ci":    false,
	}
	for msg, want := range tests {
		if got := travisManager("master", msg).SkipBuilds(ctx); got != want {
			t.Errorf("SkipBuilds(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestManager_IsStableBranch(t *testing.T) {
	ctx := context.Background()
	patterns := config.DefaultStableBranchPatterns

	tests := map[string]bool{
		"master":         true,
		"main":           true,
		"release/1.2":    true,
		"stable/3.0":     true,
		"feature/master": false,
		"mastery":        false,
		"":               false,
	}
	for branch, want := range tests {
		if got := travisManager(branch, "").IsStableBranch(ctx, patterns); got != want {
			t.Errorf("IsStableBranch(%q) = %v, want %v", branch, got, want)
		}
	}

	if travisManager("master", "").IsStableBranch(ctx, []string{"(", "master$"}) != true {
		t.Error("Expected invalid patterns to be skipped")
	}
}

func TestManager_IsTag(t *testing.T) {
	ctx := context.Background()
	env := map[string]string{"TRAVIS": "true", "TRAVIS_TAG": "v1.0"}
	m := NewManager(Detect(config.MapLookup(env), repoGit), zerolog.Nop())
	if !m.IsTag(ctx) || m.Tag(ctx) != "v1.0" {
		t.Errorf("Expected tag v1.0, got %q", m.Tag(ctx))
	}
	if travisManager("master", "").IsTag(ctx) {
		t.Error("Expected no tag")
	}
}
