package ci

import (
	"context"
	"strings"

	"github.com/openfroyo/pkgmatrix/pkg/config"
)

// Provider exposes the build context of one CI service.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// Branch returns the branch being built, or "" when unknown or detached.
	Branch(ctx context.Context) string

	// CommitMessage returns the subject and body of the commit being built.
	CommitMessage(ctx context.Context) string

	// IsPullRequest reports whether the build was triggered by a pull request.
	IsPullRequest(ctx context.Context) bool

	// Tag returns the tag being built, or "".
	Tag(ctx context.Context) string
}

// marker maps an environment variable to the provider it identifies.
type marker struct {
	env string
	new func(config.Lookup, Git) Provider
}

// markers are checked in order; the first one set wins.
var markers = []marker{
	{"TRAVIS", newTravis},
	{"APPVEYOR", newAppVeyor},
	{"bamboo_buildNumber", newBamboo},
	{"CIRCLECI", newCircleCI},
	{"GITLAB_CI", newGitLab},
	{"JENKINS_URL", newJenkins},
	{"GITHUB_ACTIONS", newGitHub},
	{"TF_BUILD", newAzure},
}

// Detect selects the provider for the current environment. Without any CI
// marker the git repository in the working directory is used.
func Detect(lookup config.Lookup, git Git) Provider {
	if lookup == nil {
		lookup = config.OSLookup()
	}
	if git == nil {
		git = ExecGit("")
	}
	for _, m := range markers {
		if v, ok := lookup(m.env); ok && v != "" {
			return m.new(lookup, git)
		}
	}
	return &generic{git: git}
}

// generic reads everything from git. The env-driven providers embed it for
// the values their service does not export.
type generic struct {
	git Git
}

func (g *generic) Name() string { return "git" }

func (g *generic) Branch(ctx context.Context) string {
	out, err := g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "HEAD" {
		return ""
	}
	return out
}

func (g *generic) CommitMessage(ctx context.Context) string {
	out, err := g.git(ctx, "log", "-1", "--format=%s%n%b")
	if err != nil {
		return ""
	}
	return out
}

func (g *generic) IsPullRequest(context.Context) bool { return false }

func (g *generic) Tag(ctx context.Context) string {
	out, err := g.git(ctx, "describe", "--tags", "--exact-match", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// envProvider covers services that export branch, message, pull request and
// tag as plain variables. Empty variable names fall back to git.
type envProvider struct {
	generic
	name      string
	lookup    config.Lookup
	branchVar string
	commitVar string
	prVar     string
	prFalse   string
	tagVar    string
}

func (p *envProvider) Name() string { return p.name }

func (p *envProvider) get(key string) string {
	if key == "" {
		return ""
	}
	v, _ := p.lookup(key)
	return v
}

func (p *envProvider) Branch(ctx context.Context) string {
	if p.branchVar == "" {
		return p.generic.Branch(ctx)
	}
	return p.get(p.branchVar)
}

func (p *envProvider) CommitMessage(ctx context.Context) string {
	if p.commitVar == "" {
		return p.generic.CommitMessage(ctx)
	}
	if msg := p.get(p.commitVar); msg != "" {
		return msg
	}
	// Unset or empty message variable: read the commit from git instead of
	// returning "", so directives still apply.
	return p.generic.CommitMessage(ctx)
}

func (p *envProvider) IsPullRequest(context.Context) bool {
	v := p.get(p.prVar)
	return v != "" && v != p.prFalse
}

func (p *envProvider) Tag(ctx context.Context) string {
	if p.tagVar == "" {
		return p.generic.Tag(ctx)
	}
	return p.get(p.tagVar)
}

func newTravis(lookup config.Lookup, git Git) Provider {
	return &envProvider{
		generic:   generic{git: git},
		name:      "travis",
		lookup:    lookup,
		branchVar: "TRAVIS_BRANCH",
		commitVar: "TRAVIS_COMMIT_MESSAGE",
		prVar:     "TRAVIS_PULL_REQUEST",
		prFalse:   "false",
		tagVar:    "TRAVIS_TAG",
	}
}

func newBamboo(lookup config.Lookup, git Git) Provider {
	return &envProvider{
		generic:   generic{git: git},
		name:      "bamboo",
		lookup:    lookup,
		branchVar: "bamboo_planRepository_branch",
	}
}

func newCircleCI(lookup config.Lookup, git Git) Provider {
	return &envProvider{
		generic:   generic{git: git},
		name:      "circleci",
		lookup:    lookup,
		branchVar: "CIRCLE_BRANCH",
		prVar:     "CIRCLE_PULL_REQUEST",
		tagVar:    "CIRCLE_TAG",
	}
}

func newJenkins(lookup config.Lookup, git Git) Provider {
	return &envProvider{
		generic:   generic{git: git},
		name:      "jenkins",
		lookup:    lookup,
		branchVar: "BRANCH_NAME",
		prVar:     "CHANGE_ID",
		tagVar:    "TAG_NAME",
	}
}

// gitLab prefers the current CI_COMMIT_* variables and falls back to the
// deprecated CI_BUILD_REF_NAME.
type gitLab struct {
	envProvider
}

func newGitLab(lookup config.Lookup, git Git) Provider {
	return &gitLab{envProvider{
		generic:   generic{git: git},
		name:      "gitlab",
		lookup:    lookup,
		branchVar: "CI_COMMIT_REF_NAME",
		commitVar: "CI_COMMIT_MESSAGE",
		prVar:     "CI_MERGE_REQUEST_IID",
		tagVar:    "CI_COMMIT_TAG",
	}}
}

func (p *gitLab) Branch(ctx context.Context) string {
	if b := p.envProvider.Branch(ctx); b != "" {
		return b
	}
	return p.get("CI_BUILD_REF_NAME")
}

// appVeyor joins the extended commit message and hides the branch of pull
// request builds.
type appVeyor struct {
	envProvider
}

func newAppVeyor(lookup config.Lookup, git Git) Provider {
	return &appVeyor{envProvider{
		generic:   generic{git: git},
		name:      "appveyor",
		lookup:    lookup,
		branchVar: "APPVEYOR_REPO_BRANCH",
		commitVar: "APPVEYOR_REPO_COMMIT_MESSAGE",
		prVar:     "APPVEYOR_PULL_REQUEST_NUMBER",
		tagVar:    "APPVEYOR_REPO_TAG_NAME",
	}}
}

func (p *appVeyor) CommitMessage(context.Context) string {
	msg := p.get("APPVEYOR_REPO_COMMIT_MESSAGE")
	if msg == "" {
		return ""
	}
	if extended := p.get("APPVEYOR_REPO_COMMIT_MESSAGE_EXTENDED"); extended != "" {
		return msg + " " + extended
	}
	return msg
}

func (p *appVeyor) Branch(ctx context.Context) string {
	if p.IsPullRequest(ctx) {
		return ""
	}
	return p.get("APPVEYOR_REPO_BRANCH")
}

// gitHub decodes GITHUB_REF (refs/heads/x, refs/tags/x, refs/pull/n/merge).
type gitHub struct {
	envProvider
}

func newGitHub(lookup config.Lookup, git Git) Provider {
	return &gitHub{envProvider{
		generic: generic{git: git},
		name:    "github",
		lookup:  lookup,
	}}
}

func (p *gitHub) IsPullRequest(context.Context) bool {
	event := p.get("GITHUB_EVENT_NAME")
	return event == "pull_request" || event == "pull_request_target"
}

func (p *gitHub) Branch(ctx context.Context) string {
	if p.IsPullRequest(ctx) {
		return p.get("GITHUB_HEAD_REF")
	}
	if b, ok := strings.CutPrefix(p.get("GITHUB_REF"), "refs/heads/"); ok {
		return b
	}
	return ""
}

func (p *gitHub) Tag(context.Context) string {
	if t, ok := strings.CutPrefix(p.get("GITHUB_REF"), "refs/tags/"); ok {
		return t
	}
	return ""
}

// azure decodes BUILD_SOURCEBRANCH the same way.
type azure struct {
	envProvider
}

func newAzure(lookup config.Lookup, git Git) Provider {
	return &azure{envProvider{
		generic:   generic{git: git},
		name:      "azure",
		lookup:    lookup,
		commitVar: "BUILD_SOURCEVERSIONMESSAGE",
		prVar:     "SYSTEM_PULLREQUEST_PULLREQUESTID",
	}}
}

func (p *azure) Branch(ctx context.Context) string {
	if p.IsPullRequest(ctx) {
		return strings.TrimPrefix(p.get("SYSTEM_PULLREQUEST_SOURCEBRANCH"), "refs/heads/")
	}
	if b, ok := strings.CutPrefix(p.get("BUILD_SOURCEBRANCH"), "refs/heads/"); ok {
		return b
	}
	return ""
}

func (p *azure) Tag(context.Context) string {
	if t, ok := strings.CutPrefix(p.get("BUILD_SOURCEBRANCH"), "refs/tags/"); ok {
		return t
	}
	return ""
}
