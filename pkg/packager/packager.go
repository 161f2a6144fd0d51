package packager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/auth"
	"github.com/openfroyo/pkgmatrix/pkg/ci"
	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
	"github.com/openfroyo/pkgmatrix/pkg/remotes"
	"github.com/openfroyo/pkgmatrix/pkg/report"
	"github.com/openfroyo/pkgmatrix/pkg/runner"
	"github.com/openfroyo/pkgmatrix/pkg/stores"
	"github.com/openfroyo/pkgmatrix/pkg/telemetry"
	"github.com/openfroyo/pkgmatrix/pkg/transports/ssh"
	"github.com/openfroyo/pkgmatrix/pkg/uploader"
)

// Runner kinds.
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
	RunnerSSH    = "ssh"
)

// Options are the per-invocation inputs that do not come from Settings.
type Options struct {
	// MatrixFile is the matrix declaration, optional when the settings
	// list compiler versions.
	MatrixFile string

	// Policies are extra Rego files or directories.
	Policies []string

	// Runner is local, docker or ssh. Empty picks docker when UseDocker is
	// set, ssh when an SSH host is set and local otherwise.
	Runner string

	// ProjectDir is mounted into build containers.
	ProjectDir string

	// Binary is the pkgmatrix executable mounted into build containers.
	Binary string

	// JSON prints the page as JSON instead of a table.
	JSON bool

	// Out receives the page and the results. Defaults to stdout.
	Out io.Writer
}

// Mirror receives the run summary. *uploader.ArtifactMirror implements it.
type Mirror interface {
	EnsureBucket(ctx context.Context) error
	PutSummary(ctx context.Context, runID string, summary []byte) error
}

// Deps are the collaborators of a Packager. Nil fields are built from the
// settings when needed.
type Deps struct {
	// Client drives the local package manager. Required by the local runner.
	Client conan.Client

	// NewClient creates Client on first use when it is nil and the run
	// builds locally.
	NewClient ClientFactory

	// CI is the detected CI provider.
	CI ci.Provider

	// Environ is the process environment, read for credentials.
	Environ []string

	// Exec runs docker. Defaults to an exec.Cmd based runner.
	Exec conan.Runner

	// Transport reaches the SSH build host.
	Transport ssh.Transport

	// Runner replaces runner selection entirely.
	Runner runner.Runner

	Store  stores.Store
	Mirror Mirror
}

// Packager runs one page of the build matrix.
type Packager struct {
	settings config.Settings
	opts     Options
	deps     Deps

	client  conan.Client
	ci      *ci.Manager
	remotes *remotes.Manager
	auth    *auth.Manager
	loader  *config.Loader
	out     io.Writer
	logger  zerolog.Logger
}

// Outcome is what a run did.
type Outcome struct {
	RunID   string
	Skipped bool
	Status  stores.RunStatus
	Plan    *Plan
	Entries []report.Entry
}

// New validates the inputs and builds the managers a run needs.
func New(settings *config.Settings, opts Options, deps Deps, logger zerolog.Logger) (*Packager, error) {
	if settings == nil {
		return nil, errors.New("settings are required")
	}
	if deps.CI == nil {
		return nil, errors.New("a CI provider is required")
	}

	rm, err := remotes.NewManager(settings.Remotes, settings.Upload, logger)
	if err != nil {
		return nil, err
	}
	am, err := auth.NewManager(auth.Input{DefaultUser: settings.Username}, deps.Environ, logger)
	if err != nil {
		return nil, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	if deps.Mirror == nil && settings.ArtifactEndpoint != "" {
		mirror, err := uploader.NewMirror(uploader.MirrorConfig{
			Endpoint:  settings.ArtifactEndpoint,
			Bucket:    settings.ArtifactBucket,
			AccessKey: settings.ArtifactAccessKey,
			SecretKey: settings.ArtifactSecretKey,
			UseSSL:    settings.ArtifactUseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		deps.Mirror = mirror
	}

	return &Packager{
		settings: *settings,
		opts:     opts,
		deps:     deps,
		client:   deps.Client,
		ci:       ci.NewManager(deps.CI, logger),
		remotes:  rm,
		auth:     am,
		loader:   config.NewLoader(),
		out:      out,
		logger:   logger.With().Str("component", "packager").Logger(),
	}, nil
}

// Settings returns the settings of the run, including CI overrides once
// Run has started.
func (p *Packager) Settings() *config.Settings {
	s := p.settings
	return &s
}

// Run builds the page and reports it. The returned error is the first build
// failure or a setup error; the Outcome is filled as far as the run got.
func (p *Packager) Run(ctx context.Context) (*Outcome, error) {
	if p.client == nil && p.deps.NewClient != nil && p.deps.Runner == nil && p.RunnerKind() == RunnerLocal {
		client, err := p.deps.NewClient(ctx, &p.settings, p.logger)
		if err != nil {
			return nil, err
		}
		p.client = client
	}
	if err := p.prepareClient(ctx); err != nil {
		return nil, err
	}

	if p.ci.SkipBuilds(ctx) {
		p.logger.Info().Msg("Skipped builds due to [skip ci] commit message")
		return &Outcome{Skipped: true, Status: stores.RunStatusSkipped}, nil
	}
	buildPolicy, err := p.ci.CommitBuildPolicy(ctx)
	if err != nil {
		return nil, err
	}
	if buildPolicy != "" {
		p.settings.BuildPolicy = []string{buildPolicy}
	}

	plan, err := p.Plan(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.PrintPlan(plan); err != nil {
		return nil, err
	}

	upload := p.uploadAllowed(ctx, plan.Reference)
	build, kind, closeRunner, err := p.selectRunner()
	if err != nil {
		return nil, err
	}
	defer closeRunner()

	jobs := make([]runner.Job, len(plan.Jobs))
	for i, cfg := range plan.Jobs {
		jobs[i] = runner.NewJob(cfg, plan.Reference, upload)
	}

	run := stores.NewRun(plan.Reference.String(), kind, plan.Page, plan.TotalPages)
	run.Branch = p.ci.Branch(ctx)
	hist := newHistory(p.deps.Store, run.ID, p.logger)
	hist.start(ctx, run)

	ctx = telemetry.WithRunContext(ctx, run.ID, plan.Reference.String(), kind)
	results, runErr := p.execute(ctx, build, kind, jobs, hist)

	entries := report.Summarize(jobs, results)
	status := runStatus(ctx, runErr)
	telemetry.EndRunContext(ctx, string(status), len(jobs), runErr)
	hist.finish(ctx, status, jobs, results, runErr)

	if err := p.writeSummary(ctx, run.ID, entries); err != nil {
		p.logger.Error().Err(err).Msg("Failed to write summary")
	}
	if err := report.PrintResults(p.out, entries); err != nil {
		return nil, err
	}

	return &Outcome{
		RunID:   run.ID,
		Status:  status,
		Plan:    plan,
		Entries: entries,
	}, runErr
}

// PrintPlan writes the page as a table, or as JSON when Options.JSON is set.
func (p *Packager) PrintPlan(plan *Plan) error {
	if p.opts.JSON {
		return plan.Report().WriteJSON(p.out)
	}
	return report.PrintPage(p.out, plan.Jobs, plan.Page, plan.TotalPages)
}

// prepareClient applies shared configuration and remotes to the local
// package manager. Container and SSH runs do this on the build side.
func (p *Packager) prepareClient(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return prepare(ctx, p.client, &p.settings, p.remotes, p.logger)
}

func prepare(ctx context.Context, client conan.Client, s *config.Settings, rm *remotes.Manager, logger zerolog.Logger) error {
	if s.ConfigURL != "" {
		logger.Info().Str("url", s.ConfigURL).Msg("Installing package manager configuration")
		if err := client.ConfigInstall(ctx, s.ConfigURL, s.ConfigArgs); err != nil {
			return fmt.Errorf("config install: %w", err)
		}
	}
	if err := conan.NewGlobalConf(client).Populate(ctx, s.GlobalConf); err != nil {
		return fmt.Errorf("global.conf: %w", err)
	}
	return rm.AddToClient(ctx, client)
}

// uploadAllowed applies the CI upload rules to the run.
func (p *Packager) uploadAllowed(ctx context.Context, ref matrix.Reference) bool {
	s := p.settings
	switch {
	case p.ci.IsPullRequest(ctx):
		p.logger.Info().Msg("Skipping upload, pull request")
		return false
	case s.UploadOnlyWhenTag && !p.ci.IsTag(ctx):
		p.logger.Info().Msg("Skipping upload, not tag branch")
		return false
	case s.UploadOnlyWhenStable && ref.Channel != s.StableChannel:
		p.logger.Info().Msgf("Skipping upload, channel '%s' is not the stable channel", ref.Channel)
		return false
	}
	return true
}

// execute builds jobs in order and stops at the first failure. Results are
// returned for the jobs that ran.
func (p *Packager) execute(ctx context.Context, build runner.Runner, kind string, jobs []runner.Job, hist *history) ([]*runner.Result, error) {
	results := make([]*runner.Result, 0, len(jobs))
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		obs := telemetry.StartJob(ctx, job.ID, job.Configuration.String(), kind)
		obs.Logger.Infof("Job %d/%d", i+1, len(jobs))
		hist.event(ctx, job.ID, stores.EventLevelInfo, "Building "+job.Configuration.String())

		result, err := build.Run(obs.Ctx, job)
		status := runner.StatusFailed
		if result != nil {
			status = result.Status
			results = append(results, result)
		}
		obs.End(string(status), err)

		switch {
		case err != nil:
			hist.event(ctx, job.ID, stores.EventLevelError, err.Error())
			return results, err
		case result == nil:
			return results, fmt.Errorf("runner returned no result for job %s", job.ID)
		case status == runner.StatusInvalid:
			hist.event(ctx, job.ID, stores.EventLevelWarning, "Invalid configuration: "+result.Error)
		default:
			hist.event(ctx, job.ID, stores.EventLevelInfo, "Built package "+result.PackageID)
		}
	}
	return results, nil
}

func runStatus(ctx context.Context, err error) stores.RunStatus {
	switch {
	case err == nil:
		return stores.RunStatusCompleted
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return stores.RunStatusCancelled
	default:
		return stores.RunStatusFailed
	}
}

func (p *Packager) writeSummary(ctx context.Context, runID string, entries []report.Entry) error {
	if p.settings.SummaryFile != "" {
		if err := report.WriteSummary(p.settings.SummaryFile, entries); err != nil {
			return err
		}
		p.logger.Info().Str("path", p.settings.SummaryFile).Msg("Summary written")
	}

	if p.deps.Mirror == nil {
		return nil
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	if err := p.deps.Mirror.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("artifact mirror: %w", err)
	}
	if err := p.deps.Mirror.PutSummary(ctx, runID, data); err != nil {
		return fmt.Errorf("artifact mirror: %w", err)
	}
	return nil
}
