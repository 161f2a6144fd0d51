package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
	"github.com/openfroyo/pkgmatrix/pkg/profiles"
)

// Uploader pushes built packages. *uploader.Uploader implements it.
type Uploader interface {
	UploadRecipe(ctx context.Context, ref matrix.Reference) (bool, error)
	UploadPackages(ctx context.Context, ref matrix.Reference, packageID string) (bool, error)
}

// CreateOptions tunes CreateRunner.
type CreateOptions struct {
	RecipePath       string
	BaseProfile      string
	BaseProfileBuild string
	BuildPolicy      []string
	BuildRequires    []string

	// UploadOnlyRecipe uploads the recipe without binaries.
	UploadOnlyRecipe bool

	// UploadDependencies lists dependency references to upload along with
	// the package, or "all".
	UploadDependencies []string
}

// CreateOptionsFrom copies the relevant settings.
func CreateOptionsFrom(s *config.Settings) CreateOptions {
	return CreateOptions{
		RecipePath:         s.RecipePath,
		BaseProfile:        s.BaseProfile,
		BaseProfileBuild:   s.BaseProfileBuild,
		BuildPolicy:        s.BuildPolicy,
		BuildRequires:      s.BuildRequires,
		UploadOnlyRecipe:   s.UploadOnlyRecipe,
		UploadDependencies: s.UploadDependencies,
	}
}

// CreateRunner builds a job with the local package manager.
type CreateRunner struct {
	client   conan.Client
	uploader Uploader
	opts     CreateOptions
	logger   zerolog.Logger
}

// NewCreateRunner creates a CreateRunner. uploader may be nil to never upload.
func NewCreateRunner(client conan.Client, uploader Uploader, opts CreateOptions, logger zerolog.Logger) *CreateRunner {
	return &CreateRunner{
		client:   client,
		uploader: uploader,
		opts:     opts,
		logger:   logger.With().Str("component", "create_runner").Logger(),
	}
}

// Run builds job and uploads the result when job.Upload is set.
func (r *CreateRunner) Run(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()
	result := newResult(job)
	defer func() { result.Duration = time.Since(start) }()

	logger := r.logger.With().Str("job_id", job.ID).Logger()

	hostProfile, buildProfile, cleanup, err := r.saveProfiles(job.Configuration)
	if err != nil {
		result.fail(err)
		return result, err
	}
	defer cleanup()

	logger.Info().Str("reference", job.Reference.String()).Msgf("Building %s", job.Configuration.String())

	created, err := r.client.Create(ctx, conan.CreateRequest{
		RecipePath:   r.opts.RecipePath,
		Reference:    job.Reference,
		HostProfile:  hostProfile,
		BuildProfile: buildProfile,
		BuildPolicy:  r.opts.BuildPolicy,
	})
	if err != nil {
		if matrix.IsInvalidConfiguration(err) {
			logger.Warn().Msgf("Invalid configuration: %s", invalidReason(err))
			result.Status = StatusInvalid
			result.Error = invalidReason(err)
			return result, nil
		}
		result.fail(err)
		return result, matrixErrorForJob(err, job.ID)
	}

	if pkg, ok := findPackage(created, job.Reference); ok {
		result.PackageID = pkg.ID
		result.Built = pkg.Built
	}

	if !job.Upload || r.uploader == nil {
		return result, nil
	}
	if err := r.upload(ctx, job, created, result, logger); err != nil {
		result.fail(err)
		return result, err
	}
	return result, nil
}

func (r *CreateRunner) upload(ctx context.Context, job Job, created *conan.CreateResult, result *Result, logger zerolog.Logger) error {
	if r.opts.UploadOnlyRecipe {
		uploaded, err := r.uploader.UploadRecipe(ctx, job.Reference)
		result.Uploaded = uploaded
		return err
	}

	main := normalizeRef(job.Reference.String())
	for _, pkg := range created.Packages {
		ref := normalizeRef(pkg.Reference)
		if !r.shouldUpload(ref, main) {
			continue
		}
		if !pkg.Built {
			logger.Info().Msgf("Skipping upload for %s, it hasn't been built", pkg.ID)
			continue
		}

		target := job.Reference
		if ref != main {
			parsed, err := matrix.ParseReference(ref)
			if err != nil {
				return err
			}
			target = parsed
		}
		uploaded, err := r.uploader.UploadPackages(ctx, target, pkg.ID)
		if err != nil {
			return err
		}
		if ref == main {
			result.Uploaded = uploaded
		}
	}
	return nil
}

func (r *CreateRunner) shouldUpload(ref, main string) bool {
	if ref == main {
		return true
	}
	for _, dep := range r.opts.UploadDependencies {
		if dep == "all" || normalizeRef(dep) == ref {
			return true
		}
	}
	return false
}

func (r *CreateRunner) saveProfiles(cfg matrix.BuildConfiguration) (host, build string, cleanup func(), err error) {
	defaultName := r.client.DefaultProfileName()
	generation := r.client.Version().Major

	hostText := profiles.PatchDefaultInclude(
		profiles.Render(cfg, r.opts.BaseProfile, generation, r.opts.BuildRequires), defaultName)
	host, err = profiles.SaveTemp(hostText)
	if err != nil {
		return "", "", nil, err
	}
	r.logger.Debug().Str("profile", host).Msg(hostText)

	buildText := profiles.PatchDefaultInclude(profiles.RenderBuild(r.opts.BaseProfileBuild), defaultName)
	build, err = profiles.SaveTemp(buildText)
	if err != nil {
		_ = os.RemoveAll(filepath.Dir(host))
		return "", "", nil, err
	}

	cleanup = func() {
		_ = os.RemoveAll(filepath.Dir(host))
		_ = os.RemoveAll(filepath.Dir(build))
	}
	return host, build, cleanup, nil
}

func findPackage(created *conan.CreateResult, ref matrix.Reference) (conan.PackageResult, bool) {
	want := normalizeRef(ref.String())
	idx := slices.IndexFunc(created.Packages, func(p conan.PackageResult) bool {
		return normalizeRef(p.Reference) == want
	})
	if idx < 0 {
		return conan.PackageResult{}, false
	}
	return created.Packages[idx], true
}

// normalizeRef drops the trailing "@" of references without user/channel.
func normalizeRef(ref string) string {
	return strings.TrimSuffix(strings.TrimSpace(ref), "@")
}

func invalidReason(err error) string {
	var me *matrix.Error
	if errors.As(err, &me) {
		return me.Message
	}
	return err.Error()
}

func matrixErrorForJob(err error, jobID string) error {
	var me *matrix.Error
	if errors.As(err, &me) && me.Job == "" {
		me.WithJob(jobID)
	}
	return err
}
