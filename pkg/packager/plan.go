package packager

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
	"github.com/openfroyo/pkgmatrix/pkg/policy"
	"github.com/openfroyo/pkgmatrix/pkg/report"
	"github.com/openfroyo/pkgmatrix/pkg/telemetry"
)

// Plan is the expanded matrix and the page of it this worker builds.
type Plan struct {
	Reference  matrix.Reference
	All        matrix.JobList
	Jobs       matrix.JobList
	Stats      matrix.Stats
	Page       int
	TotalPages int
}

// Report returns the printable form of the page.
func (p *Plan) Report() report.Plan {
	return report.NewPlan(p.Jobs, p.Page, p.TotalPages, p.Stats)
}

// Plan expands the matrix and selects the configured page. It reads the CI
// context for the channel but changes nothing on the package manager.
func (p *Packager) Plan(ctx context.Context) (*Plan, error) {
	mf, err := p.matrixFile(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := p.reference(ctx, mf)
	if err != nil {
		return nil, err
	}

	var exclusions []matrix.Exclusion
	if paths := p.PolicyPaths(mf); len(paths) > 0 {
		engine, err := policy.NewEngine(p.logger)
		if err != nil {
			return nil, err
		}
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, matrix.NewConfigurationError("failed to load policies", err)
		}
		exclusions = append(exclusions, engine.Exclusion(ctx))
	}

	specs, err := p.loader.Specs(ctx, mf, config.SpecOptions{
		Reference:  ref,
		OS:         p.settings.HostOS,
		Generation: p.generation(),
		Exclusions: exclusions,
	})
	if err != nil {
		return nil, err
	}

	tel := telemetry.FromTelemetryContext(ctx)
	var all matrix.JobList
	var stats matrix.Stats
	if tel != nil {
		_, span := tel.Tracer.StartExpandSpan(ctx, len(specs))
		all, stats, err = matrix.ExpandAll(specs...)
		span.SetAttributes(telemetry.AttrJobCount.Int(len(all)))
		telemetry.RecordError(span, err)
		span.End()
	} else {
		all, stats, err = matrix.ExpandAll(specs...)
	}
	if err != nil {
		return nil, err
	}

	page, err := matrix.Split(all, p.settings.Page, p.settings.TotalPages)
	if err != nil {
		return nil, err
	}

	if tel != nil {
		tel.Metrics.SetMatrixSize(len(all), len(page))
		tel.Metrics.RecordDropped("excluded", stats.Excluded)
		tel.Metrics.RecordDropped("duplicate", stats.Duplicates)
	}

	p.logger.Info().
		Str("reference", ref.String()).
		Int("candidates", stats.Candidates).
		Int("excluded", stats.Excluded).
		Int("jobs", len(all)).
		Int("page_jobs", len(page)).
		Msgf("Page %d/%d", p.settings.Page, p.settings.TotalPages)

	return &Plan{
		Reference:  ref,
		All:        all,
		Jobs:       page,
		Stats:      stats,
		Page:       p.settings.Page,
		TotalPages: p.settings.TotalPages,
	}, nil
}

// matrixFile loads the configured matrix file, or an empty declaration.
// Common builds from the settings apply when the file declares none.
func (p *Packager) matrixFile(ctx context.Context) (*config.MatrixFile, error) {
	mf := &config.MatrixFile{}
	if p.opts.MatrixFile != "" {
		pm, err := p.loader.Load(ctx, p.opts.MatrixFile)
		if err != nil {
			return nil, matrix.NewConfigurationError("failed to load matrix file", err)
		}
		if pm.HasErrors() {
			errs := make([]error, 0, len(pm.Errors))
			for _, ve := range pm.Errors {
				if ve.Severity == config.SeverityError {
					errs = append(errs, ve)
				}
			}
			return nil, matrix.NewConfigurationError(
				fmt.Sprintf("invalid matrix file %s", p.opts.MatrixFile), errors.Join(errs...))
		}
		for _, ve := range pm.Errors {
			p.logger.Warn().Msg(ve.Error())
		}
		mf = pm.File
	}
	if mf.Common == nil {
		mf.Common = p.settings.CommonConfig()
	}
	return mf, nil
}

// PolicyPaths lists the Rego sources of the run.
func (p *Packager) PolicyPaths(mf *config.MatrixFile) []string {
	var paths []string
	if mf != nil {
		paths = append(paths, mf.Policies...)
	}
	return append(paths, p.opts.Policies...)
}

// reference resolves name/version from the settings or the matrix file and
// user/channel from the settings and the CI context. A reference spelled
// out with user and channel is kept as is.
func (p *Packager) reference(ctx context.Context, mf *config.MatrixFile) (matrix.Reference, error) {
	raw := p.settings.Reference
	if raw == "" {
		raw = mf.Reference
	}
	if raw == "" {
		return matrix.Reference{}, matrix.NewConfigurationError(
			"package reference not declared in the matrix file or environment", nil).
			WithCode(matrix.ErrCodeMissingReference)
	}
	ref, err := matrix.ParseReference(raw)
	if err != nil {
		return matrix.Reference{}, err
	}
	if ref.User != "" {
		return ref, nil
	}

	if p.settings.Username == "" {
		return ref, nil
	}
	return ref.WithChannel(p.settings.Username, p.channel(ctx)), nil
}

func (p *Packager) channel(ctx context.Context) string {
	s := p.settings
	branch := p.ci.Branch(ctx)
	if branch != "" {
		p.logger.Info().Str("branch", branch).Msg("Branch detected")
	}

	if p.ci.IsStableBranch(ctx, s.StableBranchPatterns) {
		p.logger.Info().Msgf("Redefined channel by CI branch matching stable pattern, setting channel to '%s'", s.StableChannel)
		return s.StableChannel
	}
	if p.ci.IsTag(ctx) && (s.StableTagChannel || s.UploadOnlyWhenTag) {
		p.logger.Info().Msgf("Redefined channel by branch tag, setting channel to '%s'", s.StableChannel)
		return s.StableChannel
	}
	return s.Channel
}

// generation is the package manager major version used for common builds.
func (p *Packager) generation() int {
	if p.client != nil {
		return p.client.Version().Major
	}
	if p.settings.ConanVersion != 0 {
		return p.settings.ConanVersion
	}
	return 2
}
