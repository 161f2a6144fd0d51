package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgmatrix/pkg/ci"
	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/packager"
	"github.com/openfroyo/pkgmatrix/pkg/stores"
	"github.com/openfroyo/pkgmatrix/pkg/telemetry"
)

// lookup reads the process environment. Tests replace it.
var lookup = config.OSLookup()

// matrixCandidates are tried in the project directory when --matrix is not set.
var matrixCandidates = []string{
	"pkgmatrix.cue",
	"pkgmatrix.yaml",
	"pkgmatrix.yml",
	"pkgmatrix.json",
	"pkgmatrix.jsonc",
}

// resolveMatrixPath returns the matrix file of the run, "" when there is
// none and the settings must provide the common builds.
func resolveMatrixPath() string {
	if matrixPath != "" {
		return matrixPath
	}
	for _, name := range matrixCandidates {
		path := filepath.Join(projectDir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// settingsOverrides are the flags that replace a CONAN_* variable.
type settingsOverrides struct {
	page       int
	totalPages int
	reference  string
}

func (o *settingsOverrides) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.page, "page", 0, "page of the matrix to build (overrides CONAN_CURRENT_PAGE)")
	cmd.Flags().IntVar(&o.totalPages, "total-pages", 0, "number of pages (overrides CONAN_TOTAL_PAGES)")
	cmd.Flags().StringVar(&o.reference, "reference", "", "package reference (overrides CONAN_REFERENCE)")
}

// loadSettings reads the settings from the environment and applies flags.
func loadSettings(o *settingsOverrides) (*config.Settings, error) {
	s, err := config.LoadSettings(lookup)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return s, nil
	}
	if o.page > 0 {
		s.Page = o.page
	}
	if o.totalPages > 0 {
		s.TotalPages = o.totalPages
	}
	if o.reference != "" {
		s.Reference = o.reference
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func detectCI() ci.Provider {
	return ci.Detect(lookup, ci.ExecGit(projectDir))
}

// setupTelemetry builds logging, metrics and tracing from PKGMATRIX_*
// variables and makes the telemetry logger the global one.
func setupTelemetry(ctx context.Context, environment string) (context.Context, *telemetry.Telemetry, error) {
	cfg, err := telemetry.ConfigFromEnv(lookup)
	if err != nil {
		return ctx, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if _, ok := lookup("PKGMATRIX_ENVIRONMENT"); !ok && environment != "" {
		cfg.Environment = environment
	}
	cfg.ServiceVersion = version

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return ctx, nil, err
	}
	tel, err := telemetry.NewTelemetryWithLogger(cfg, logger)
	if err != nil {
		return ctx, nil, err
	}
	log.Logger = logger.Zerolog()

	if addr, err := tel.StartMetricsServer(ctx); err != nil {
		return ctx, nil, err
	} else if addr != "" {
		log.Info().Str("addr", addr).Msg("Serving metrics")
	}
	return tel.WithContext(ctx), tel, nil
}

// shutdownTelemetry flushes spans and writes the metrics file. It outlives
// a cancelled run.
func shutdownTelemetry(ctx context.Context, tel *telemetry.Telemetry) {
	if tel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}

// openHistory opens the run history at path. The returned Store is nil
// when path is empty.
func openHistory(ctx context.Context, path string) (stores.Store, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history")
		}
	}
	return store, closeFn, nil
}

// conanClient returns the factory of the local package manager client.
// Build output goes to stream.
func conanClient(stream io.Writer) packager.ClientFactory {
	return func(ctx context.Context, s *config.Settings, logger zerolog.Logger) (conan.Client, error) {
		return conan.NewClient(ctx, conan.NewExecRunner(logger, stream), conan.Options{Generation: s.ConanVersion}, logger)
	}
}

// newPackager wires a Packager for plan and run.
func newPackager(s *config.Settings, provider ci.Provider, opts packager.Options, deps packager.Deps) (*packager.Packager, error) {
	opts.MatrixFile = resolveMatrixPath()
	opts.Policies = policies
	opts.ProjectDir = projectDir
	opts.JSON = jsonOutput

	deps.CI = provider
	if deps.Environ == nil {
		deps.Environ = os.Environ()
	}
	return packager.New(s, opts, deps, log.Logger)
}
