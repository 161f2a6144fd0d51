package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgmatrix/pkg/packager"
)

func newRunCommand() *cobra.Command {
	var (
		overrides  settingsOverrides
		runnerKind string
		binary     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build and upload a matrix page",
		Long: `Build every job of the configured page and upload the packages.

For each job, in order:
  - Renders the profile of the configuration
  - Builds the package with the selected runner (local, docker or ssh)
  - Uploads the recipe and binaries when the CI context allows it

A refused configuration is reported and skipped. The first failing build
stops the run and leaves the remaining jobs pending.`,
		Example: `  # Build the page selected by CONAN_CURRENT_PAGE / CONAN_TOTAL_PAGES
  pkgmatrix run

  # Build inside docker images and write a JSON summary
  PKGMATRIX_SUMMARY_FILE=summary.json pkgmatrix run --runner docker

  # Build on a remote host
  PKGMATRIX_SSH_HOST=builder:22 pkgmatrix run --runner ssh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := loadSettings(&overrides)
			if err != nil {
				return err
			}
			provider := detectCI()

			ctx, tel, err := setupTelemetry(ctx, provider.Name())
			if err != nil {
				return err
			}
			defer shutdownTelemetry(ctx, tel)

			store, closeStore, err := openHistory(ctx, s.HistoryDB)
			if err != nil {
				return err
			}
			defer closeStore()

			p, err := newPackager(s, provider, packager.Options{
				Runner: runnerKind,
				Binary: binary,
				Out:    cmd.OutOrStdout(),
			}, packager.Deps{
				NewClient: conanClient(cmd.ErrOrStderr()),
				Store:     store,
			})
			if err != nil {
				return err
			}

			log.Info().Str("ci", provider.Name()).Str("runner", p.RunnerKind()).Msg("Starting run")
			outcome, err := p.Run(ctx)
			if err != nil {
				return err
			}
			if !outcome.Skipped {
				log.Info().Str("run_id", outcome.RunID).Str("status", string(outcome.Status)).Msg("Run finished")
			}
			return nil
		},
	}

	overrides.register(cmd)
	cmd.Flags().StringVarP(&runnerKind, "runner", "r", "", "build runner: local, docker or ssh (default from CONAN_USE_DOCKER / PKGMATRIX_SSH_HOST)")
	cmd.Flags().StringVar(&binary, "binary", "", "pkgmatrix executable mounted into build containers (default: this executable)")

	return cmd
}
