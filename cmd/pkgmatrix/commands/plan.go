package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgmatrix/pkg/packager"
	"github.com/openfroyo/pkgmatrix/pkg/policy"
)

func newPlanCommand() *cobra.Command {
	var (
		overrides settingsOverrides
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the jobs of a matrix page",
		Long: `Expand the build matrix and print the page this worker would build.

The plan:
  - Loads the matrix file and the common builds from CONAN_* variables
  - Applies Starlark exclusions and Rego policies
  - Redefines the channel from the CI branch or tag
  - Splits the jobs into pages

Nothing is built and the package manager is not touched.`,
		Example: `  # Plan the matrix declared in pkgmatrix.yaml
  pkgmatrix plan

  # Plan page 2 of 4 as JSON
  pkgmatrix plan --page 2 --total-pages 4 --json

  # Re-plan whenever the matrix file or a policy changes
  pkgmatrix plan --matrix matrix.cue --policy policies/ --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := loadSettings(&overrides)
			if err != nil {
				return err
			}
			p, err := newPackager(s, detectCI(), packager.Options{Out: cmd.OutOrStdout()}, packager.Deps{})
			if err != nil {
				return err
			}

			printPlan := func(ctx context.Context) error {
				plan, err := p.Plan(ctx)
				if err != nil {
					return err
				}
				return p.PrintPlan(plan)
			}
			if !watch {
				return printPlan(ctx)
			}

			if err := printPlan(ctx); err != nil {
				log.Error().Err(err).Msg("Plan failed")
			}
			paths := policies
			if path := resolveMatrixPath(); path != "" {
				paths = append([]string{path}, paths...)
			}
			if err := policy.NewLoader(log.Logger).Watch(ctx, paths, printPlan); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}

	overrides.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-plan when the matrix file or a policy changes")

	return cmd
}
