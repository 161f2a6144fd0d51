package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgmatrix/pkg/config"
	"github.com/openfroyo/pkgmatrix/pkg/packager"
)

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate [matrix-file]",
		Short: "Validate the matrix file and settings",
		Long: `Validate the matrix file, the CONAN_* settings and the policies.

This command checks:
  - Syntax of the CUE, YAML or JSON matrix file
  - Schema conformance (CUE #Matrix schema and struct validation)
  - Starlark exclusions and Rego policies compile
  - The matrix expands to at least one job`,
		Example: `  # Validate pkgmatrix.yaml in the current directory
  pkgmatrix validate

  # Validate a specific file, failing on warnings too
  pkgmatrix validate --strict ci/matrix.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				matrixPath = args[0]
			}
			out := cmd.OutOrStdout()

			s, err := loadSettings(nil)
			if err != nil {
				return fmt.Errorf("invalid settings: %w", err)
			}

			path := resolveMatrixPath()
			if path != "" {
				pm, err := config.NewLoader().Load(cmd.Context(), path)
				if err != nil {
					return err
				}
				for _, ve := range pm.Errors {
					fmt.Fprintf(out, "%s: %s\n", ve.Severity, ve.Error())
				}
				if pm.HasErrors() || (strict && len(pm.Errors) > 0) {
					return fmt.Errorf("%s: %d problems found", path, len(pm.Errors))
				}
			}

			log.Debug().Str("matrix", path).Msg("Expanding matrix")
			p, err := newPackager(s, detectCI(), packager.Options{Out: out}, packager.Deps{})
			if err != nil {
				return err
			}
			plan, err := p.Plan(cmd.Context())
			if err != nil {
				return err
			}
			if len(plan.All) == 0 {
				return fmt.Errorf("the matrix expands to no jobs")
			}

			fmt.Fprintf(out, "%s: %d jobs (%d candidates, %d excluded, %d duplicates)\n",
				plan.Reference, len(plan.All), plan.Stats.Candidates, plan.Stats.Excluded, plan.Stats.Duplicates)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")

	return cmd
}
