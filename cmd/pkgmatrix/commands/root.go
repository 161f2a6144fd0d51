package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	matrixPath string
	policies   []string
	projectDir string
	verbose    bool
	jsonOutput bool

	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pkgmatrix",
		Short: "pkgmatrix - build matrices for C/C++ packages on CI",
		Long: `pkgmatrix expands a declarative build matrix (compilers, architectures,
build types, options) into package builds and runs them on CI.

Features:
  - Matrix files in CUE, YAML or JSON with Starlark exclusions
  - Rego policies dropping unwanted configurations
  - Pagination of the matrix across CI workers
  - Local, Docker and SSH build runners
  - Upload gating by branch, tag and pull request
  - Run history in SQLite, metrics and traces`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&matrixPath, "matrix", "m", "", "matrix file (default: pkgmatrix.{cue,yaml,yml,json,jsonc} in the project directory)")
	rootCmd.PersistentFlags().StringSliceVarP(&policies, "policy", "p", nil, "extra Rego policy file or directory")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project-dir", "C", ".", "project directory holding the recipe")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
