package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand() *cobra.Command {
	var overrides settingsOverrides

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings",
		Long: `Print the settings read from CONAN_* and PKGMATRIX_* variables after
defaults and flags are applied. Secrets are never printed.`,
		Example: `  pkgmatrix config
  CONAN_GCC_VERSIONS=12,13 pkgmatrix config --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(&overrides)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), s)
			}

			// yaml.v3 ignores json tags; go through a map to keep the names.
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			var fields map[string]any
			if err := json.Unmarshal(data, &fields); err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(fields); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	overrides.register(cmd)

	return cmd
}
