package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgmatrix/pkg/packager"
	"github.com/openfroyo/pkgmatrix/pkg/runner"
)

func newExecCommand() *cobra.Command {
	var jobFile string

	cmd := &cobra.Command{
		Use:    "exec",
		Short:  "Build one job received from a runner",
		Hidden: true,
		Long: `Build side of the docker and ssh runners.

Reads one JOB message (newline delimited JSON) from stdin or --job,
builds it with the local package manager and answers on stdout with
EVENT, RESULT and ERROR messages. Logs are forwarded as EVENT messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if jobFile != "" {
				f, err := os.Open(jobFile)
				if err != nil {
					return fmt.Errorf("failed to open job file: %w", err)
				}
				defer f.Close()
				in = f
			}

			factory := packager.ExecFactory(conanClient(cmd.ErrOrStderr()), os.Environ())
			return runner.Exec(cmd.Context(), in, cmd.OutOrStdout(), zerolog.GlobalLevel(), factory)
		},
	}

	cmd.Flags().StringVar(&jobFile, "job", "", "read the job from this file instead of stdin")

	return cmd
}
