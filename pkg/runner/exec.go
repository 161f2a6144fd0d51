package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Factory builds the runner that executes a received job. logger forwards
// its records to the host as EVENT messages.
type Factory func(msg *JobMessage, logger zerolog.Logger) (Runner, error)

// Exec is the executor side of the protocol: it reads one JOB from in,
// builds it with the runner from factory and answers on out with a RESULT,
// followed by an ERROR when the job failed.
func Exec(ctx context.Context, in io.Reader, out io.Writer, level zerolog.Level, factory Factory) error {
	enc := NewEncoder(out)

	msg, err := NewDecoder(in).DecodeJob()
	if err != nil {
		err = fmt.Errorf("failed to read job: %w", err)
		if encErr := enc.EncodeError(NewErrorMessage("", err)); encErr != nil {
			return encErr
		}
		return err
	}

	jobID := msg.Job.ID
	logger := zerolog.New(NewEventWriter(enc, jobID)).Level(level).With().Timestamp().Logger()

	r, err := factory(msg, logger)
	if err != nil {
		if encErr := enc.EncodeError(NewErrorMessage(jobID, err)); encErr != nil {
			return encErr
		}
		return err
	}

	result, runErr := r.Run(ctx, msg.Job)
	if result != nil {
		if err := enc.EncodeResult(result); err != nil {
			return err
		}
	}
	if runErr != nil {
		if err := enc.EncodeError(NewErrorMessage(jobID, runErr)); err != nil {
			return err
		}
		return runErr
	}
	if result == nil {
		return fmt.Errorf("runner returned no result for job %s", jobID)
	}
	return nil
}
