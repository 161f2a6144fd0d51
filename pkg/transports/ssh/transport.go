// Package ssh runs build jobs on remote hosts over SSH.
package ssh

import (
	"context"
	"io"
	"os"
)

// Transport is the connection to one build host.
type Transport interface {
	// Connect establishes the SSH connection. Calling it on a live
	// connection is a no-op.
	Connect(ctx context.Context) error

	// Close releases the connection.
	Close() error

	// Run executes cmd through the remote shell with the given streams.
	// A non-zero exit status is returned as a *TransportError whose
	// ExitCode is set.
	Run(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) error

	// WriteFile stores data at remotePath over SFTP, creating parent
	// directories.
	WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// ExitCode is the remote exit status for "exec" failures, 0 otherwise
	ExitCode int

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
