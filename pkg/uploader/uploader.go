// Package uploader pushes recipes and binaries to the upload remote.
package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// RemoteNamer reports the upload remote. *remotes.Manager implements it.
type RemoteNamer interface {
	UploadRemoteName() string
}

// Authenticator logs a client in to a remote. *auth.Manager implements it.
type Authenticator interface {
	CredentialsReady(remote string) bool
	Login(ctx context.Context, client conan.Client, remote string) error
}

// Options tunes uploads.
type Options struct {
	// Retry is the number of retries after the first attempt.
	Retry int
	// RetryWait is the pause between attempts.
	RetryWait time.Duration
	// Force overwrites existing artifacts on the remote.
	Force bool
}

// Uploader uploads one reference at a time.
type Uploader struct {
	client  conan.Client
	remotes RemoteNamer
	auth    Authenticator
	opts    Options
	logger  zerolog.Logger
}

// New creates an Uploader.
func New(client conan.Client, remotes RemoteNamer, auth Authenticator, opts Options, logger zerolog.Logger) *Uploader {
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	return &Uploader{
		client:  client,
		remotes: remotes,
		auth:    auth,
		opts:    opts,
		logger:  logger.With().Str("component", "uploader").Logger(),
	}
}

// UploadRecipe uploads the recipe of ref only. The boolean reports whether
// an upload happened; a missing remote or credentials skip it.
func (u *Uploader) UploadRecipe(ctx context.Context, ref matrix.Reference) (bool, error) {
	return u.upload(ctx, ref, "")
}

// UploadPackages uploads the recipe of ref with the binary packageID.
func (u *Uploader) UploadPackages(ctx context.Context, ref matrix.Reference, packageID string) (bool, error) {
	return u.upload(ctx, ref, packageID)
}

func (u *Uploader) upload(ctx context.Context, ref matrix.Reference, packageID string) (bool, error) {
	remote := u.remotes.UploadRemoteName()
	if remote == "" {
		u.logger.Info().Msg("Upload skipped, not upload remote available")
		return false, nil
	}
	if !u.auth.CredentialsReady(remote) {
		u.logger.Info().Msgf("Upload skipped, credentials for remote '%s' not available", remote)
		return false, nil
	}

	u.logger.Info().Str("remote", remote).Msgf("Uploading packages for '%s'", ref.String())
	if err := u.auth.Login(ctx, u.client, remote); err != nil {
		return false, err
	}

	req := conan.UploadRequest{
		Reference: ref,
		Remote:    remote,
		PackageID: packageID,
		Force:     u.opts.Force,
	}

	attempt := func() (struct{}, error) {
		err := u.client.Upload(ctx, req)
		if err != nil && !matrix.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(u.opts.RetryWait)),
		backoff.WithMaxTries(uint(u.opts.Retry+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			u.logger.Warn().Err(err).Dur("retry_in", next).Str("reference", ref.String()).Msg("Upload failed, retrying")
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return false, err
	}
	return true, nil
}
