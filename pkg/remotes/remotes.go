// Package remotes parses remote declarations and registers them with the
// package manager client.
package remotes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// DefaultUploadName names the upload remote when its declaration has no name.
const DefaultUploadName = "upload_repo"

// Parse reads comma separated "url[@verify_ssl[@name]]" entries. Unnamed
// entries become remote<i> with i the position in input.
func Parse(input string) ([]conan.Remote, error) {
	var out []conan.Remote
	for i, item := range strings.Split(input, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		r, err := parseOne(item, fmt.Sprintf("remote%d", i))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseUpload reads the single upload remote declaration.
func ParseUpload(input string) (*conan.Remote, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	r, err := parseOne(input, DefaultUploadName)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func parseOne(item, defaultName string) (conan.Remote, error) {
	parts := strings.Split(item, "@")
	if len(parts) > 3 || parts[0] == "" {
		return conan.Remote{}, matrix.NewConfigurationError(
			fmt.Sprintf("invalid remote %q, expected url@verify_ssl@name", item), nil).
			WithCode(matrix.ErrCodeValidation)
	}
	r := conan.Remote{URL: parts[0], Name: defaultName, VerifySSL: true}
	if len(parts) > 1 && parts[1] != "" {
		verify, err := strconv.ParseBool(parts[1])
		if err != nil {
			return conan.Remote{}, matrix.NewConfigurationError(
				fmt.Sprintf("invalid verify_ssl %q in remote %q", parts[1], item), err).
				WithCode(matrix.ErrCodeValidation)
		}
		r.VerifySSL = verify
	}
	if len(parts) > 2 && parts[2] != "" {
		r.Name = parts[2]
	}
	return r, nil
}

// Manager holds the declared remotes.
type Manager struct {
	remotes []conan.Remote
	upload  *conan.Remote
	logger  zerolog.Logger
}

// NewManager parses the remotes and upload declarations.
func NewManager(remotesInput, uploadInput string, logger zerolog.Logger) (*Manager, error) {
	rs, err := Parse(remotesInput)
	if err != nil {
		return nil, err
	}
	up, err := ParseUpload(uploadInput)
	if err != nil {
		return nil, err
	}
	return &Manager{
		remotes: rs,
		upload:  up,
		logger:  logger.With().Str("component", "remotes").Logger(),
	}, nil
}

// Remotes returns the declared remotes, without the upload remote.
func (m *Manager) Remotes() []conan.Remote {
	return append([]conan.Remote(nil), m.remotes...)
}

// HasUpload reports whether an upload remote was declared.
func (m *Manager) HasUpload() bool {
	return m.upload != nil
}

// UploadRemoteName is the name uploads target. After AddToClient it is the
// name the client already knew the upload URL by, if any.
func (m *Manager) UploadRemoteName() string {
	if m.upload == nil {
		return ""
	}
	return m.upload.Name
}

// AddToClient registers the declared remotes ahead of the client's own,
// then the upload remote. Running it twice changes nothing.
func (m *Manager) AddToClient(ctx context.Context, client conan.Client) error {
	// Inserting first in reverse keeps the declared order at the front.
	for i := len(m.remotes) - 1; i >= 0; i-- {
		if _, err := m.add(ctx, client, m.remotes[i], true); err != nil {
			return err
		}
	}
	if m.upload != nil {
		name, err := m.add(ctx, client, *m.upload, false)
		if err != nil {
			return err
		}
		m.upload.Name = name
	}
	return nil
}

// add registers r unless an equivalent remote exists and returns the name
// the client knows it by.
func (m *Manager) add(ctx context.Context, client conan.Client, r conan.Remote, insertFirst bool) (string, error) {
	existing, err := client.Remotes(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list remotes: %w", err)
	}

	for _, e := range existing {
		if e.Name != r.Name {
			continue
		}
		if e.URL == r.URL {
			m.logger.Debug().Str("remote", r.Name).Msg("Remote already present")
			return e.Name, nil
		}
		m.logger.Warn().Str("remote", r.Name).Str("old_url", e.URL).Str("url", r.URL).
			Msg("Updating remote URL")
		if err := client.UpdateRemote(ctx, r); err != nil {
			return "", fmt.Errorf("failed to update remote %s: %w", r.Name, err)
		}
		return r.Name, nil
	}

	for _, e := range existing {
		if e.URL == r.URL {
			m.logger.Warn().Str("remote", r.Name).Str("existing", e.Name).
				Msg("Remote URL already registered under another name, skipping")
			return e.Name, nil
		}
	}

	m.logger.Info().Str("remote", r.Name).Str("url", r.URL).Bool("verify_ssl", r.VerifySSL).Msg("Adding remote")
	if err := client.AddRemote(ctx, r, insertFirst); err != nil {
		return "", fmt.Errorf("failed to add remote %s: %w", r.Name, err)
	}
	return r.Name, nil
}
