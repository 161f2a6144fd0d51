package matrix

import (
	"fmt"
	"strings"
)

// Reference identifies the package being built: name/version@user/channel.
type Reference struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	Version string `json:"version" yaml:"version" validate:"required"`
	User    string `json:"user,omitempty" yaml:"user,omitempty"`
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
}

// ParseReference parses "name/version", "name/version@" or "name/version@user/channel".
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reference{}, NewConfigurationError("empty package reference", nil).
			WithCode(ErrCodeMissingReference)
	}

	nv, uc, hasAt := strings.Cut(s, "@")
	name, version, ok := strings.Cut(nv, "/")
	if !ok || name == "" || version == "" || strings.Contains(version, "/") {
		return Reference{}, NewConfigurationError(
			fmt.Sprintf("invalid package reference %q, expected name/version[@user/channel]", s), nil).
			WithCode(ErrCodeMissingReference)
	}

	ref := Reference{Name: name, Version: version}
	if hasAt && uc != "" {
		user, channel, ok := strings.Cut(uc, "/")
		if !ok || user == "" || channel == "" {
			return Reference{}, NewConfigurationError(
				fmt.Sprintf("invalid user/channel in reference %q", s), nil).
				WithCode(ErrCodeMissingReference)
		}
		ref.User, ref.Channel = user, channel
	}
	return ref, nil
}

// Validate checks that the identifying pair is present.
func (r Reference) Validate() error {
	if r.Name == "" || r.Version == "" {
		return NewConfigurationError("package name and version are required", nil).
			WithCode(ErrCodeMissingReference).
			WithDetail("name", r.Name).
			WithDetail("version", r.Version)
	}
	return nil
}

// WithChannel returns a copy of r using user and channel.
func (r Reference) WithChannel(user, channel string) Reference {
	r.User, r.Channel = user, channel
	return r
}

// String renders the reference, omitting "@user/channel" when unset.
func (r Reference) String() string {
	s := r.Name + "/" + r.Version
	if r.User != "" && r.Channel != "" {
		s += "@" + r.User + "/" + r.Channel
	}
	return s
}

// FullString always includes the "@", as Conan 1 expects on the command line.
func (r Reference) FullString() string {
	return r.Name + "/" + r.Version + "@" + strings.TrimSuffix(r.User+"/"+r.Channel, "/")
}
