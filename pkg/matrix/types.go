package matrix

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// DimensionKind identifies which part of a BuildConfiguration a dimension varies.
type DimensionKind string

const (
	// KindSetting varies a package-manager setting (os, arch, compiler.version, ...).
	KindSetting DimensionKind = "setting"

	// KindOption varies a package option such as "zlib/*:shared".
	KindOption DimensionKind = "option"

	// KindEnv varies an environment variable passed to the build.
	KindEnv DimensionKind = "env"

	// KindBuildRequire varies the build requirements for a reference pattern.
	// Each value is a comma separated list of requirement references.
	KindBuildRequire DimensionKind = "build_require"
)

// Valid reports whether k is a known dimension kind.
func (k DimensionKind) Valid() bool {
	switch k {
	case KindSetting, KindOption, KindEnv, KindBuildRequire:
		return true
	}
	return false
}

// Dimension is a named axis of the build matrix.
type Dimension struct {
	// Name is the setting/option/env key, or the reference pattern for build requirements.
	Name string `json:"name" yaml:"name"`

	// Kind selects where the value is placed in the configuration.
	Kind DimensionKind `json:"kind" yaml:"kind"`

	// Values are the ordered candidate values. Must not be empty.
	Values []string `json:"values" yaml:"values"`
}

// BuildConfiguration is one concrete point in the build matrix.
type BuildConfiguration struct {
	Settings      map[string]string   `json:"settings"`
	Options       map[string]string   `json:"options"`
	EnvVars       map[string]string   `json:"env_vars"`
	BuildRequires map[string][]string `json:"build_requires"`

	// Reference is the package the configuration builds.
	Reference Reference `json:"reference"`
}

// NewBuildConfiguration returns a configuration with all maps allocated.
func NewBuildConfiguration() BuildConfiguration {
	return BuildConfiguration{
		Settings:      map[string]string{},
		Options:       map[string]string{},
		EnvVars:       map[string]string{},
		BuildRequires: map[string][]string{},
	}
}

// Clone returns a deep copy of the configuration.
func (c BuildConfiguration) Clone() BuildConfiguration {
	out := NewBuildConfiguration()
	out.Reference = c.Reference
	for k, v := range c.Settings {
		out.Settings[k] = v
	}
	for k, v := range c.Options {
		out.Options[k] = v
	}
	for k, v := range c.EnvVars {
		out.EnvVars[k] = v
	}
	for k, v := range c.BuildRequires {
		out.BuildRequires[k] = append([]string(nil), v...)
	}
	return out
}

// Merge overlays other onto c and returns the result. Keys present in other win.
func (c BuildConfiguration) Merge(other BuildConfiguration) BuildConfiguration {
	out := c.Clone()
	for k, v := range other.Settings {
		out.Settings[k] = v
	}
	for k, v := range other.Options {
		out.Options[k] = v
	}
	for k, v := range other.EnvVars {
		out.EnvVars[k] = v
	}
	for k, v := range other.BuildRequires {
		out.BuildRequires[k] = append([]string(nil), v...)
	}
	if other.Reference.Name != "" {
		out.Reference = other.Reference
	}
	return out
}

// Signature returns the canonical identity of the configuration.
// Only settings and options take part in it. Keys and values holding one of
// , = | " are quoted.
func (c BuildConfiguration) Signature() string {
	var b strings.Builder
	b.WriteString("settings:")
	writeSorted(&b, c.Settings)
	b.WriteString("|options:")
	writeSorted(&b, c.Options)
	return b.String()
}

// ID returns a short stable digest of the signature, used as the job identifier.
func (c BuildConfiguration) ID() string {
	sum := blake3.Sum256([]byte(c.Signature()))
	return hex.EncodeToString(sum[:6])
}

// Flatten returns the configuration as a flat string map for logs and reports.
func (c BuildConfiguration) Flatten() map[string]string {
	out := make(map[string]string, len(c.Settings)+len(c.Options)+len(c.EnvVars)+len(c.BuildRequires))
	for k, v := range c.Settings {
		out["settings."+k] = v
	}
	for k, v := range c.Options {
		out["options."+k] = v
	}
	for k, v := range c.EnvVars {
		out["env."+k] = v
	}
	for k, v := range c.BuildRequires {
		out["build_requires."+k] = strings.Join(v, ",")
	}
	return out
}

// String renders the configuration as "k=v k=v" over its sorted flat form.
func (c BuildConfiguration) String() string {
	flat := c.Flatten()
	keys := sortedKeys(flat)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, flat[k]))
	}
	return strings.Join(parts, " ")
}

func (c *BuildConfiguration) set(d Dimension, value string) {
	switch d.Kind {
	case KindSetting:
		c.Settings[d.Name] = value
	case KindOption:
		c.Options[d.Name] = value
	case KindEnv:
		c.EnvVars[d.Name] = value
	case KindBuildRequire:
		c.BuildRequires[d.Name] = splitRequires(value)
	}
}

// JobList is the ordered, de-duplicated output of an expansion.
type JobList []BuildConfiguration

// IDs returns the job identifiers in list order.
func (l JobList) IDs() []string {
	ids := make([]string, len(l))
	for i, c := range l {
		ids[i] = c.ID()
	}
	return ids
}

// Stats describes what happened during an expansion.
type Stats struct {
	Candidates int `json:"candidates"`
	Excluded   int `json:"excluded"`
	Duplicates int `json:"duplicates"`
	Jobs       int `json:"jobs"`
}

func (s *Stats) add(o Stats) {
	s.Candidates += o.Candidates
	s.Excluded += o.Excluded
	s.Duplicates += o.Duplicates
	s.Jobs += o.Jobs
}

func splitRequires(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeSorted(b *strings.Builder, m map[string]string) {
	for i, k := range sortedKeys(m) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(signatureToken(k))
		b.WriteByte('=')
		b.WriteString(signatureToken(m[k]))
	}
}

// signatureToken quotes s when it contains a signature separator, so distinct
// configurations never render to the same signature.
func signatureToken(s string) string {
	if strings.ContainsAny(s, `,=|"`) {
		return strconv.Quote(s)
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
