package config

import (
	"time"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// MatrixFile is the declarative build matrix loaded from a CUE, YAML or JSON file.
type MatrixFile struct {
	// Reference is the package reference, "name/version[@user/channel]".
	// It may be omitted when the reference comes from the environment.
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`

	// Base holds fixed values merged into every configuration.
	Base *ConfigurationBlock `json:"base,omitempty" yaml:"base,omitempty"`

	// Dimensions are expanded in declared order.
	Dimensions []DimensionConfig `json:"dimensions,omitempty" yaml:"dimensions,omitempty" validate:"dive"`

	// Common generates the usual compiler matrix for the host OS.
	Common *CommonConfig `json:"common,omitempty" yaml:"common,omitempty"`

	// Exclusions are Starlark boolean expressions over settings, options, env
	// and build_requires. A candidate is dropped when any of them is true.
	Exclusions []string `json:"exclusions,omitempty" yaml:"exclusions,omitempty" validate:"dive,required"`

	// Inclusions are explicit extra configurations.
	Inclusions []ConfigurationBlock `json:"inclusions,omitempty" yaml:"inclusions,omitempty"`

	// Script is an optional Starlark program whose global "inclusions" list is
	// appended to Inclusions.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// Policies are paths to Rego policy files or directories.
	Policies []string `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// DimensionConfig declares one matrix axis.
type DimensionConfig struct {
	Name   string   `json:"name" yaml:"name" validate:"required"`
	Kind   string   `json:"kind" yaml:"kind" validate:"required,oneof=setting option env build_require"`
	Values []string `json:"values" yaml:"values" validate:"min=1"`
}

// ConfigurationBlock is a partial build configuration.
type ConfigurationBlock struct {
	Settings      map[string]string   `json:"settings,omitempty" yaml:"settings,omitempty"`
	Options       map[string]string   `json:"options,omitempty" yaml:"options,omitempty"`
	Env           map[string]string   `json:"env,omitempty" yaml:"env,omitempty"`
	BuildRequires map[string][]string `json:"build_requires,omitempty" yaml:"build_requires,omitempty"`
}

// ToBuildConfiguration converts the block into a matrix configuration.
func (b ConfigurationBlock) ToBuildConfiguration() matrix.BuildConfiguration {
	return matrix.NewBuildConfiguration().Merge(matrix.BuildConfiguration{
		Settings:      b.Settings,
		Options:       b.Options,
		EnvVars:       b.Env,
		BuildRequires: b.BuildRequires,
	})
}

// CommonConfig mirrors matrix.CommonBuilds in file form.
type CommonConfig struct {
	OS                 string   `json:"os,omitempty" yaml:"os,omitempty" validate:"omitempty,oneof=Linux Macos Windows"`
	GCCVersions        []string `json:"gcc_versions,omitempty" yaml:"gcc_versions,omitempty"`
	ClangVersions      []string `json:"clang_versions,omitempty" yaml:"clang_versions,omitempty"`
	AppleClangVersions []string `json:"apple_clang_versions,omitempty" yaml:"apple_clang_versions,omitempty"`
	MSVCVersions       []string `json:"msvc_versions,omitempty" yaml:"msvc_versions,omitempty"`
	MSVCRuntimes       []string `json:"msvc_runtimes,omitempty" yaml:"msvc_runtimes,omitempty"`
	Archs              []string `json:"archs,omitempty" yaml:"archs,omitempty"`
	BuildTypes         []string `json:"build_types,omitempty" yaml:"build_types,omitempty"`
	CppStds            []string `json:"cppstds,omitempty" yaml:"cppstds,omitempty"`
	ClangLibcxx        []string `json:"clang_libcxx,omitempty" yaml:"clang_libcxx,omitempty"`
	SharedOptionName   string   `json:"shared_option_name,omitempty" yaml:"shared_option_name,omitempty"`
	PureC              bool     `json:"pure_c,omitempty" yaml:"pure_c,omitempty"`
}

// ParsedMatrix is the result of loading a matrix file.
type ParsedMatrix struct {
	// File is the decoded matrix declaration.
	File *MatrixFile `json:"file,omitempty"`

	// SourceFiles lists the files that were loaded.
	SourceFiles []string `json:"source_files"`

	// Format is the detected file format (cue, yaml, json).
	Format string `json:"format"`

	// ParsedAt is when the file was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors contains any parse or validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether any error-severity entry was recorded.
func (p *ParsedMatrix) HasErrors() bool {
	for _, e := range p.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Severity levels for ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path to the error (e.g., "dimensions[0].values").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmtLocation(e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return loc + ": " + e.Path + ": " + e.Message
	case loc != "":
		return loc + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	}
	return e.Message
}
