package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// Supported matrix file formats.
const (
	FormatCUE  = "cue"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Loader reads matrix files in any supported format and validates them.
type Loader struct {
	cue       *CUEParser
	schemas   *SchemaRegistry
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		cue:       NewCUEParser(),
		schemas:   NewSchemaRegistry(),
		starlark:  NewStarlarkEvaluator(10 * time.Second),
		validator: validator.New(),
	}
}

// Schemas returns the schema registry used for validation.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// DetectFormat returns the matrix format implied by the path.
// Directories are loaded as CUE packages.
func DetectFormat(path string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return FormatCUE, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported matrix file %s: expected .cue, .yaml, .yml, .json or .jsonc", path)
}

// Load reads and validates the matrix file at path. I/O failures are returned
// as errors; syntax and validation problems are collected in ParsedMatrix.Errors.
func (l *Loader) Load(ctx context.Context, path string) (*ParsedMatrix, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	if format == FormatCUE {
		pm := &ParsedMatrix{Format: FormatCUE, ParsedAt: time.Now()}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
		}
		var errs []ValidationError
		if info.IsDir() {
			pm.File, pm.SourceFiles, errs = l.cue.ParseDirectory(path)
		} else {
			pm.File, errs = l.cue.ParseFile(path)
			pm.SourceFiles = []string{path}
		}
		pm.Errors = append(pm.Errors, errs...)
		if pm.File != nil {
			pm.Errors = append(pm.Errors, l.Validate(ctx, path, pm.File)...)
		}
		return pm, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix file: %w", err)
	}
	return l.LoadBytes(ctx, format, path, data)
}

// LoadBytes decodes data in the given format. name is used in error locations.
func (l *Loader) LoadBytes(ctx context.Context, format, name string, data []byte) (*ParsedMatrix, error) {
	pm := &ParsedMatrix{Format: format, SourceFiles: []string{name}, ParsedAt: time.Now()}

	var mf MatrixFile
	switch format {
	case FormatCUE:
		file, errs := l.cue.ParseInline(string(data))
		pm.Errors = append(pm.Errors, errs...)
		if file == nil {
			return pm, nil
		}
		mf = *file
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&mf); err != nil && !errors.Is(err, io.EOF) {
			pm.Errors = append(pm.Errors, yamlError(name, err))
			return pm, nil
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&mf); err != nil {
			pm.Errors = append(pm.Errors, ValidationError{
				File:     name,
				Message:  fmt.Sprintf("invalid JSON: %v", err),
				Severity: SeverityError,
			})
			return pm, nil
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	pm.File = &mf
	pm.Errors = append(pm.Errors, l.Validate(ctx, name, &mf)...)
	return pm, nil
}

// Validate runs struct-tag validation, the #Matrix schema and an exclusion
// compile pass over mf.
func (l *Loader) Validate(ctx context.Context, source string, mf *MatrixFile) []ValidationError {
	var out []ValidationError

	if err := l.validator.Struct(mf); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				out = append(out, ValidationError{
					File:     source,
					Path:     fe.Namespace(),
					Message:  fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
					Severity: SeverityError,
				})
			}
		} else {
			out = append(out, ValidationError{File: source, Message: err.Error(), Severity: SeverityError})
		}
	}

	if err := l.schemas.ValidateMatrix(ctx, mf); err != nil {
		out = append(out, ValidationError{File: source, Message: err.Error(), Severity: SeverityError})
	}

	if mf.Reference != "" {
		if _, err := matrix.ParseReference(mf.Reference); err != nil {
			out = append(out, ValidationError{File: source, Path: "reference", Message: err.Error(), Severity: SeverityError})
		}
	}

	for i, expr := range mf.Exclusions {
		if _, err := CompileExclusion(expr); err != nil {
			out = append(out, ValidationError{
				File:     source,
				Path:     fmt.Sprintf("exclusions[%d]", i),
				Message:  err.Error(),
				Severity: SeverityError,
			})
		}
	}

	if len(mf.Dimensions) == 0 && mf.Common == nil && len(mf.Inclusions) == 0 && mf.Script == "" {
		out = append(out, ValidationError{
			File:     source,
			Message:  "matrix declares no dimensions, common builds or inclusions; a single base job will be built",
			Severity: SeverityWarning,
		})
	}

	return out
}

// SpecOptions controls how a matrix file is turned into matrix specs.
type SpecOptions struct {
	// Reference overrides the file reference when its name is set.
	Reference matrix.Reference

	// OS is the host operating system used for common builds.
	OS string

	// Generation is the package manager major version.
	Generation int

	// Exclusions are added after the file's own exclusions.
	Exclusions []matrix.Exclusion
}

// Specs converts mf into the specs to expand. Common builds produce one spec
// per compiler family with the file dimensions appended; otherwise a single
// spec is returned. Inclusions are attached to the last spec so they follow
// every generated configuration.
func (l *Loader) Specs(ctx context.Context, mf *MatrixFile, opts SpecOptions) ([]matrix.Spec, error) {
	ref := opts.Reference
	if ref.Name == "" {
		if mf.Reference == "" {
			return nil, matrix.NewConfigurationError("package reference not declared in the matrix file or environment", nil).
				WithCode(matrix.ErrCodeMissingReference)
		}
		parsed, err := matrix.ParseReference(mf.Reference)
		if err != nil {
			return nil, err
		}
		ref = parsed
	}

	exclusions := make([]matrix.Exclusion, 0, len(mf.Exclusions)+len(opts.Exclusions))
	for _, expr := range mf.Exclusions {
		ex, err := CompileExclusion(expr)
		if err != nil {
			return nil, err
		}
		exclusions = append(exclusions, ex)
	}
	exclusions = append(exclusions, opts.Exclusions...)

	dims := make([]matrix.Dimension, len(mf.Dimensions))
	for i, d := range mf.Dimensions {
		dims[i] = matrix.Dimension{Name: d.Name, Kind: matrix.DimensionKind(d.Kind), Values: d.Values}
	}

	base := matrix.NewBuildConfiguration()
	if mf.Base != nil {
		base = mf.Base.ToBuildConfiguration()
	}

	inclusionBlocks := append([]ConfigurationBlock(nil), mf.Inclusions...)
	if mf.Script != "" {
		scripted, err := l.starlark.ScriptInclusions(ctx, mf.Script, ref)
		if err != nil {
			return nil, matrix.NewConfigurationError("matrix script failed", err)
		}
		inclusionBlocks = append(inclusionBlocks, scripted...)
	}
	inclusions := make([]matrix.BuildConfiguration, len(inclusionBlocks))
	for i, b := range inclusionBlocks {
		inclusions[i] = b.ToBuildConfiguration()
	}

	var specs []matrix.Spec
	if mf.Common != nil {
		cb := mf.Common.CommonBuilds(opts.OS, opts.Generation)
		common, err := cb.Specs(ref, base, exclusions)
		if err != nil {
			return nil, err
		}
		for i := range common {
			common[i].Dimensions = append(common[i].Dimensions, dims...)
		}
		specs = common
	}
	if len(specs) == 0 {
		specs = []matrix.Spec{{
			Reference:  ref,
			Base:       base,
			Dimensions: dims,
			Exclusions: exclusions,
		}}
	}
	specs[len(specs)-1].Inclusions = inclusions
	return specs, nil
}

// CommonBuilds converts the file form into matrix.CommonBuilds.
// hostOS is used when the file does not pin an OS.
func (c *CommonConfig) CommonBuilds(hostOS string, generation int) matrix.CommonBuilds {
	target := c.OS
	if target == "" {
		target = hostOS
	}
	return matrix.CommonBuilds{
		OS:                 target,
		GCCVersions:        c.GCCVersions,
		ClangVersions:      c.ClangVersions,
		AppleClangVersions: c.AppleClangVersions,
		MSVCVersions:       c.MSVCVersions,
		MSVCRuntimes:       c.MSVCRuntimes,
		Archs:              c.Archs,
		BuildTypes:         c.BuildTypes,
		CppStds:            c.CppStds,
		ClangLibcxx:        c.ClangLibcxx,
		SharedOptionName:   c.SharedOptionName,
		PureC:              c.PureC,
		Generation:         generation,
	}
}

func yamlError(name string, err error) ValidationError {
	ve := ValidationError{File: name, Message: err.Error(), Severity: SeverityError}
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		ve.Message = strings.Join(te.Errors, "; ")
	}
	return ve
}

func fmtLocation(file string, line, column int) string {
	if column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, line, column)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
