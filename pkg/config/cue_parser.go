package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser parses matrix declarations written in CUE.
//
// The declaration may live at the root of the file or under a top-level
// "matrix" field, which lets a CUE package carry helper definitions next to it.
type CUEParser struct {
	ctx *cue.Context
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx: cuecontext.New(),
	}
}

// ParseFile parses a single CUE file.
func (cp *CUEParser) ParseFile(path string) (*MatrixFile, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: SeverityError,
		}}
	}
	return cp.parse(cp.ctx.CompileBytes(content, cue.Filename(path)), path)
}

// ParseDirectory loads a directory as a CUE package.
func (cp *CUEParser) ParseDirectory(dir string) (*MatrixFile, []string, []ValidationError) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return nil, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: SeverityError,
		}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, nil, cp.convertCUEErrors(inst.Err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	mf, errs := cp.parse(cp.ctx.BuildInstance(inst), dir)
	return mf, files, errs
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (*MatrixFile, []ValidationError) {
	return cp.parse(cp.ctx.CompileString(content, cue.Filename("inline")), "inline")
}

func (cp *CUEParser) parse(val cue.Value, source string) (*MatrixFile, []ValidationError) {
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	if nested := val.LookupPath(cue.ParsePath("matrix")); nested.Exists() {
		val = nested
	}

	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	var mf MatrixFile
	if err := val.Decode(&mf); err != nil {
		return nil, []ValidationError{{
			File:     source,
			Message:  fmt.Sprintf("failed to decode matrix: %v", err),
			Severity: SeverityError,
		}}
	}
	return &mf, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: SeverityError,
		})
	}

	return validationErrors
}
