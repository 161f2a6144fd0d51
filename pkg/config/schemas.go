package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are constants; a compile failure is a programming error.
	for name, def := range builtinSchemas {
		if err := sr.RegisterSchema(name, def.definition, def.source); err != nil {
			panic(err)
		}
	}

	return sr
}

// RegisterSchema compiles source and registers the definition (e.g. "#Matrix") under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.RLock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.RUnlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateMatrix validates a matrix file against the matrix schema.
func (sr *SchemaRegistry) ValidateMatrix(ctx context.Context, mf *MatrixFile) error {
	return sr.ValidateAgainstSchema(ctx, "matrix", mf)
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type schemaSource struct {
	definition string
	source     string
}

var builtinSchemas = map[string]schemaSource{
	"matrix":    {definition: "#Matrix", source: builtinMatrixSchema},
	"dimension": {definition: "#Dimension", source: builtinMatrixSchema},
	"settings":  {definition: "#Settings", source: builtinSettingsSchema},
}

const builtinMatrixSchema = `
#Block: {
	settings?: {[string]: string}
	options?: {[string]: string}
	env?: {[string]: string}
	build_requires?: {[string]: [...string]}
}

#Dimension: {
	name:   string & !=""
	kind:   "setting" | "option" | "env" | "build_require"
	values: [string, ...string]
}

#Common: {
	os?: "Linux" | "Macos" | "Windows"
	gcc_versions?: [...string]
	clang_versions?: [...string]
	apple_clang_versions?: [...string]
	msvc_versions?: [...string]
	msvc_runtimes?: [...("dynamic" | "static")]
	archs?: [...string]
	build_types?: [...string]
	cppstds?: [...string]
	clang_libcxx?: [...string]
	shared_option_name?: string
	pure_c?: bool
}

#Matrix: {
	// name/version, optionally followed by @ and user/channel
	reference?: string & =~"^[^/@]+/[^/@]+(@([^/@]+/[^/@]+)?)?$"
	base?:      #Block
	dimensions?: [...#Dimension]
	common?: #Common
	exclusions?: [...string]
	inclusions?: [...#Block]
	script?: string
	policies?: [...string]
}
`

const builtinSettingsSchema = `
#Settings: {
	conan_version?: 0 | 1 | 2
	page?:          int & >=1
	total_pages?:   int & >=1
	...
}
`
