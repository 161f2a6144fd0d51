package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

const cueMatrix = `
reference: "zlib/1.3.1@lasote/testing"
base: settings: {
	os:       "Linux"
	compiler: "gcc"
}
dimensions: [
	{name: "arch", kind: "setting", values: ["x86", "x86_64"]},
	{name: "build_type", kind: "setting", values: ["Release"]},
]
exclusions: ["settings[\"arch\"] == \"x86\""]
inclusions: [
	{settings: {arch: "armv8", build_type: "Debug"}},
]
`

func TestLoader_LoadBytesCUE(t *testing.T) {
	loader := NewLoader()
	ctx := context.Background()

	pm, err := loader.LoadBytes(ctx, FormatCUE, "inline", []byte(cueMatrix))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if pm.HasErrors() {
		t.Fatalf("Unexpected validation errors: %v", pm.Errors)
	}
	if pm.File.Reference != "zlib/1.3.1@lasote/testing" {
		t.Errorf("Expected reference to be decoded, got: %q", pm.File.Reference)
	}

	specs, err := loader.Specs(ctx, pm.File, SpecOptions{})
	if err != nil {
		t.Fatalf("Specs() error = %v", err)
	}
	jobs, _, err := matrix.ExpandAll(specs...)
	if err != nil {
		t.Fatalf("ExpandAll() error = %v", err)
	}

	var archs []string
	for _, j := range jobs {
		archs = append(archs, j.Settings["arch"])
		if j.Settings["os"] != "Linux" {
			t.Errorf("Expected base os on every job, got: %v", j.Settings)
		}
	}
	if diff := cmp.Diff([]string{"x86_64", "armv8"}, archs); diff != "" {
		t.Errorf("Arch mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_NestedMatrixField(t *testing.T) {
	content := `
#archs: ["x86_64", "armv8"]
matrix: {
	reference: "fmt/10.2.1"
	dimensions: [{name: "arch", kind: "setting", values: #archs}]
}
`
	pm, err := NewLoader().LoadBytes(context.Background(), FormatCUE, "inline", []byte(content))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if pm.HasErrors() {
		t.Fatalf("Unexpected validation errors: %v", pm.Errors)
	}
	if got := pm.File.Dimensions[0].Values; len(got) != 2 {
		t.Errorf("Expected 2 arch values, got: %v", got)
	}
}

func TestLoader_CUESyntaxError(t *testing.T) {
	content := `
reference: "zlib/1.3.1"
dimensions: [
	invalid syntax here
`
	pm, err := NewLoader().LoadBytes(context.Background(), FormatCUE, "inline", []byte(content))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if !pm.HasErrors() {
		t.Fatal("Expected syntax errors")
	}
	if pm.File != nil {
		t.Errorf("Expected no decoded file on syntax error")
	}
}

func TestLoader_YAMLWithCommonBuilds(t *testing.T) {
	content := `
reference: fmt/10.2.1
common:
  os: Linux
  gcc_versions: ["13"]
  build_types: [Release]
  pure_c: true
dimensions:
  - name: CXXFLAGS
    kind: env
    values: ["-O2"]
`
	loader := NewLoader()
	ctx := context.Background()
	pm, err := loader.LoadBytes(ctx, FormatYAML, "matrix.yaml", []byte(content))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if pm.HasErrors() {
		t.Fatalf("Unexpected validation errors: %v", pm.Errors)
	}

	specs, err := loader.Specs(ctx, pm.File, SpecOptions{OS: "Windows", Generation: 2})
	if err != nil {
		t.Fatalf("Specs() error = %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("Expected a single gcc spec, got: %d", len(specs))
	}
	jobs, err := matrix.Expand(specs[0])
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs (shared False/True), got: %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Settings["os"] != "Linux" || j.EnvVars["CXXFLAGS"] != "-O2" {
			t.Errorf("Unexpected job: %s", j)
		}
	}
}

func TestLoader_YAMLUnknownField(t *testing.T) {
	content := "referense: zlib/1.3.1\n"
	pm, err := NewLoader().LoadBytes(context.Background(), FormatYAML, "matrix.yaml", []byte(content))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if !pm.HasErrors() {
		t.Fatal("Expected an unknown field error")
	}
}

func TestLoader_JSONWithComments(t *testing.T) {
	content := `{
	// the package
	"reference": "zlib/1.3.1",
	"dimensions": [
		{"name": "build_type", "kind": "setting", "values": ["Release", "Debug"]}, /* trailing comma */
	],
}`
	pm, err := NewLoader().LoadBytes(context.Background(), FormatJSON, "matrix.jsonc", []byte(content))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if pm.HasErrors() {
		t.Fatalf("Unexpected validation errors: %v", pm.Errors)
	}
	if got := pm.File.Dimensions[0].Values; len(got) != 2 {
		t.Errorf("Expected 2 build types, got: %v", got)
	}
}

func TestLoader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
	}{
		{
			name:    "unknown kind",
			content: `{"reference": "zlib/1.3.1", "dimensions": [{"name": "arch", "kind": "axis", "values": ["x86"]}]}`,
			path:    "Kind",
		},
		{
			name:    "empty values",
			content: `{"reference": "zlib/1.3.1", "dimensions": [{"name": "arch", "kind": "setting", "values": []}]}`,
			path:    "Values",
		},
		{
			name:    "bad reference",
			content: `{"reference": "zlib", "dimensions": [{"name": "arch", "kind": "setting", "values": ["x86"]}]}`,
			path:    "reference",
		},
		{
			name:    "bad exclusion",
			content: `{"reference": "zlib/1.3.1", "exclusions": ["settings[ =="]}`,
			path:    "exclusions[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, err := NewLoader().LoadBytes(context.Background(), FormatJSON, "matrix.json", []byte(tt.content))
			if err != nil {
				t.Fatalf("LoadBytes() error = %v", err)
			}
			if !pm.HasErrors() {
				t.Fatal("Expected validation errors")
			}
			found := false
			for _, e := range pm.Errors {
				if strings.Contains(e.Path, tt.path) {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected an error at %q, got: %v", tt.path, pm.Errors)
			}
		})
	}
}

func TestLoader_EmptyMatrixWarns(t *testing.T) {
	pm, err := NewLoader().LoadBytes(context.Background(), FormatJSON, "matrix.json", []byte(`{"reference": "zlib/1.3.1"}`))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if pm.HasErrors() {
		t.Fatalf("Unexpected errors: %v", pm.Errors)
	}
	if len(pm.Errors) != 1 || pm.Errors[0].Severity != SeverityWarning {
		t.Errorf("Expected a single warning, got: %v", pm.Errors)
	}
}

func TestLoader_LoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"matrix.cue":  cueMatrix,
		"matrix.yaml": "reference: zlib/1.3.1\ndimensions:\n  - {name: arch, kind: setting, values: [x86_64]}\n",
		"matrix.json": `{"reference": "zlib/1.3.1", "dimensions": [{"name": "arch", "kind": "setting", "values": ["x86_64"]}]}`,
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		pm, err := NewLoader().Load(context.Background(), path)
		if err != nil {
			t.Fatalf("Load(%s) error = %v", name, err)
		}
		if pm.HasErrors() {
			t.Errorf("Load(%s): unexpected errors %v", name, pm.Errors)
		}
		if pm.File.Reference == "" {
			t.Errorf("Load(%s): reference not decoded", name)
		}
	}

	if _, err := NewLoader().Load(context.Background(), filepath.Join(dir, "matrix.toml")); err == nil {
		t.Error("Expected an error for an unsupported extension")
	}
}

func TestLoader_SpecsReferenceOverride(t *testing.T) {
	loader := NewLoader()
	mf := &MatrixFile{Reference: "zlib/1.3.1"}

	override := matrix.Reference{Name: "zlib", Version: "1.3.1", User: "conan", Channel: "stable"}
	specs, err := loader.Specs(context.Background(), mf, SpecOptions{Reference: override})
	if err != nil {
		t.Fatalf("Specs() error = %v", err)
	}
	if specs[0].Reference != override {
		t.Errorf("Expected override reference, got: %v", specs[0].Reference)
	}

	_, err = loader.Specs(context.Background(), &MatrixFile{}, SpecOptions{})
	if !matrix.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for a missing reference, got: %v", err)
	}
}

func TestLoader_SpecsScriptInclusions(t *testing.T) {
	mf := &MatrixFile{
		Reference: "zlib/1.3.1",
		Script: `
def config(arch):
    return {"settings": {"arch": arch, "build_type": "Release"}}

inclusions = [config(a) for a in ["x86_64", "armv8"]]
`,
	}
	specs, err := NewLoader().Specs(context.Background(), mf, SpecOptions{})
	if err != nil {
		t.Fatalf("Specs() error = %v", err)
	}
	jobs, err := matrix.Expand(specs[0])
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	// the empty base job, then the two scripted inclusions
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs, got: %d", len(jobs))
	}
	if jobs[2].Settings["arch"] != "armv8" {
		t.Errorf("Expected armv8 last, got: %v", jobs[2].Settings)
	}
}
