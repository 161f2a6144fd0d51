package config

import (
	"context"
	"testing"
	"time"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

func TestStarlarkExclusion(t *testing.T) {
	cfg := matrix.BuildConfiguration{
		Settings:      map[string]string{"os": "Windows", "compiler": "msvc", "arch": "x86"},
		Options:       map[string]string{"zlib/*:shared": "True"},
		EnvVars:       map[string]string{"CC": "cl"},
		BuildRequires: map[string][]string{"*": {"ninja/1.11.1"}},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"setting equals", `settings["arch"] == "x86"`, true},
		{"and", `settings["os"] == "Windows" and options.get("zlib/*:shared") == "True"`, true},
		{"missing key with get", `settings.get("compiler.libcxx") == "libc++"`, false},
		{"env", `env["CC"] == "gcc"`, false},
		{"build requires", `"ninja/1.11.1" in build_requires.get("*", [])`, true},
		{"in list", `settings["compiler"] in ["gcc", "clang"]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := CompileExclusion(tt.expr)
			if err != nil {
				t.Fatalf("CompileExclusion() error = %v", err)
			}
			got, err := ex.Excludes(cfg)
			if err != nil {
				t.Fatalf("Excludes() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Excludes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStarlarkExclusion_Errors(t *testing.T) {
	if _, err := CompileExclusion(`settings[`); !matrix.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for a syntax error, got: %v", err)
	}

	cfg := matrix.NewBuildConfiguration()

	nonBool, err := CompileExclusion(`"yes"`)
	if err != nil {
		t.Fatalf("CompileExclusion() error = %v", err)
	}
	if _, err := nonBool.Excludes(cfg); err == nil {
		t.Error("Expected an error for a non-bool result")
	}

	missing, err := CompileExclusion(`settings["arch"] == "x86"`)
	if err != nil {
		t.Fatalf("CompileExclusion() error = %v", err)
	}
	if _, err := missing.Excludes(cfg); err == nil {
		t.Error("Expected a key error for a missing setting")
	}
}

func TestStarlarkExclusion_InExpand(t *testing.T) {
	ex, err := CompileExclusion(`settings["arch"] == "x86"`)
	if err != nil {
		t.Fatalf("CompileExclusion() error = %v", err)
	}
	spec := matrix.Spec{
		Reference: matrix.Reference{Name: "zlib", Version: "1.3.1"},
		Dimensions: []matrix.Dimension{
			{Name: "arch", Kind: matrix.KindSetting, Values: []string{"x86", "x86_64"}},
		},
		Exclusions: []matrix.Exclusion{ex},
	}
	jobs, err := matrix.Expand(spec)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].Settings["arch"] != "x86_64" {
		t.Errorf("Unexpected jobs: %v", jobs.IDs())
	}
}

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	script := `
versions = [str(v) for v in range(11, 14)]
_hidden = 1
label = name + "/" + version
`
	result, err := evaluator.Evaluate(context.Background(), script, map[string]interface{}{
		"name":    "zlib",
		"version": "1.3.1",
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Output["label"] != "zlib/1.3.1" {
		t.Errorf("Expected label zlib/1.3.1, got: %v", result.Output["label"])
	}
	versions, ok := result.Output["versions"].([]interface{})
	if !ok || len(versions) != 3 || versions[0] != "11" {
		t.Errorf("Unexpected versions: %v", result.Output["versions"])
	}
	if _, ok := result.Output["_hidden"]; ok {
		t.Error("Expected underscore globals to be hidden")
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50 * time.Millisecond)
	script := `
def spin():
    n = 0
    for i in range(100000):
        for j in range(100000):
            n += j
    return n

x = spin()
`
	_, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
}

func TestStarlarkEvaluator_ScriptInclusionsErrors(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Second)
	ref := matrix.Reference{Name: "zlib", Version: "1.3.1"}

	tests := []string{
		`inclusions = "x86"`,
		`inclusions = ["x86"]`,
		`inclusions = [{"flavour": {}}]`,
	}
	for _, script := range tests {
		if _, err := evaluator.ScriptInclusions(context.Background(), script, ref); err == nil {
			t.Errorf("Expected an error for %q", script)
		}
	}

	blocks, err := evaluator.ScriptInclusions(context.Background(), `other = 1`, ref)
	if err != nil || blocks != nil {
		t.Errorf("Expected no inclusions, got %v, %v", blocks, err)
	}
}
