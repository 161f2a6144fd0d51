package matrix

import (
	"testing"
)

func TestCommonBuildsPerOS(t *testing.T) {
	ref := Reference{Name: "zlib", Version: "1.3.1"}
	tests := []struct {
		name      string
		cb        CommonBuilds
		compilers []string
		jobs      int
	}{
		{
			name:      "linux gcc and clang",
			cb:        CommonBuilds{OS: OSLinux, GCCVersions: []string{"11", "12"}, ClangVersions: []string{"16"}},
			compilers: []string{"gcc", "clang"},
			// gcc: 2 versions x 2 build types x 1 libcxx x 2 shared; clang: 1 x 2 x 2 libcxx x 2
			jobs: 16,
		},
		{
			name:      "macos apple-clang",
			cb:        CommonBuilds{OS: OSMacos, AppleClangVersions: []string{"15"}, Archs: []string{"x86_64", "armv8"}},
			compilers: []string{"apple-clang"},
			jobs:      8,
		},
		{
			name:      "windows msvc runtimes",
			cb:        CommonBuilds{OS: OSWindows, MSVCVersions: []string{"193"}, SharedOptionName: "-"},
			compilers: []string{"msvc"},
			jobs:      4,
		},
		{
			name:      "linux only gcc declared",
			cb:        CommonBuilds{OS: OSLinux, GCCVersions: []string{"13"}, PureC: true, BuildTypes: []string{"Release"}},
			compilers: []string{"gcc"},
			jobs:      2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := tt.cb.Specs(ref, BuildConfiguration{}, nil)
			if err != nil {
				t.Fatalf("Specs() error = %v", err)
			}
			if len(specs) != len(tt.compilers) {
				t.Fatalf("Expected %d specs, got: %d", len(tt.compilers), len(specs))
			}
			for i, s := range specs {
				if s.Base.Settings["compiler"] != tt.compilers[i] {
					t.Errorf("spec %d: expected compiler %s, got: %s", i, tt.compilers[i], s.Base.Settings["compiler"])
				}
				if s.Base.Settings["os"] != tt.cb.OS {
					t.Errorf("spec %d: expected os %s, got: %s", i, tt.cb.OS, s.Base.Settings["os"])
				}
			}
			jobs, _, err := ExpandAll(specs...)
			if err != nil {
				t.Fatalf("ExpandAll() error = %v", err)
			}
			if len(jobs) != tt.jobs {
				t.Errorf("Expected %d jobs, got: %d", tt.jobs, len(jobs))
			}
		})
	}
}

func TestCommonBuildsPureCSkipsLibcxx(t *testing.T) {
	cb := CommonBuilds{OS: OSLinux, GCCVersions: []string{"13"}, CppStds: []string{"17", "20"}, PureC: true}
	specs, err := cb.Specs(Reference{Name: "lz4", Version: "1.9.4"}, BuildConfiguration{}, nil)
	if err != nil {
		t.Fatalf("Specs() error = %v", err)
	}
	for _, d := range specs[0].Dimensions {
		if d.Name == "compiler.libcxx" || d.Name == "compiler.cppstd" {
			t.Errorf("Unexpected dimension %s for a pure C package", d.Name)
		}
	}
}

func TestCommonBuildsSharedOptionName(t *testing.T) {
	ref := Reference{Name: "zlib", Version: "1.3.1"}
	tests := []struct {
		cb   CommonBuilds
		want string
	}{
		{CommonBuilds{}, "zlib/*:shared"},
		{CommonBuilds{Generation: 1}, "zlib:shared"},
		{CommonBuilds{SharedOptionName: "zlib/*:fPIC"}, "zlib/*:fPIC"},
		{CommonBuilds{SharedOptionName: "-"}, ""},
	}
	for _, tt := range tests {
		if got := tt.cb.sharedOption(ref); got != tt.want {
			t.Errorf("sharedOption() = %q, want %q", got, tt.want)
		}
	}
}

func TestCommonBuildsUnsupportedOS(t *testing.T) {
	_, err := CommonBuilds{OS: "Plan9"}.Specs(Reference{Name: "zlib", Version: "1.3.1"}, BuildConfiguration{}, nil)
	if !IsConfigurationError(err) {
		t.Errorf("Expected configuration error, got: %v", err)
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		in      string
		want    Reference
		wantErr bool
	}{
		{in: "zlib/1.3.1", want: Reference{Name: "zlib", Version: "1.3.1"}},
		{in: "zlib/1.3.1@", want: Reference{Name: "zlib", Version: "1.3.1"}},
		{in: "zlib/1.3.1@lasote/stable", want: Reference{Name: "zlib", Version: "1.3.1", User: "lasote", Channel: "stable"}},
		{in: "", wantErr: true},
		{in: "zlib", wantErr: true},
		{in: "/1.0", wantErr: true},
		{in: "zlib/1.0@lasote", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReference(tt.in)
			if tt.wantErr {
				if !IsConfigurationError(err) {
					t.Fatalf("Expected configuration error, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReference() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseReference() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReferenceStrings(t *testing.T) {
	r := Reference{Name: "zlib", Version: "1.3.1"}
	if r.String() != "zlib/1.3.1" || r.FullString() != "zlib/1.3.1@" {
		t.Errorf("Unexpected strings %q, %q", r.String(), r.FullString())
	}
	r = r.WithChannel("lasote", "stable")
	if r.String() != "zlib/1.3.1@lasote/stable" || r.FullString() != "zlib/1.3.1@lasote/stable" {
		t.Errorf("Unexpected strings %q, %q", r.String(), r.FullString())
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewConfigurationError("dimension declared without values", nil).WithDimension("arch")
	want := "[configuration] dimension declared without values (dimension=arch)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if IsTransient(err) || IsRetryable(err) {
		t.Errorf("Configuration error must not be retryable")
	}
	if !IsRetryable(NewTransientError("timeout", nil)) {
		t.Errorf("Transient error must be retryable")
	}
}
