// Package profiles renders Conan profiles for build configurations.
package profiles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// sections names the profile sections that changed between Conan generations.
type sections struct {
	env      string
	requires string
}

func sectionsFor(generation int) sections {
	if generation == 1 {
		return sections{env: "env", requires: "build_requires"}
	}
	return sections{env: "buildenv", requires: "tool_requires"}
}

// Render produces the host profile for cfg on top of base ("default" when
// empty). extraBuildRequires come from CONAN_BUILD_REQUIRES; entries without
// a pattern apply to every package.
func Render(cfg matrix.BuildConfiguration, base string, generation int, extraBuildRequires []string) string {
	if base == "" {
		base = "default"
	}
	names := sectionsFor(generation)

	var requires []string
	for _, pattern := range sortedKeys(cfg.BuildRequires) {
		for _, req := range cfg.BuildRequires[pattern] {
			requires = append(requires, pattern+":"+req)
		}
	}
	for _, req := range extraBuildRequires {
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		if !strings.Contains(req, ":") {
			req = "*:" + req
		}
		requires = append(requires, req)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "include(%s)\n\n", base)
	writeSection(&b, "settings", pairs(cfg.Settings))
	writeSection(&b, "options", pairs(cfg.Options))
	writeSection(&b, names.env, pairs(cfg.EnvVars))
	writeSection(&b, names.requires, requires)
	return b.String()
}

// RenderBuild produces the build profile, which only includes base.
func RenderBuild(base string) string {
	if base == "" {
		base = "default"
	}
	return fmt.Sprintf("include(%s)\n", base)
}

// PatchDefaultInclude points include(default) at the user's default profile
// when it has another name.
func PatchDefaultInclude(text, defaultProfileName string) string {
	if defaultProfileName == "" || defaultProfileName == "default" {
		return text
	}
	return strings.ReplaceAll(text, "include(default)", "include("+defaultProfileName+")")
}

// SaveTemp writes text to a "profile" file in a fresh temporary directory
// and returns its absolute path.
func SaveTemp(text string) (string, error) {
	dir, err := os.MkdirTemp("", "pkgmatrix-profiles-")
	if err != nil {
		return "", fmt.Errorf("failed to create profile dir: %w", err)
	}
	path := filepath.Join(dir, "profile")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to write profile: %w", err)
	}
	return path, nil
}

func writeSection(b *strings.Builder, name string, lines []string) {
	fmt.Fprintf(b, "[%s]\n", name)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

func pairs(m map[string]string) []string {
	keys := sortedKeys(m)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
