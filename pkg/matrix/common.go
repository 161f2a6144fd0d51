package matrix

import (
	"fmt"
	"strings"
)

// Host operating systems recognised by CommonBuilds.
const (
	OSLinux   = "Linux"
	OSMacos   = "Macos"
	OSWindows = "Windows"
)

// Default values used when the corresponding CommonBuilds field is empty.
var (
	DefaultArchs        = []string{"x86_64"}
	DefaultBuildTypes   = []string{"Release", "Debug"}
	DefaultMSVCRuntimes = []string{"dynamic", "static"}
	DefaultClangLibcxx  = []string{"libstdc++11", "libc++"}
)

// CommonBuilds generates the usual matrix for a host OS: one Spec per compiler family.
type CommonBuilds struct {
	OS string

	GCCVersions        []string
	ClangVersions      []string
	AppleClangVersions []string
	MSVCVersions       []string
	MSVCRuntimes       []string

	Archs       []string
	BuildTypes  []string
	CppStds     []string
	ClangLibcxx []string

	// SharedOptionName is the option toggled True/False. "-" disables the
	// option axis, empty selects the default for the package manager generation.
	SharedOptionName string

	// PureC skips compiler.libcxx and compiler.cppstd axes.
	PureC bool

	// Generation is the package manager major version (1 or 2).
	Generation int
}

// Specs returns the specs for ref. Base, exclusions and inclusions are shared by all of them.
func (cb CommonBuilds) Specs(ref Reference, base BuildConfiguration, exclusions []Exclusion) ([]Spec, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var families []family
	switch cb.OS {
	case OSLinux:
		families = append(families,
			family{compiler: "gcc", versions: cb.GCCVersions, libcxx: []string{"libstdc++11"}},
			family{compiler: "clang", versions: cb.ClangVersions, libcxx: orDefault(cb.ClangLibcxx, DefaultClangLibcxx)},
		)
	case OSMacos:
		families = append(families,
			family{compiler: "apple-clang", versions: cb.AppleClangVersions, libcxx: []string{"libc++"}})
	case OSWindows:
		families = append(families,
			family{compiler: "msvc", versions: cb.MSVCVersions, runtimes: orDefault(cb.MSVCRuntimes, DefaultMSVCRuntimes)})
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unsupported host OS %q", cb.OS), nil)
	}

	var specs []Spec
	for _, f := range families {
		if len(f.versions) == 0 {
			continue
		}
		specs = append(specs, Spec{
			Reference:  ref,
			Base:       cb.familyBase(base, f.compiler),
			Dimensions: cb.dimensions(ref, f),
			Exclusions: exclusions,
		})
	}
	return specs, nil
}

type family struct {
	compiler string
	versions []string
	libcxx   []string
	runtimes []string
}

func (cb CommonBuilds) familyBase(base BuildConfiguration, compiler string) BuildConfiguration {
	b := NewBuildConfiguration().Merge(base)
	b.Settings["os"] = cb.OS
	b.Settings["compiler"] = compiler
	return b
}

func (cb CommonBuilds) dimensions(ref Reference, f family) []Dimension {
	dims := []Dimension{
		{Name: "compiler.version", Kind: KindSetting, Values: f.versions},
		{Name: "arch", Kind: KindSetting, Values: orDefault(cb.Archs, DefaultArchs)},
		{Name: "build_type", Kind: KindSetting, Values: orDefault(cb.BuildTypes, DefaultBuildTypes)},
	}
	if !cb.PureC {
		if len(cb.CppStds) > 0 {
			dims = append(dims, Dimension{Name: "compiler.cppstd", Kind: KindSetting, Values: cb.CppStds})
		}
		if len(f.libcxx) > 0 {
			dims = append(dims, Dimension{Name: "compiler.libcxx", Kind: KindSetting, Values: f.libcxx})
		}
	}
	if len(f.runtimes) > 0 {
		dims = append(dims, Dimension{Name: "compiler.runtime", Kind: KindSetting, Values: f.runtimes})
	}
	if opt := cb.sharedOption(ref); opt != "" {
		dims = append(dims, Dimension{Name: opt, Kind: KindOption, Values: []string{"False", "True"}})
	}
	return dims
}

func (cb CommonBuilds) sharedOption(ref Reference) string {
	switch strings.TrimSpace(cb.SharedOptionName) {
	case "-":
		return ""
	case "":
		if cb.Generation == 1 {
			return ref.Name + ":shared"
		}
		return ref.Name + "/*:shared"
	default:
		return cb.SharedOptionName
	}
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
