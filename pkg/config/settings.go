package config

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings is the runtime configuration of a packaging run. It is built once
// from a Lookup and passed explicitly to every component.
type Settings struct {
	// Package identity.
	Reference     string `json:"reference,omitempty"`
	Username      string `json:"username,omitempty"`
	Channel       string `json:"channel" validate:"required"`
	StableChannel string `json:"stable_channel" validate:"required"`
	RecipePath    string `json:"recipe_path" validate:"required"`

	// Branch handling.
	StableBranchPatterns []string `json:"stable_branch_patterns"`
	StableTagChannel     bool     `json:"stable_tag_channel"`

	// Paging across CI workers.
	Page       int `json:"page" validate:"min=1"`
	TotalPages int `json:"total_pages" validate:"min=1,gtefield=Page"`

	// Package manager.
	ConanVersion     int      `json:"conan_version" validate:"oneof=0 1 2"`
	BuildPolicy      []string `json:"build_policy,omitempty"`
	BaseProfile      string   `json:"base_profile" validate:"required"`
	BaseProfileBuild string   `json:"base_profile_build" validate:"required"`
	BuildRequires    []string `json:"build_requires,omitempty"`
	ConfigURL        string   `json:"config_url,omitempty"`
	ConfigArgs       string   `json:"config_args,omitempty"`
	GlobalConf       []string `json:"global_conf,omitempty"`
	HostOS           string   `json:"host_os" validate:"oneof=Linux Macos Windows"`

	// Remotes and upload.
	Remotes              string        `json:"remotes,omitempty"`
	Upload               string        `json:"upload,omitempty"`
	UploadRetry          int           `json:"upload_retry" validate:"min=0"`
	UploadRetryWait      time.Duration `json:"upload_retry_wait"`
	UploadForce          bool          `json:"upload_force"`
	UploadOnlyWhenStable bool          `json:"upload_only_when_stable"`
	UploadOnlyWhenTag    bool          `json:"upload_only_when_tag"`
	UploadOnlyRecipe     bool          `json:"upload_only_recipe"`
	UploadDependencies   []string      `json:"upload_dependencies,omitempty"`
	SkipCheckCredentials bool          `json:"skip_check_credentials"`

	// Docker runner.
	UseDocker             bool   `json:"use_docker"`
	DockerImage           string `json:"docker_image,omitempty"`
	DockerImagePattern    string `json:"docker_image_pattern"`
	DockerRunOptions      string `json:"docker_run_options,omitempty"`
	DockerImageSkipUpdate bool   `json:"docker_image_skip_update"`
	DockerEntryScript     string `json:"docker_entry_script,omitempty"`
	DockerShell           string `json:"docker_shell,omitempty"`
	DockerUseSudo         bool   `json:"docker_use_sudo"`
	DockerPlatform        string `json:"docker_platform,omitempty"`
	PipPackage            string `json:"pip_package,omitempty"`

	// SSH runner.
	SSHHost    string `json:"ssh_host,omitempty" validate:"omitempty,hostname_port|hostname|ip"`
	SSHUser    string `json:"ssh_user,omitempty"`
	SSHKeyPath string `json:"ssh_key_path,omitempty"`
	SSHWorkDir string `json:"ssh_work_dir,omitempty"`

	// Common build generation from the environment.
	GCCVersions        []string `json:"gcc_versions,omitempty"`
	ClangVersions      []string `json:"clang_versions,omitempty"`
	AppleClangVersions []string `json:"apple_clang_versions,omitempty"`
	MSVCVersions       []string `json:"msvc_versions,omitempty"`
	MSVCRuntimes       []string `json:"msvc_runtimes,omitempty"`
	Archs              []string `json:"archs,omitempty"`
	BuildTypes         []string `json:"build_types,omitempty"`
	CppStds            []string `json:"cppstds,omitempty"`
	ClangLibcxx        []string `json:"clang_libcxx,omitempty"`
	SharedOptionName   string   `json:"shared_option_name,omitempty"`
	PureC              bool     `json:"pure_c"`

	// Outputs.
	SummaryFile string `json:"summary_file,omitempty"`
	HistoryDB   string `json:"history_db,omitempty"`

	// Artifact mirror.
	ArtifactEndpoint  string `json:"artifact_endpoint,omitempty"`
	ArtifactBucket    string `json:"artifact_bucket,omitempty" validate:"required_with=ArtifactEndpoint"`
	ArtifactAccessKey string `json:"-"`
	ArtifactSecretKey string `json:"-"`
	ArtifactUseSSL    bool   `json:"artifact_use_ssl"`
}

// DefaultStableBranchPatterns matches the branches whose builds go to the stable channel.
var DefaultStableBranchPatterns = []string{"master$", "main$", "release.*", "stable.*"}

// LoadSettings reads the settings from lookup, fills defaults and validates them.
func LoadSettings(lookup Lookup) (*Settings, error) {
	e := NewEnv(lookup)

	s := &Settings{
		Reference:     e.String("CONAN_REFERENCE", ""),
		Username:      e.String("CONAN_USERNAME", ""),
		Channel:       e.String("CONAN_CHANNEL", "testing"),
		StableChannel: e.String("CONAN_STABLE_CHANNEL", "stable"),
		RecipePath:    e.String("CONAN_RECIPE_PATH", "."),

		StableBranchPatterns: e.List("CONAN_STABLE_BRANCH_PATTERN", DefaultStableBranchPatterns),
		StableTagChannel:     e.Bool("CONAN_STABLE_TAG_CHANNEL", true),

		Page:       e.Int("CONAN_CURRENT_PAGE", 1),
		TotalPages: e.Int("CONAN_TOTAL_PAGES", 1),

		ConanVersion:     e.Int("CONAN_VERSION_MAJOR", 0),
		BuildPolicy:      e.List("CONAN_BUILD_POLICY", nil),
		BaseProfile:      e.String("CONAN_BASE_PROFILE", "default"),
		BaseProfileBuild: e.String("CONAN_BASE_PROFILE_BUILD", "default"),
		BuildRequires:    e.List("CONAN_BUILD_REQUIRES", nil),
		ConfigURL:        e.String("CONAN_CONFIG_URL", ""),
		ConfigArgs:       e.String("CONAN_CONFIG_ARGS", ""),
		GlobalConf:       e.List("CONAN_GLOBAL_CONF", nil),
		HostOS:           e.String("CONAN_HOST_OS", HostOS()),

		Remotes:              e.String("CONAN_REMOTES", ""),
		Upload:               e.String("CONAN_UPLOAD", ""),
		UploadRetry:          e.Int("CONAN_UPLOAD_RETRY", 3),
		UploadRetryWait:      e.Duration("CONAN_UPLOAD_RETRY_WAIT", 5*time.Second),
		UploadForce:          e.Bool("CONAN_UPLOAD_FORCE", true),
		UploadOnlyWhenStable: e.Bool("CONAN_UPLOAD_ONLY_WHEN_STABLE", false),
		UploadOnlyWhenTag:    e.Bool("CONAN_UPLOAD_ONLY_WHEN_TAG", false),
		UploadOnlyRecipe:     e.Bool("CONAN_UPLOAD_ONLY_RECIPE", false),
		UploadDependencies:   e.List("CONAN_UPLOAD_DEPENDENCIES", nil),
		SkipCheckCredentials: e.Bool("CONAN_SKIP_CHECK_CREDENTIALS", false),

		UseDocker:             e.Bool("CONAN_USE_DOCKER", false),
		DockerImage:           e.String("CONAN_DOCKER_IMAGE", ""),
		DockerImagePattern:    e.String("CONAN_DOCKER_IMAGE_PATTERN", "conanio/{compiler}{version}"),
		DockerRunOptions:      e.String("CONAN_DOCKER_RUN_OPTIONS", ""),
		DockerImageSkipUpdate: e.Bool("CONAN_DOCKER_IMAGE_SKIP_UPDATE", false),
		DockerEntryScript:     e.String("CONAN_DOCKER_ENTRY_SCRIPT", ""),
		DockerShell:           e.String("CONAN_DOCKER_SHELL", ""),
		DockerUseSudo:         e.Bool("CONAN_DOCKER_USE_SUDO", false),
		DockerPlatform:        e.String("CONAN_DOCKER_PLATFORM", ""),
		PipPackage:            e.String("CONAN_PIP_PACKAGE", ""),

		SSHHost:    e.String("PKGMATRIX_SSH_HOST", ""),
		SSHUser:    e.String("PKGMATRIX_SSH_USER", ""),
		SSHKeyPath: e.String("PKGMATRIX_SSH_KEY", ""),
		SSHWorkDir: e.String("PKGMATRIX_SSH_WORKDIR", "/tmp/pkgmatrix"),

		GCCVersions:        e.List("CONAN_GCC_VERSIONS", nil),
		ClangVersions:      e.List("CONAN_CLANG_VERSIONS", nil),
		AppleClangVersions: e.List("CONAN_APPLE_CLANG_VERSIONS", nil),
		MSVCVersions:       e.List("CONAN_MSVC_VERSIONS", nil),
		MSVCRuntimes:       e.List("CONAN_MSVC_RUNTIMES", nil),
		Archs:              e.List("CONAN_ARCHS", nil),
		BuildTypes:         e.List("CONAN_BUILD_TYPES", nil),
		CppStds:            e.List("CONAN_CPPSTDS", nil),
		ClangLibcxx:        e.List("CONAN_CLANG_LIBCXX", nil),
		SharedOptionName:   e.String("CONAN_SHARED_OPTION_NAME", ""),
		PureC:              e.Bool("CONAN_PURE_C", false),

		SummaryFile: e.String("PKGMATRIX_SUMMARY_FILE", ""),
		HistoryDB:   e.String("PKGMATRIX_HISTORY_DB", ""),

		ArtifactEndpoint:  e.String("PKGMATRIX_ARTIFACT_ENDPOINT", ""),
		ArtifactBucket:    e.String("PKGMATRIX_ARTIFACT_BUCKET", ""),
		ArtifactAccessKey: e.String("PKGMATRIX_ARTIFACT_ACCESS_KEY", ""),
		ArtifactSecretKey: e.String("PKGMATRIX_ARTIFACT_SECRET_KEY", ""),
		ArtifactUseSSL:    e.Bool("PKGMATRIX_ARTIFACT_USE_SSL", true),
	}
	if e.Err != nil {
		return nil, e.Err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the struct tags and the #Settings schema.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := NewSchemaRegistry().ValidateAgainstSchema(context.Background(), "settings", s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// CommonConfig returns the common-build declaration derived from the
// environment, or nil when no compiler versions are listed.
func (s *Settings) CommonConfig() *CommonConfig {
	if len(s.GCCVersions)+len(s.ClangVersions)+len(s.AppleClangVersions)+len(s.MSVCVersions) == 0 {
		return nil
	}
	return &CommonConfig{
		OS:                 s.HostOS,
		GCCVersions:        s.GCCVersions,
		ClangVersions:      s.ClangVersions,
		AppleClangVersions: s.AppleClangVersions,
		MSVCVersions:       s.MSVCVersions,
		MSVCRuntimes:       s.MSVCRuntimes,
		Archs:              s.Archs,
		BuildTypes:         s.BuildTypes,
		CppStds:            s.CppStds,
		ClangLibcxx:        s.ClangLibcxx,
		SharedOptionName:   s.SharedOptionName,
		PureC:              s.PureC,
	}
}

// HostOS maps runtime.GOOS to the package manager's os setting.
func HostOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "Macos"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}
