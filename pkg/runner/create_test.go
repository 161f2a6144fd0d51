package runner

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/conan"
	"github.com/openfroyo/pkgmatrix/pkg/conan/conantest"
	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

type fakeUploader struct {
	mu      sync.Mutex
	recipes []string
	uploads []string
	err     error
}

func (f *fakeUploader) UploadRecipe(_ context.Context, ref matrix.Reference) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipes = append(f.recipes, ref.String())
	return f.err == nil, f.err
}

func (f *fakeUploader) UploadPackages(_ context.Context, ref matrix.Reference, packageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, ref.String()+":"+packageID)
	return f.err == nil, f.err
}

func TestCreateRunnerBuildsAndUploads(t *testing.T) {
	job := testJob()
	client := &conantest.Client{}
	var hostProfile, buildProfile string
	client.CreateFunc = func(req conan.CreateRequest) (*conan.CreateResult, error) {
		host, err := os.ReadFile(req.HostProfile)
		if err != nil {
			return nil, err
		}
		build, err := os.ReadFile(req.BuildProfile)
		if err != nil {
			return nil, err
		}
		hostProfile, buildProfile = string(host), string(build)
		return &conan.CreateResult{Packages: []conan.PackageResult{
			{Reference: req.Reference.String(), ID: "abc123", Built: true},
		}}, nil
	}
	up := &fakeUploader{}

	r := NewCreateRunner(client, up, CreateOptions{
		RecipePath:       "conanfile.py",
		BaseProfile:      "default",
		BaseProfileBuild: "default",
		BuildPolicy:      []string{"missing"},
	}, zerolog.Nop())

	result, err := r.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := &Result{
		JobID:     job.ID,
		Reference: "zlib/1.2.13@lasote/testing",
		PackageID: "abc123",
		Built:     true,
		Uploaded:  true,
		Status:    StatusSuccess,
	}
	result.Duration = 0
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}

	if len(client.Creates) != 1 {
		t.Fatalf("Create called %d times, want 1", len(client.Creates))
	}
	req := client.Creates[0]
	if req.RecipePath != "conanfile.py" || req.Reference != job.Reference {
		t.Errorf("Create request = %+v", req)
	}
	if diff := cmp.Diff([]string{"missing"}, req.BuildPolicy); diff != "" {
		t.Errorf("build policy mismatch (-want +got):\n%s", diff)
	}
	for _, want := range []string{"include(default)", "[settings]", "compiler.version=11.2", "[options]", "zlib/*:shared=True"} {
		if !strings.Contains(hostProfile, want) {
			t.Errorf("host profile missing %q:\n%s", want, hostProfile)
		}
	}
	if buildProfile != "include(default)\n" {
		t.Errorf("build profile = %q", buildProfile)
	}
	if _, err := os.Stat(req.HostProfile); !os.IsNotExist(err) {
		t.Errorf("host profile %s not cleaned up", req.HostProfile)
	}

	if diff := cmp.Diff([]string{"zlib/1.2.13@lasote/testing:abc123"}, up.uploads); diff != "" {
		t.Errorf("uploads mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRunnerInvalidConfiguration(t *testing.T) {
	client := &conantest.Client{
		CreateFunc: func(conan.CreateRequest) (*conan.CreateResult, error) {
			return nil, matrix.NewInvalidConfigurationError("gcc 4.9 is not supported", nil)
		},
	}
	up := &fakeUploader{}
	r := NewCreateRunner(client, up, CreateOptions{RecipePath: "."}, zerolog.Nop())

	result, err := r.Run(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Run() error = %v, invalid configurations are not errors", err)
	}
	if result.Status != StatusInvalid || result.Error != "gcc 4.9 is not supported" {
		t.Errorf("Run() = %+v", result)
	}
	if len(up.uploads) != 0 {
		t.Errorf("uploads = %v, want none", up.uploads)
	}
}

func TestCreateRunnerBuildFailure(t *testing.T) {
	client := &conantest.Client{
		CreateFunc: func(conan.CreateRequest) (*conan.CreateResult, error) {
			return nil, matrix.NewPermanentError("conan create exited with 1", nil).WithCode(matrix.ErrCodeBuildFailed)
		},
	}
	job := testJob()
	r := NewCreateRunner(client, nil, CreateOptions{RecipePath: "."}, zerolog.Nop())

	result, err := r.Run(context.Background(), job)
	if err == nil {
		t.Fatal("Run() expected error")
	}
	var me *matrix.Error
	if !errors.As(err, &me) || me.Job != job.ID || me.Code != matrix.ErrCodeBuildFailed {
		t.Errorf("Run() error = %#v", err)
	}
	if result == nil || result.Status != StatusFailed {
		t.Errorf("Run() result = %+v, want failed", result)
	}
}

func TestCreateRunnerUploadSelection(t *testing.T) {
	packages := func(req conan.CreateRequest) (*conan.CreateResult, error) {
		return &conan.CreateResult{Packages: []conan.PackageResult{
			{Reference: "bzip2/1.0.8", ID: "dep1", Built: true},
			{Reference: "openssl/3.0.0", ID: "dep2", Built: false},
			{Reference: req.Reference.String(), ID: "main", Built: true},
		}}, nil
	}

	tests := []struct {
		name        string
		opts        CreateOptions
		upload      bool
		wantUploads []string
		wantRecipes []string
		wantFlag    bool
	}{
		{
			name:        "main package only",
			upload:      true,
			wantUploads: []string{"zlib/1.2.13@lasote/testing:main"},
			wantFlag:    true,
		},
		{
			name:        "listed dependency",
			opts:        CreateOptions{UploadDependencies: []string{"bzip2/1.0.8@", "openssl/3.0.0"}},
			upload:      true,
			wantUploads: []string{"bzip2/1.0.8:dep1", "zlib/1.2.13@lasote/testing:main"},
			wantFlag:    true,
		},
		{
			name:        "all dependencies",
			opts:        CreateOptions{UploadDependencies: []string{"all"}},
			upload:      true,
			wantUploads: []string{"bzip2/1.0.8:dep1", "zlib/1.2.13@lasote/testing:main"},
			wantFlag:    true,
		},
		{
			name:        "recipe only",
			opts:        CreateOptions{UploadOnlyRecipe: true},
			upload:      true,
			wantRecipes: []string{"zlib/1.2.13@lasote/testing"},
			wantFlag:    true,
		},
		{
			name:   "upload disabled for job",
			opts:   CreateOptions{UploadDependencies: []string{"all"}},
			upload: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{}
			client := &conantest.Client{CreateFunc: packages}
			r := NewCreateRunner(client, up, tt.opts, zerolog.Nop())

			job := testJob()
			job.Upload = tt.upload
			result, err := r.Run(context.Background(), job)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if diff := cmp.Diff(tt.wantUploads, up.uploads); diff != "" {
				t.Errorf("uploads mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRecipes, up.recipes); diff != "" {
				t.Errorf("recipes mismatch (-want +got):\n%s", diff)
			}
			if result.Uploaded != tt.wantFlag {
				t.Errorf("Uploaded = %v, want %v", result.Uploaded, tt.wantFlag)
			}
			if result.PackageID != "main" {
				t.Errorf("PackageID = %q, want main", result.PackageID)
			}
		})
	}
}

func TestCreateRunnerUploadError(t *testing.T) {
	up := &fakeUploader{err: matrix.NewPermanentError("upload failed", nil).WithCode(matrix.ErrCodeUploadFailed)}
	r := NewCreateRunner(&conantest.Client{}, up, CreateOptions{}, zerolog.Nop())

	result, err := r.Run(context.Background(), testJob())
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if result.Status != StatusFailed || !strings.Contains(result.Error, "upload failed") {
		t.Errorf("Run() = %+v", result)
	}
}
