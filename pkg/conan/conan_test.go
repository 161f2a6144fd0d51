package conan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// fakeRunner records commands and answers through handle.
type fakeRunner struct {
	calls  []Command
	handle func(cmd Command) *Result
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (*Result, error) {
	f.calls = append(f.calls, cmd)
	if strings.Join(cmd.Args, " ") == "--version" {
		return &Result{Stdout: "Conan version 2.3.1\n"}, nil
	}
	if f.handle != nil {
		if res := f.handle(cmd); res != nil {
			return res, nil
		}
	}
	return &Result{}, nil
}

func (f *fakeRunner) last() string {
	return strings.Join(f.calls[len(f.calls)-1].Args, " ")
}

func newClient(t *testing.T, runner *fakeRunner, generation int) Client {
	t.Helper()
	c, err := NewClient(context.Background(), runner, Options{Generation: generation}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"Conan version 1.66.0", Version{1, 66, 0}, false},
		{"Conan version 2.3.1\n", Version{2, 3, 1}, false},
		{"Conan version 2.0", Version{2, 0, 0}, false},
		{"command not found", Version{}, true},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVersion(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewClient_SelectsAdapter(t *testing.T) {
	runner := &fakeRunner{}
	if _, ok := newClient(t, runner, 0).(*v2Client); !ok {
		t.Error("Expected the v2 adapter for Conan 2.3.1")
	}
	if _, ok := newClient(t, runner, 1).(*v1Client); !ok {
		t.Error("Expected the v1 adapter when generation 1 is forced")
	}
	if _, err := NewClient(context.Background(), runner, Options{Generation: 3}, zerolog.Nop()); err == nil {
		t.Error("Expected an error for an unknown generation")
	}
}

var ref = matrix.Reference{Name: "lib", Version: "1.0", User: "user", Channel: "testing"}

func TestV2Create(t *testing.T) {
	output := `{"graph": {"nodes": {
		"0": {"ref": "conanfile", "binary": null},
		"2": {"ref": "zlib/1.3.1#abc", "package_id": "zzz", "binary": "Cache"},
		"1": {"ref": "lib/1.0@user/testing#f00", "package_id": "ppp", "binary": "Build"}
	}}}`
	runner := &fakeRunner{handle: func(cmd Command) *Result {
		if cmd.Args[0] == "create" {
			return &Result{Stdout: output}
		}
		return nil
	}}
	c := newClient(t, runner, 2)

	res, err := c.Create(context.Background(), CreateRequest{
		RecipePath:   ".",
		Reference:    ref,
		HostProfile:  "/tmp/host",
		BuildProfile: "/tmp/build",
		BuildPolicy:  []string{"outdated"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantArgs := "create . --name lib --version 1.0 --user user --channel testing -pr:h /tmp/host -pr:b /tmp/build --build=missing --format=json"
	if got := runner.last(); got != wantArgs {
		t.Errorf("Create args:\n got %s\nwant %s", got, wantArgs)
	}

	want := []PackageResult{
		{Reference: "lib/1.0@user/testing", ID: "ppp", Built: true},
		{Reference: "zlib/1.3.1", ID: "zzz", Built: false},
	}
	if diff := cmp.Diff(want, res.Packages); diff != "" {
		t.Errorf("Packages mismatch (-want +got):\n%s", diff)
	}
	if p, ok := res.Package("lib/1.0@user/testing"); !ok || p.ID != "ppp" {
		t.Errorf("Package() = %v, %v", p, ok)
	}
}

func TestV1Create(t *testing.T) {
	output := `{"error": false, "installed": [
		{"recipe": {"id": "lib/1.0@user/testing"}, "packages": [{"id": "ppp", "built": true}]},
		{"recipe": {"id": "zlib/1.2.11"}, "packages": [{"id": "zzz", "built": false}]}
	]}`
	runner := &fakeRunner{handle: func(cmd Command) *Result {
		if cmd.Args[0] != "create" {
			return nil
		}
		path := cmd.Args[len(cmd.Args)-1]
		if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
			return &Result{ExitCode: 1, Stderr: err.Error()}
		}
		return &Result{}
	}}
	c := newClient(t, runner, 1)

	res, err := c.Create(context.Background(), CreateRequest{RecipePath: ".", Reference: ref, BuildPolicy: []string{"missing"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	args := runner.calls[len(runner.calls)-1].Args
	if diff := cmp.Diff([]string{"create", ".", "lib/1.0@user/testing", "--build", "missing", "--json"}, args[:len(args)-1]); diff != "" {
		t.Errorf("Create args mismatch (-want +got):\n%s", diff)
	}
	if len(res.Packages) != 2 || !res.Packages[0].Built || res.Packages[1].Built {
		t.Errorf("Unexpected packages: %+v", res.Packages)
	}
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		generation int
		result     *Result
		invalid    bool
		reason     string
	}{
		{
			name:       "v1 invalid configuration",
			generation: 1,
			result:     &Result{ExitCode: 6, Stdout: "ERROR: Invalid configuration: This library doesn't support x86"},
			invalid:    true,
			reason:     "This library doesn't support x86",
		},
		{
			name:       "v2 invalid package",
			generation: 2,
			result:     &Result{ExitCode: 6, Stderr: "ERROR: There are invalid packages:\nlib/1.0@user/testing: Invalid: No x86 support"},
			invalid:    true,
			reason:     "No x86 support",
		},
		{
			name:       "exception name without exit code",
			generation: 2,
			result:     &Result{ExitCode: 1, Stderr: "ConanInvalidConfiguration: needs C++17"},
			invalid:    true,
			reason:     "needs C++17",
		},
		{
			name:       "compile failure",
			generation: 2,
			result:     &Result{ExitCode: 1, Stderr: "error: expected ';'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{handle: func(cmd Command) *Result {
				if cmd.Args[0] == "create" {
					return tt.result
				}
				return nil
			}}
			_, err := newClient(t, runner, tt.generation).Create(context.Background(), CreateRequest{RecipePath: ".", Reference: ref})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if matrix.IsInvalidConfiguration(err) != tt.invalid {
				t.Fatalf("IsInvalidConfiguration() = %v, want %v: %v", !tt.invalid, tt.invalid, err)
			}
			if tt.invalid && !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("Expected reason %q in %v", tt.reason, err)
			}
			if !tt.invalid && !matrix.IsPermanent(err) {
				t.Errorf("Expected a permanent error, got: %v", err)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	tests := []struct {
		name       string
		generation int
		req        UploadRequest
		want       string
	}{
		{
			name:       "v2 recipe only",
			generation: 2,
			req:        UploadRequest{Reference: ref, Remote: "upload_repo"},
			want:       "upload lib/1.0@user/testing --only-recipe -r upload_repo --confirm",
		},
		{
			name:       "v2 package with force",
			generation: 2,
			req:        UploadRequest{Reference: ref, Remote: "upload_repo", PackageID: "ppp", Force: true},
			want:       "upload lib/1.0@user/testing:ppp -r upload_repo --confirm --force",
		},
		{
			name:       "v1 packages with retry",
			generation: 1,
			req:        UploadRequest{Reference: ref, Remote: "upload_repo", PackageID: "ppp", Retry: 3},
			want:       "upload lib/1.0@user/testing -r upload_repo --confirm --all --retry 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			if err := newClient(t, runner, tt.generation).Upload(context.Background(), tt.req); err != nil {
				t.Fatalf("Upload() error = %v", err)
			}
			if got := runner.last(); got != tt.want {
				t.Errorf("Upload args:\n got %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestUpload_ErrorClass(t *testing.T) {
	for output, transient := range map[string]bool{
		"ERROR: Connection timed out":   true,
		"ERROR: 401 Unauthorized":       false,
		"ERROR: Wrong user or password": false,
	} {
		runner := &fakeRunner{handle: func(cmd Command) *Result {
			if cmd.Args[0] == "upload" {
				return &Result{ExitCode: 1, Stderr: output}
			}
			return nil
		}}
		err := newClient(t, runner, 2).Upload(context.Background(), UploadRequest{Reference: ref, Remote: "r"})
		if matrix.IsTransient(err) != transient {
			t.Errorf("%q: IsTransient() = %v, want %v", output, !transient, transient)
		}
	}
}

func TestRemotes(t *testing.T) {
	ctx := context.Background()

	v1 := &fakeRunner{handle: func(cmd Command) *Result {
		if cmd.Args[0] == "remote" && cmd.Args[1] == "list" {
			return &Result{Stdout: "conancenter https://center.conan.io True\nlocal http://localhost:9300 False\n"}
		}
		return nil
	}}
	got, err := newClient(t, v1, 1).Remotes(ctx)
	if err != nil {
		t.Fatalf("Remotes() error = %v", err)
	}
	want := []Remote{
		{Name: "conancenter", URL: "https://center.conan.io", VerifySSL: true},
		{Name: "local", URL: "http://localhost:9300", VerifySSL: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("v1 remotes mismatch (-want +got):\n%s", diff)
	}

	v2 := &fakeRunner{handle: func(cmd Command) *Result {
		if cmd.Args[0] == "remote" && cmd.Args[1] == "list" {
			return &Result{Stdout: `[{"name": "conancenter", "url": "https://center.conan.io", "verify_ssl": true, "enabled": true},
				{"name": "local", "url": "http://localhost:9300", "verify_ssl": false, "enabled": true}]`}
		}
		return nil
	}}
	got, err = newClient(t, v2, 2).Remotes(ctx)
	if err != nil {
		t.Fatalf("Remotes() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("v2 remotes mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteCommands(t *testing.T) {
	ctx := context.Background()
	remote := Remote{Name: "upload_repo", URL: "https://r.example", VerifySSL: false}

	tests := []struct {
		generation int
		call       func(Client) error
		want       string
	}{
		{1, func(c Client) error { return c.AddRemote(ctx, remote, true) }, "remote add upload_repo https://r.example False -i 0"},
		{2, func(c Client) error { return c.AddRemote(ctx, remote, false) }, "remote add upload_repo https://r.example --insecure"},
		{1, func(c Client) error { return c.UpdateRemote(ctx, remote) }, "remote update upload_repo https://r.example False"},
		{2, func(c Client) error { return c.UpdateRemote(ctx, remote) }, "remote update upload_repo --url https://r.example --insecure"},
		{1, func(c Client) error { return c.Login(ctx, "upload_repo", "user", "pw") }, "user -p pw -r upload_repo user"},
		{2, func(c Client) error { return c.Login(ctx, "upload_repo", "user", "pw") }, "remote login upload_repo user -p pw"},
		{2, func(c Client) error { return c.ConfigInstall(ctx, "https://cfg.git", "-b main") }, "config install https://cfg.git --args -b main"},
	}
	for _, tt := range tests {
		runner := &fakeRunner{}
		if err := tt.call(newClient(t, runner, tt.generation)); err != nil {
			t.Fatalf("%s: error = %v", tt.want, err)
		}
		if got := runner.last(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}

	failing := &fakeRunner{handle: func(Command) *Result { return &Result{ExitCode: 1, Stderr: "boom"} }}
	if err := newClient(t, failing, 2).Login(ctx, "r", "u", "p"); err == nil {
		t.Error("Expected login error on non-zero exit")
	}
}

func TestGlobalConf_Populate(t *testing.T) {
	home := t.TempDir()
	runner := &fakeRunner{handle: func(cmd Command) *Result {
		if strings.Join(cmd.Args, " ") == "config home" {
			return &Result{Stdout: home + "\n"}
		}
		return nil
	}}
	c := newClient(t, runner, 2)
	ctx := context.Background()
	gc := NewGlobalConf(c)

	values := SplitConfValues("tools.system.package_manager:mode=install, tools.system.package_manager:sudo=True")
	if err := gc.Populate(ctx, values); err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, "global.conf"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "tools.system.package_manager:mode=install\ntools.system.package_manager:sudo=True\n"
	if string(data) != want {
		t.Errorf("global.conf = %q, want %q", data, want)
	}

	if err := gc.Populate(ctx, []string{"core:non_interactive=True", "tools.system.package_manager:mode=check"}); err != nil {
		t.Fatalf("Populate() error = %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(home, "global.conf"))
	want = "tools.system.package_manager:mode=check\ntools.system.package_manager:sudo=True\ncore:non_interactive=True\n"
	if string(data) != want {
		t.Errorf("global.conf = %q, want %q", data, want)
	}

	if err := gc.Populate(ctx, []string{"no-equals"}); !matrix.IsConfigurationError(err) {
		t.Errorf("Expected configuration error, got: %v", err)
	}
}

func TestMergeConf_DropsComments(t *testing.T) {
	got, err := MergeConf("# header\n\ncore:a=1\n", []string{"core:b=2"})
	if err != nil {
		t.Fatalf("MergeConf() error = %v", err)
	}
	if got != "core:a=1\ncore:b=2\n" {
		t.Errorf("MergeConf() = %q", got)
	}
}

func TestExecRunner(t *testing.T) {
	r := NewExecRunner(zerolog.Nop(), nil)
	ctx := context.Background()

	res, err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 || strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Unexpected result: %+v", res)
	}

	res, err = r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "cat; echo $PKG_TEST"}, Stdin: strings.NewReader("in\n"), Env: []string{"PKG_TEST=v"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "in\nv\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}

	if _, err := r.Run(ctx, Command{Name: "/nonexistent/binary"}); err == nil {
		t.Error("Expected an error for a missing binary")
	}
}
