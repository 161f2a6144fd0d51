package conan

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// v1Client drives the Conan 1.x command line.
type v1Client struct {
	*base
}

// v1CreateOutput is the --json document of `conan create`.
type v1CreateOutput struct {
	Error     bool `json:"error"`
	Installed []struct {
		Recipe struct {
			ID string `json:"id"`
		} `json:"recipe"`
		Packages []struct {
			ID    string `json:"id"`
			Built bool   `json:"built"`
		} `json:"packages"`
	} `json:"installed"`
}

func (c *v1Client) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	dir, err := os.MkdirTemp("", "pkgmatrix-create-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	jsonPath := filepath.Join(dir, "create.json")

	args := []string{"create", req.RecipePath, req.Reference.FullString()}
	if req.HostProfile != "" {
		args = append(args, "-pr:h", req.HostProfile)
	}
	if req.BuildProfile != "" {
		args = append(args, "-pr:b", req.BuildProfile)
	}
	for _, p := range req.BuildPolicy {
		args = append(args, "--build", p)
	}
	args = append(args, "--json", jsonPath)

	res, err := c.run(ctx, req.Env, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, createError(req.Reference, res)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read create output: %w", err)
	}
	return parseV1Create(data)
}

func parseV1Create(data []byte) (*CreateResult, error) {
	var out v1CreateOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse create output: %w", err)
	}

	result := &CreateResult{}
	for _, inst := range out.Installed {
		pr := PackageResult{Reference: stripRevision(inst.Recipe.ID)}
		if len(inst.Packages) > 0 {
			pr.ID = inst.Packages[0].ID
			pr.Built = inst.Packages[0].Built
		}
		result.Packages = append(result.Packages, pr)
	}
	return result, nil
}

func (c *v1Client) Upload(ctx context.Context, req UploadRequest) error {
	args := []string{"upload", req.Reference.FullString(), "-r", req.Remote, "--confirm"}
	if req.PackageID != "" {
		args = append(args, "--all")
	}
	if req.Force {
		args = append(args, "--force")
	}
	if req.Retry > 0 {
		args = append(args, "--retry", strconv.Itoa(req.Retry))
	}

	res, err := c.run(ctx, nil, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return uploadError(req.Reference, res)
	}
	return nil
}

// Remotes parses `conan remote list --raw`: "<name> <url> <True|False>".
func (c *v1Client) Remotes(ctx context.Context) ([]Remote, error) {
	out, err := c.runOK(ctx, "remote", "list", "--raw")
	if err != nil {
		return nil, err
	}

	var remotes []Remote
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		r := Remote{Name: fields[0], URL: fields[1], VerifySSL: true}
		if len(fields) > 2 {
			r.VerifySSL = fields[2] != "False"
		}
		remotes = append(remotes, r)
	}
	return remotes, scanner.Err()
}

func (c *v1Client) AddRemote(ctx context.Context, remote Remote, insertFirst bool) error {
	args := []string{"remote", "add", remote.Name, remote.URL, boolString(remote.VerifySSL)}
	if insertFirst {
		args = append(args, "-i", "0")
	}
	_, err := c.runOK(ctx, args...)
	return err
}

func (c *v1Client) UpdateRemote(ctx context.Context, remote Remote) error {
	_, err := c.runOK(ctx, "remote", "update", remote.Name, remote.URL, boolString(remote.VerifySSL))
	return err
}

func (c *v1Client) Login(ctx context.Context, remote, user, password string) error {
	_, err := c.runOK(ctx, "user", "-p", password, "-r", remote, user)
	return err
}
