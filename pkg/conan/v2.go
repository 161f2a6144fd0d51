package conan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// v2Client drives the Conan 2.x command line.
type v2Client struct {
	*base
}

// v2CreateOutput is the --format=json document of `conan create`.
type v2CreateOutput struct {
	Graph struct {
		Nodes map[string]struct {
			Ref       string `json:"ref"`
			PackageID string `json:"package_id"`
			Binary    string `json:"binary"`
		} `json:"nodes"`
	} `json:"graph"`
}

// v2BuildPolicy maps Conan 1 policies that Conan 2 dropped.
func v2BuildPolicy(policy string) string {
	switch policy {
	case "outdated", "cascade":
		return "missing"
	default:
		return policy
	}
}

func (c *v2Client) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ref := req.Reference
	args := []string{"create", req.RecipePath, "--name", ref.Name, "--version", ref.Version}
	if ref.User != "" {
		args = append(args, "--user", ref.User)
	}
	if ref.Channel != "" {
		args = append(args, "--channel", ref.Channel)
	}
	if req.HostProfile != "" {
		args = append(args, "-pr:h", req.HostProfile)
	}
	if req.BuildProfile != "" {
		args = append(args, "-pr:b", req.BuildProfile)
	}
	for _, p := range req.BuildPolicy {
		args = append(args, "--build="+v2BuildPolicy(p))
	}
	args = append(args, "--format=json")

	res, err := c.run(ctx, req.Env, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, createError(ref, res)
	}
	return parseV2Create([]byte(res.Stdout))
}

// parseV2Create lists graph nodes in node-ID order, skipping the consumer root.
func parseV2Create(data []byte) (*CreateResult, error) {
	var out v2CreateOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse create output: %w", err)
	}

	ids := make([]string, 0, len(out.Graph.Nodes))
	for id := range out.Graph.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})

	result := &CreateResult{}
	for _, id := range ids {
		node := out.Graph.Nodes[id]
		if node.Ref == "" || node.Ref == "conanfile" {
			continue
		}
		result.Packages = append(result.Packages, PackageResult{
			Reference: stripRevision(node.Ref),
			ID:        node.PackageID,
			Built:     node.Binary == "Build",
		})
	}
	return result, nil
}

func (c *v2Client) Upload(ctx context.Context, req UploadRequest) error {
	pattern := req.Reference.String()
	args := []string{"upload"}
	if req.PackageID != "" {
		args = append(args, pattern+":"+req.PackageID)
	} else {
		args = append(args, pattern, "--only-recipe")
	}
	args = append(args, "-r", req.Remote, "--confirm")
	if req.Force {
		args = append(args, "--force")
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

func (c *v2Client) Remotes(ctx context.Context) ([]Remote, error) {
	out, err := c.runOK(ctx, "remote", "list", "--format=json")
	if err != nil {
		return nil, err
	}
	var remotes []Remote
	if err := json.Unmarshal([]byte(out), &remotes); err != nil {
		return nil, fmt.Errorf("failed to parse remote list: %w", err)
	}
	return remotes, nil
}

func (c *v2Client) AddRemote(ctx context.Context, remote Remote, insertFirst bool) error {
	args := []string{"remote", "add", remote.Name, remote.URL}
	if !remote.VerifySSL {
		args = append(args, "--insecure")
	}
	if insertFirst {
		args = append(args, "--index", "0")
	}
	_, err := c.runOK(ctx, args...)
	return err
}

func (c *v2Client) UpdateRemote(ctx context.Context, remote Remote) error {
	args := []string{"remote", "update", remote.Name, "--url", remote.URL}
	if remote.VerifySSL {
		args = append(args, "--secure")
	} else {
		args = append(args, "--insecure")
	}
	_, err := c.runOK(ctx, args...)
	return err
}

func (c *v2Client) Login(ctx context.Context, remote, user, password string) error {
	_, err := c.runOK(ctx, "remote", "login", remote, user, "-p", password)
	return err
}
