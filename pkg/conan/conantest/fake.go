// Package conantest provides an in-memory conan.Client for tests.
package conantest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/openfroyo/pkgmatrix/pkg/conan"
)

// Client is a scripted conan.Client. Calls are recorded in order.
type Client struct {
	mu sync.Mutex

	// Generation is reported as the major version, 2 by default.
	Generation int

	// Home is returned by HomePath.
	Home string

	// CreateFunc answers Create; nil builds the requested reference.
	CreateFunc func(req conan.CreateRequest) (*conan.CreateResult, error)

	// UploadFunc answers Upload; nil succeeds.
	UploadFunc func(req conan.UploadRequest) error

	// LoginFunc answers Login; nil succeeds.
	LoginFunc func(remote, user, password string) error

	RemoteList []conan.Remote

	Creates  []conan.CreateRequest
	Uploads  []conan.UploadRequest
	Logins   []string
	Installs []string
}

var _ conan.Client = (*Client)(nil)

func (c *Client) Version() conan.Version {
	if c.Generation == 0 {
		return conan.Version{Major: 2}
	}
	return conan.Version{Major: c.Generation}
}

func (c *Client) Create(_ context.Context, req conan.CreateRequest) (*conan.CreateResult, error) {
	c.mu.Lock()
	c.Creates = append(c.Creates, req)
	n := len(c.Creates)
	fn := c.CreateFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &conan.CreateResult{Packages: []conan.PackageResult{{
		Reference: req.Reference.String(),
		ID:        fmt.Sprintf("pkg%d", n),
		Built:     true,
	}}}, nil
}

func (c *Client) Upload(_ context.Context, req conan.UploadRequest) error {
	c.mu.Lock()
	c.Uploads = append(c.Uploads, req)
	fn := c.UploadFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return nil
}

func (c *Client) Remotes(context.Context) ([]conan.Remote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]conan.Remote(nil), c.RemoteList...), nil
}

func (c *Client) AddRemote(_ context.Context, remote conan.Remote, insertFirst bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if insertFirst {
		c.RemoteList = append([]conan.Remote{remote}, c.RemoteList...)
	} else {
		c.RemoteList = append(c.RemoteList, remote)
	}
	return nil
}

func (c *Client) UpdateRemote(_ context.Context, remote conan.Remote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.RemoteList {
		if c.RemoteList[i].Name == remote.Name {
			c.RemoteList[i] = remote
			return nil
		}
	}
	return fmt.Errorf("remote %s not found", remote.Name)
}

func (c *Client) Login(_ context.Context, remote, user, password string) error {
	c.mu.Lock()
	c.Logins = append(c.Logins, remote+":"+user)
	fn := c.LoginFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(remote, user, password)
	}
	return nil
}

func (c *Client) ConfigInstall(_ context.Context, url, args string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Installs = append(c.Installs, url+" "+args)
	return nil
}

func (c *Client) HomePath(context.Context) (string, error) {
	return c.Home, nil
}

func (c *Client) DefaultProfileName() string {
	return "default"
}

func (c *Client) ProfilesPath(context.Context) (string, error) {
	return filepath.Join(c.Home, "profiles"), nil
}

func (c *Client) GlobalConfPath(context.Context) (string, error) {
	return filepath.Join(c.Home, "global.conf"), nil
}
