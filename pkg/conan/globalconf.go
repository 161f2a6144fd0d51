package conan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// GlobalConf edits the client's global.conf.
type GlobalConf struct {
	client Client
}

// NewGlobalConf returns a GlobalConf for client.
func NewGlobalConf(client Client) *GlobalConf {
	return &GlobalConf{client: client}
}

// Populate merges key=value items into global.conf. Existing keys keep
// their position with the new value; new keys are appended.
func (g *GlobalConf) Populate(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}
	path, err := g.client.GlobalConfPath(ctx)
	if err != nil {
		return err
	}

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	merged, err := MergeConf(string(existing), values)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create conan home: %w", err)
	}
	if err := os.WriteFile(path, []byte(merged), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SplitConfValues accepts the comma separated form of CONAN_GLOBAL_CONF.
func SplitConfValues(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MergeConf applies values to the text of a conf file. Comments and blank
// lines are dropped, the same way Conan rewrites the file.
func MergeConf(existing string, values []string) (string, error) {
	var keys []string
	entries := make(map[string]string)

	set := func(line string) error {
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			return matrix.NewConfigurationError(fmt.Sprintf("invalid global.conf item %q, expected key=value", line), nil)
		}
		key := strings.TrimSpace(line[:i])
		if _, ok := entries[key]; !ok {
			keys = append(keys, key)
		}
		entries[key] = strings.TrimSpace(line[i+1:])
		return nil
	}

	for _, line := range strings.Split(existing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := set(line); err != nil {
			return "", err
		}
	}
	for _, v := range values {
		if err := set(strings.TrimSpace(v)); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(entries[k])
		b.WriteByte('\n')
	}
	return b.String(), nil
}
