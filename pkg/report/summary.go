// Package report writes the outcome of a run: a JSON summary file for
// machines and tables for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/pkgmatrix/pkg/runner"
)

// Entry is the summary of one job.
type Entry struct {
	ID            string            `json:"id"`
	Configuration map[string]string `json:"configuration"`
	Reference     string            `json:"reference"`
	PackageID     string            `json:"package_id"`
	Built         bool              `json:"built"`
	Uploaded      bool              `json:"uploaded"`
	Status        runner.Status     `json:"status"`
	Error         string            `json:"error,omitempty"`

	// Duration is in seconds.
	Duration float64 `json:"duration"`
}

// Summarize pairs every job with its result. Jobs without a result, the
// ones after a failure, are reported as pending.
func Summarize(jobs []runner.Job, results []*runner.Result) []Entry {
	byID := make(map[string]*runner.Result, len(results))
	for _, r := range results {
		if r != nil {
			byID[r.JobID] = r
		}
	}

	entries := make([]Entry, 0, len(jobs))
	for _, job := range jobs {
		e := Entry{
			ID:            job.ID,
			Configuration: job.Configuration.Flatten(),
			Reference:     job.Reference.String(),
			Status:        runner.StatusPending,
		}
		if r, ok := byID[job.ID]; ok {
			e.PackageID = r.PackageID
			e.Built = r.Built
			e.Uploaded = r.Uploaded
			e.Status = r.Status
			e.Error = r.Error
			e.Duration = r.Duration.Seconds()
			if r.Reference != "" {
				e.Reference = r.Reference
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// Totals counts entries per status.
type Totals struct {
	Success int `json:"success"`
	Invalid int `json:"invalid"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Built   int `json:"built"`
	Uploads int `json:"uploaded"`
}

// Count computes the totals of entries.
func Count(entries []Entry) Totals {
	var t Totals
	for _, e := range entries {
		switch e.Status {
		case runner.StatusSuccess:
			t.Success++
		case runner.StatusInvalid:
			t.Invalid++
		case runner.StatusFailed:
			t.Failed++
		default:
			t.Pending++
		}
		if e.Built {
			t.Built++
		}
		if e.Uploaded {
			t.Uploads++
		}
	}
	return t
}

// WriteSummary writes entries as an indented JSON list to path. The file is
// replaced atomically so a reader never sees a partial summary.
func WriteSummary(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".summary-*.json")
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write summary %s: %w", path, err)
	}
	return nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse summary %s: %w", path, err)
	}
	return entries, nil
}
