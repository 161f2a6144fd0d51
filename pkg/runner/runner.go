// Package runner executes build jobs locally, in a container or on a remote
// host.
package runner

import (
	"context"
	"sort"
	"time"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// Status is the outcome of a job.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusInvalid marks a configuration the recipe refused. The run goes on.
	StatusInvalid Status = "invalid"
	StatusFailed  Status = "failed"
	// StatusPending marks jobs of the page that never started.
	StatusPending Status = "pending"
)

// Job is one configuration to build.
type Job struct {
	ID            string                    `json:"id"`
	Configuration matrix.BuildConfiguration `json:"configuration"`

	// Reference carries the user and channel chosen for this run.
	Reference matrix.Reference `json:"reference"`

	// Upload allows the runner to upload what it built.
	Upload bool `json:"upload"`
}

// NewJob builds a job for cfg.
func NewJob(cfg matrix.BuildConfiguration, ref matrix.Reference, upload bool) Job {
	return Job{ID: cfg.ID(), Configuration: cfg, Reference: ref, Upload: upload}
}

// Result is what a runner reports for one job.
type Result struct {
	JobID     string        `json:"id"`
	Reference string        `json:"reference"`
	PackageID string        `json:"package_id,omitempty"`
	Built     bool          `json:"built"`
	Uploaded  bool          `json:"uploaded"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Runner builds jobs. A failed build returns both a Result with
// StatusFailed and the error; a refused configuration is not an error.
type Runner interface {
	Run(ctx context.Context, job Job) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, job Job) (*Result, error) {
	return f(ctx, job)
}

func newResult(job Job) *Result {
	return &Result{JobID: job.ID, Reference: job.Reference.String(), Status: StatusSuccess}
}

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
}

func sortedFieldNames(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedEnvNames(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
