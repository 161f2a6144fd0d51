package report

import (
	"encoding/json"
	"io"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
)

// Plan is the machine readable form of a page, printed by plan --json.
type Plan struct {
	Page       int          `json:"page"`
	TotalPages int          `json:"total_pages"`
	Stats      matrix.Stats `json:"stats"`
	Jobs       []PlanJob    `json:"jobs"`
}

// PlanJob is one job of a Plan.
type PlanJob struct {
	ID            string                    `json:"id"`
	Configuration matrix.BuildConfiguration `json:"configuration"`
}

// NewPlan describes page of totalPages holding jobs.
func NewPlan(jobs matrix.JobList, page, totalPages int, stats matrix.Stats) Plan {
	p := Plan{Page: page, TotalPages: totalPages, Stats: stats, Jobs: make([]PlanJob, len(jobs))}
	for i, job := range jobs {
		p.Jobs[i] = PlanJob{ID: job.ID(), Configuration: job}
	}
	return p
}

// WriteJSON writes the plan as indented JSON.
func (p Plan) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
