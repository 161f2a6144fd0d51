package packager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pkgmatrix/pkg/runner"
	"github.com/openfroyo/pkgmatrix/pkg/stores"
)

// history records a run in the store. Store failures are logged and never
// fail the build.
type history struct {
	store  stores.Store
	runID  string
	logger zerolog.Logger
}

func newHistory(store stores.Store, runID string, logger zerolog.Logger) *history {
	return &history{store: store, runID: runID, logger: logger}
}

func (h *history) start(ctx context.Context, run *stores.Run) {
	if h.store == nil {
		return
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to record run, history disabled")
		h.store = nil
	}
}

func (h *history) event(ctx context.Context, jobID string, level stores.EventLevel, msg string) {
	if h.store == nil {
		return
	}
	ev := &stores.Event{
		RunID:     h.runID,
		Level:     level,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
	if jobID != "" {
		ev.JobID = &jobID
	}
	if err := h.store.AppendEvent(ctx, ev); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to record event")
	}
}

// finish stores the job outcomes and closes the run. It uses a fresh
// context so a cancelled run is still recorded.
func (h *history) finish(ctx context.Context, status stores.RunStatus, jobs []runner.Job, results []*runner.Result, runErr error) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	byID := make(map[string]*runner.Result, len(results))
	for _, r := range results {
		byID[r.JobID] = r
	}

	records := make([]*stores.JobRecord, 0, len(jobs))
	for _, job := range jobs {
		r, ok := byID[job.ID]
		if !ok {
			continue
		}
		flat, err := json.Marshal(job.Configuration.Flatten())
		if err != nil {
			flat = []byte("{}")
		}
		rec := &stores.JobRecord{
			RunID:         h.runID,
			JobID:         job.ID,
			Reference:     job.Reference.String(),
			Configuration: string(flat),
			PackageID:     r.PackageID,
			Built:         r.Built,
			Uploaded:      r.Uploaded,
			Status:        string(r.Status),
			Duration:      r.Duration,
		}
		if r.Error != "" {
			msg := r.Error
			rec.Error = &msg
		}
		records = append(records, rec)
	}
	if err := h.store.RecordJobs(ctx, records); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to record jobs")
	}

	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := h.store.FinishRun(ctx, h.runID, status, len(records), errMsg); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to finish run")
	}
}
