package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/openfroyo/pkgmatrix/pkg/runner"
	"github.com/openfroyo/pkgmatrix/pkg/stores"
)

const timeLayout = "2006-01-02 15:04:05"

// PrintRuns renders stored runs, newest first as the store returns them.
func PrintRuns(w io.Writer, runs []*stores.Run) error {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		finished := "-"
		if r.CompletedAt != nil {
			finished = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		rows[i] = []string{
			r.ID,
			r.Reference,
			r.Branch,
			r.Runner,
			fmt.Sprintf("%d/%d", r.Page, r.TotalPages),
			string(r.Status),
			fmt.Sprint(r.JobCount),
			r.StartedAt.Local().Format(timeLayout),
			finished,
		}
	}
	return render(w, []string{"run", "reference", "branch", "runner", "page", "status", "jobs", "started", "took"}, rows, nil)
}

// PrintJobRecords renders the stored jobs of a run.
func PrintJobRecords(w io.Writer, jobs []*stores.JobRecord) error {
	rows := make([][]string, len(jobs))
	statuses := make([]runner.Status, len(jobs))
	for i, j := range jobs {
		errMsg := ""
		if j.Error != nil {
			errMsg = firstLine(*j.Error)
		}
		statuses[i] = runner.Status(j.Status)
		rows[i] = []string{
			j.JobID,
			j.Status,
			j.PackageID,
			yesNo(j.Built),
			yesNo(j.Uploaded),
			fmt.Sprintf("%.1fs", j.Duration.Seconds()),
			errMsg,
		}
	}
	return render(w, []string{"id", "status", "package", "built", "uploaded", "duration", "error"}, rows, statuses)
}

// PrintEvents writes one line per event.
func PrintEvents(w io.Writer, events []*stores.Event) error {
	for _, ev := range events {
		job := ""
		if ev.JobID != nil {
			job = " [" + *ev.JobID + "]"
		}
		if _, err := fmt.Fprintf(w, "%s %-7s%s %s\n",
			ev.Timestamp.Local().Format(timeLayout), ev.Level, job, ev.Message); err != nil {
			return err
		}
	}
	return nil
}

// render draws a table; when statuses is set, column 1 is colored by it.
func render(w io.Writer, headers []string, rows [][]string, statuses []runner.Status) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(statuses) {
				if s, ok := statusStyles[statuses[row]]; ok {
					return s
				}
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
