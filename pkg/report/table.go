package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
	"github.com/openfroyo/pkgmatrix/pkg/runner"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	statusStyles = map[runner.Status]lipgloss.Style{
		runner.StatusSuccess: cellStyle.Foreground(lipgloss.Color("2")),
		runner.StatusInvalid: cellStyle.Foreground(lipgloss.Color("3")),
		runner.StatusFailed:  cellStyle.Foreground(lipgloss.Color("1")).Bold(true),
		runner.StatusPending: cellStyle.Foreground(lipgloss.Color("8")),
	}
)

// columnPrefixes are dropped from table headers; settings are the common case.
var columnPrefixes = []string{"settings."}

// PrintPage renders the jobs of a page, one row per job and one column per
// dimension found in any of them.
func PrintPage(w io.Writer, jobs matrix.JobList, page, totalPages int) error {
	title := fmt.Sprintf("Page %d/%d: %d jobs", page, totalPages, len(jobs))
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, title)
		return err
	}

	flats := make([]map[string]string, len(jobs))
	for i, job := range jobs {
		flats[i] = job.Flatten()
	}
	keys := columnKeys(flats)

	headers := append([]string{"#", "id"}, headerNames(keys)...)
	rows := make([][]string, len(jobs))
	for i, flat := range flats {
		row := []string{fmt.Sprint(i + 1), jobs[i].ID()}
		for _, k := range keys {
			row = append(row, flat[k])
		}
		rows[i] = row
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	_, err := fmt.Fprintf(w, "%s\n%s\n", title, t.Render())
	return err
}

// PrintResults renders the outcome of each job followed by the totals.
func PrintResults(w io.Writer, entries []Entry) error {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.ID,
			string(e.Status),
			e.PackageID,
			yesNo(e.Built),
			yesNo(e.Uploaded),
			fmt.Sprintf("%.1fs", e.Duration),
			firstLine(e.Error),
		}
	}

	const statusCol = 1
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusCol && row >= 0 && row < len(entries) {
				if s, ok := statusStyles[entries[row].Status]; ok {
					return s
				}
			}
			return cellStyle
		}).
		Headers("id", "status", "package", "built", "uploaded", "duration", "error").
		Rows(rows...)

	tot := Count(entries)
	_, err := fmt.Fprintf(w, "%s\n%d succeeded, %d invalid, %d failed, %d pending; %d built, %d uploaded\n",
		t.Render(), tot.Success, tot.Invalid, tot.Failed, tot.Pending, tot.Built, tot.Uploads)
	return err
}

// columnKeys returns the union of flat keys, settings first, then options,
// env and build requires, each group sorted.
func columnKeys(flats []map[string]string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, flat := range flats {
		for k := range flat {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		gi, gj := group(keys[i]), group(keys[j])
		if gi != gj {
			return gi < gj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func group(key string) int {
	switch {
	case strings.HasPrefix(key, "settings."):
		return 0
	case strings.HasPrefix(key, "options."):
		return 1
	case strings.HasPrefix(key, "env."):
		return 2
	default:
		return 3
	}
}

func headerNames(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k
		for _, p := range columnPrefixes {
			if strings.HasPrefix(k, p) {
				out[i] = strings.TrimPrefix(k, p)
				break
			}
		}
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
