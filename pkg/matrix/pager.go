package matrix

import "fmt"

// Split returns the 1-indexed page of a balanced contiguous partition of jobs.
//
// The first len(jobs)%totalPages pages hold one job more than the rest, so page
// sizes differ by at most one and concatenating pages 1..totalPages yields jobs.
func Split(jobs JobList, page, totalPages int) (JobList, error) {
	start, end, err := PageBounds(len(jobs), page, totalPages)
	if err != nil {
		return nil, err
	}
	out := make(JobList, end-start)
	copy(out, jobs[start:end])
	return out, nil
}

// PageBounds returns the half-open index range [start, end) of page within n jobs.
func PageBounds(n, page, totalPages int) (start, end int, err error) {
	if totalPages < 1 {
		return 0, 0, NewConfigurationError(
			fmt.Sprintf("total pages must be at least 1, got %d", totalPages), nil).
			WithCode(ErrCodePageOutOfRange)
	}
	if page < 1 || page > totalPages {
		return 0, 0, NewConfigurationError(
			fmt.Sprintf("page %d out of range 1..%d", page, totalPages), nil).
			WithCode(ErrCodePageOutOfRange)
	}

	size, rem := n/totalPages, n%totalPages
	p := page - 1
	start = p*size + min(p, rem)
	end = start + size
	if p < rem {
		end++
	}
	return start, end, nil
}
