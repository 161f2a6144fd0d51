package matrix

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func makeJobs(n int) JobList {
	jobs := make(JobList, n)
	for i := range jobs {
		cfg := NewBuildConfiguration()
		cfg.Settings["index"] = fmt.Sprint(i)
		jobs[i] = cfg
	}
	return jobs
}

func TestSplitFiveIntoTwo(t *testing.T) {
	jobs := makeJobs(5)

	first, err := Split(jobs, 1, 2)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	second, err := Split(jobs, 2, 2)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(first) != 3 {
		t.Errorf("Expected page 1 to hold 3 jobs, got: %d", len(first))
	}
	if len(second) != 2 {
		t.Errorf("Expected page 2 to hold 2 jobs, got: %d", len(second))
	}
}

func TestSplitReassembles(t *testing.T) {
	for n := 0; n <= 17; n++ {
		jobs := makeJobs(n)
		for total := 1; total <= 7; total++ {
			var joined JobList
			minSize, maxSize := n+1, -1
			for page := 1; page <= total; page++ {
				part, err := Split(jobs, page, total)
				if err != nil {
					t.Fatalf("Split(%d, %d, %d) error = %v", n, page, total, err)
				}
				joined = append(joined, part...)
				minSize = min(minSize, len(part))
				maxSize = max(maxSize, len(part))
			}
			if diff := cmp.Diff(jobs.IDs(), joined.IDs()); diff != "" {
				t.Errorf("n=%d total=%d: pages do not reassemble (-want +got):\n%s", n, total, diff)
			}
			if len(joined) != n {
				t.Errorf("n=%d total=%d: expected %d jobs, got %d", n, total, n, len(joined))
			}
			if maxSize-minSize > 1 {
				t.Errorf("n=%d total=%d: page sizes range %d..%d", n, total, minSize, maxSize)
			}
		}
	}
}

func TestSplitLargerPagesFirst(t *testing.T) {
	jobs := makeJobs(7)
	want := []int{3, 2, 2}
	for i, w := range want {
		part, err := Split(jobs, i+1, 3)
		if err != nil {
			t.Fatalf("Split() error = %v", err)
		}
		if len(part) != w {
			t.Errorf("page %d: expected %d jobs, got %d", i+1, w, len(part))
		}
	}
}

func TestSplitOutOfRange(t *testing.T) {
	jobs := makeJobs(4)
	tests := []struct {
		page, total int
	}{
		{0, 2},
		{3, 2},
		{-1, 1},
		{1, 0},
	}
	for _, tt := range tests {
		_, err := Split(jobs, tt.page, tt.total)
		if !IsConfigurationError(err) {
			t.Errorf("Split(page=%d, total=%d): expected configuration error, got: %v", tt.page, tt.total, err)
		}
	}
}

func TestSplitDoesNotAlias(t *testing.T) {
	jobs := makeJobs(2)
	part, err := Split(jobs, 1, 1)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	part[0] = NewBuildConfiguration()
	if jobs[0].Settings["index"] != "0" {
		t.Errorf("Split result aliases its input")
	}
}
