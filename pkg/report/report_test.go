package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pkgmatrix/pkg/matrix"
	"github.com/openfroyo/pkgmatrix/pkg/runner"
	"github.com/openfroyo/pkgmatrix/pkg/stores"
)

var testRef = matrix.Reference{Name: "zlib", Version: "1.2.13", User: "lasote", Channel: "stable"}

func configuration(compilerVersion, buildType string) matrix.BuildConfiguration {
	cfg := matrix.NewBuildConfiguration()
	cfg.Settings["compiler"] = "gcc"
	cfg.Settings["compiler.version"] = compilerVersion
	cfg.Settings["build_type"] = buildType
	return cfg
}

func testJobs() []runner.Job {
	shared := configuration("11", "Release")
	shared.Options["zlib/*:shared"] = "True"
	return []runner.Job{
		runner.NewJob(shared, testRef, true),
		runner.NewJob(configuration("11", "Debug"), testRef, true),
		runner.NewJob(configuration("12", "Release"), testRef, true),
	}
}

func TestSummarize(t *testing.T) {
	jobs := testJobs()
	results := []*runner.Result{
		{JobID: jobs[0].ID, Reference: "zlib/1.2.13@lasote/stable", PackageID: "abc123", Built: true, Uploaded: true, Status: runner.StatusSuccess, Duration: 1500 * time.Millisecond},
		{JobID: jobs[1].ID, Status: runner.StatusInvalid, Error: "Invalid configuration: Debug not supported"},
		nil,
	}

	got := Summarize(jobs, results)
	want := []Entry{
		{
			ID:            jobs[0].ID,
			Configuration: map[string]string{"settings.compiler": "gcc", "settings.compiler.version": "11", "settings.build_type": "Release", "options.zlib/*:shared": "True"},
			Reference:     "zlib/1.2.13@lasote/stable",
			PackageID:     "abc123",
			Built:         true,
			Uploaded:      true,
			Status:        runner.StatusSuccess,
			Duration:      1.5,
		},
		{
			ID:            jobs[1].ID,
			Configuration: map[string]string{"settings.compiler": "gcc", "settings.compiler.version": "11", "settings.build_type": "Debug"},
			Reference:     "zlib/1.2.13@lasote/stable",
			Status:        runner.StatusInvalid,
			Error:         "Invalid configuration: Debug not supported",
		},
		{
			ID:            jobs[2].ID,
			Configuration: map[string]string{"settings.compiler": "gcc", "settings.compiler.version": "12", "settings.build_type": "Release"},
			Reference:     "zlib/1.2.13@lasote/stable",
			Status:        runner.StatusPending,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}

	wantTotals := Totals{Success: 1, Invalid: 1, Pending: 1, Built: 1, Uploads: 1}
	if diff := cmp.Diff(wantTotals, Count(got)); diff != "" {
		t.Errorf("Count mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "summary.json")
	entries := Summarize(testJobs()[:1], []*runner.Result{{JobID: testJobs()[0].ID, Status: runner.StatusFailed, Error: "exit 1"}})

	if err := WriteSummary(path, entries); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("summary is not a JSON list: %v", err)
	}
	for _, field := range []string{"id", "configuration", "reference", "package_id", "built", "uploaded", "status", "error", "duration"} {
		if _, ok := raw[0][field]; !ok {
			t.Errorf("summary entry lacks %q", field)
		}
	}

	got, err := ReadSummary(path)
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("ReadSummary mismatch (-want +got):\n%s", diff)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".summary-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestWriteSummaryEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	if err := WriteSummary(path, nil); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("empty summary = %q, want []", data)
	}
}

func TestPrintPage(t *testing.T) {
	jobs := make(matrix.JobList, 0, 3)
	for _, j := range testJobs() {
		jobs = append(jobs, j.Configuration)
	}

	var buf bytes.Buffer
	if err := PrintPage(&buf, jobs, 2, 3); err != nil {
		t.Fatalf("PrintPage: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"Page 2/3: 3 jobs", "compiler.version", "build_type", "options.zlib/*:shared", jobs[0].ID(), "Debug"} {
		if !strings.Contains(out, want) {
			t.Errorf("page output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "settings.compiler") {
		t.Errorf("settings prefix should be dropped from headers:\n%s", out)
	}
	if strings.Index(out, "build_type") > strings.Index(out, "options.zlib/*:shared") {
		t.Errorf("settings columns should come before options:\n%s", out)
	}
}

func TestPrintPageEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintPage(&buf, nil, 1, 1); err != nil {
		t.Fatalf("PrintPage: %v", err)
	}
	if got := buf.String(); got != "Page 1/1: 0 jobs\n" {
		t.Errorf("got %q", got)
	}
}

func TestPrintResults(t *testing.T) {
	entries := []Entry{
		{ID: "5d2b0c41a9e3", Status: runner.StatusSuccess, PackageID: "abc123", Built: true, Duration: 12.34},
		{ID: "9f41c7e20b18", Status: runner.StatusFailed, Error: "build failed\ntraceback"},
	}

	var buf bytes.Buffer
	if err := PrintResults(&buf, entries); err != nil {
		t.Fatalf("PrintResults: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"5d2b0c41a9e3", "abc123", "12.3s", "build failed ...", "1 succeeded, 0 invalid, 1 failed, 0 pending; 1 built, 0 uploaded"} {
		if !strings.Contains(out, want) {
			t.Errorf("results output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "traceback") {
		t.Errorf("only the first error line should be shown:\n%s", out)
	}
}

func TestPlanJSON(t *testing.T) {
	jobs := matrix.JobList{configuration("11", "Release")}
	plan := NewPlan(jobs, 1, 2, matrix.Stats{Candidates: 4, Excluded: 3, Jobs: 1})

	var buf bytes.Buffer
	if err := plan.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var decoded struct {
		Page       int          `json:"page"`
		TotalPages int          `json:"total_pages"`
		Stats      matrix.Stats `json:"stats"`
		Jobs       []struct {
			ID            string `json:"id"`
			Configuration struct {
				Settings map[string]string `json:"settings"`
			} `json:"configuration"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Page != 1 || decoded.TotalPages != 2 || decoded.Stats.Excluded != 3 {
		t.Errorf("unexpected header: %+v", decoded)
	}
	if len(decoded.Jobs) != 1 || decoded.Jobs[0].ID != jobs[0].ID() || decoded.Jobs[0].Configuration.Settings["build_type"] != "Release" {
		t.Errorf("unexpected jobs: %+v", decoded.Jobs)
	}
}

func TestPrintHistory(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	msg := "conan create failed\nexit status 1"
	jobID := "a1b2c3"

	var buf bytes.Buffer
	err := PrintRuns(&buf, []*stores.Run{{
		ID:          "run-1",
		Reference:   "zlib/1.2.13@lasote/stable",
		Branch:      "master",
		Runner:      "docker",
		Page:        2,
		TotalPages:  4,
		Status:      stores.RunStatusFailed,
		JobCount:    3,
		StartedAt:   started,
		CompletedAt: &completed,
	}})
	if err != nil {
		t.Fatalf("PrintRuns() error = %v", err)
	}
	for _, want := range []string{"run-1", "master", "docker", "2/4", "failed", "1m30s"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	err = PrintJobRecords(&buf, []*stores.JobRecord{{
		JobID:    jobID,
		Status:   string(runner.StatusFailed),
		Duration: 2500 * time.Millisecond,
		Error:    &msg,
	}})
	if err != nil {
		t.Fatalf("PrintJobRecords() error = %v", err)
	}
	for _, want := range []string{jobID, "failed", "2.5s", "conan create failed ..."} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	err = PrintEvents(&buf, []*stores.Event{
		{Level: stores.EventLevelInfo, Message: "Building", Timestamp: started, JobID: &jobID},
		{Level: stores.EventLevelError, Message: "build failed", Timestamp: completed},
	})
	if err != nil {
		t.Fatalf("PrintEvents() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "["+jobID+"] Building") || !strings.HasSuffix(lines[1], " build failed") {
		t.Errorf("Unexpected events output:\n%s", buf.String())
	}
}
