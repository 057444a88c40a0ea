package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/mentor/internal/archive"
	"github.com/MikeSquared-Agency/mentor/internal/jobs"
	"github.com/MikeSquared-Agency/mentor/internal/ledger"
	"github.com/MikeSquared-Agency/mentor/internal/pipeline"
)

type fakeJobs map[string]jobs.Job

func (f fakeJobs) Submit(id, filename, path string) jobs.Job { return jobs.Job{ID: id} }

func (f fakeJobs) Get(id string) (jobs.Job, bool) {
	j, ok := f[id]
	return j, ok
}

func (f fakeJobs) List() []jobs.Job { return nil }

const testAnalysisID = "evt_20250301_120000_ab12cd34"

type resultsEnv struct {
	srv   *Server
	store *archive.Store
}

func newResultsEnv(t *testing.T) *resultsEnv {
	t.Helper()
	l, err := ledger.Open(t.TempDir(), ledger.DefaultConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store := archive.NewStore(t.TempDir(), nil, discardLogger())
	bundle, err := ledger.ParseValue([]byte(`{"status": "completed", "insights": ["Split the annual price into a cost per seat"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(archive.Analysis{
		ID:         testAnalysisID,
		SourceFile: "acme.pdf",
		CreatedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Agents:     []string{"objection_specialist"},
		Results:    map[string]ledger.Value{"objection_specialist": bundle},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	queue := fakeJobs{
		"queued":    {ID: "queued", Status: jobs.StatusQueued, Progress: []string{"Queued for analysis"}},
		"failed":    {ID: "failed", Status: jobs.StatusFailed, Error: "extract text: not a PDF"},
		"completed": {ID: "completed", Status: jobs.StatusCompleted, Report: &pipeline.Report{AnalysisID: testAnalysisID, SourceFile: "acme.pdf"}},
		"unsaved":   {ID: "unsaved", Status: jobs.StatusCompleted, Report: &pipeline.Report{AnalysisID: "evt_unsaved", SourceFile: "other.pdf"}},
	}
	srv := NewServer(Options{Port: 8000, UploadDir: t.TempDir(), Results: store}, l, queue, discardLogger())
	return &resultsEnv{srv: srv, store: store}
}

func (e *resultsEnv) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestJobResults(t *testing.T) {
	e := newResultsEnv(t)

	w := e.get("/results/queued")
	if w.Code != http.StatusAccepted {
		t.Fatalf("queued status = %d", w.Code)
	}
	var pending map[string]any
	decode(t, w, &pending)
	if pending["status"] != "queued" || pending["progress"] == nil {
		t.Errorf("queued body = %v", pending)
	}

	w = e.get("/results/failed")
	var failed map[string]any
	decode(t, w, &failed)
	if w.Code != http.StatusOK || failed["error"] != "extract text: not a PDF" {
		t.Errorf("failed = %d %v", w.Code, failed)
	}

	w = e.get("/results/completed")
	if w.Code != http.StatusOK {
		t.Fatalf("completed status = %d", w.Code)
	}
	var doc map[string]any
	decode(t, w, &doc)
	if doc["analysis_id"] != testAnalysisID || doc["individual_analyses"] == nil {
		t.Errorf("completed body = %v", doc)
	}

	if w := e.get("/results/missing"); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}
}

func TestJobResults_FallsBackToReport(t *testing.T) {
	e := newResultsEnv(t)
	w := e.get("/results/unsaved")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var report map[string]any
	decode(t, w, &report)
	if report["source_file"] != "other.pdf" {
		t.Errorf("body = %v", report)
	}
}

func TestDownloadJobFile(t *testing.T) {
	e := newResultsEnv(t)

	w := e.get("/download/completed/" + archive.FileCoachingGuide)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="acme_enhanced_prompt.txt"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(w.Body.String(), "- Split the annual price into a cost per seat") {
		t.Errorf("body = %s", w.Body)
	}

	w = e.get("/download/completed/agent_objection_specialist")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"insights"`) {
		t.Errorf("agent file = %d %s", w.Code, w.Body)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/download/completed/secrets", http.StatusBadRequest},
		{"/download/queued/" + archive.FileComprehensive, http.StatusConflict},
		{"/download/missing/" + archive.FileComprehensive, http.StatusNotFound},
		{"/download/unsaved/" + archive.FileComprehensive, http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := e.get(tt.path); w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestAnalysisRoutes(t *testing.T) {
	e := newResultsEnv(t)

	w := e.get("/analyses/" + testAnalysisID)
	if w.Code != http.StatusOK {
		t.Fatalf("manifest status = %d", w.Code)
	}
	var m archive.Manifest
	decode(t, w, &m)
	if m.AnalysisID != testAnalysisID || m.Files[archive.FileComprehensive] != "acme_comprehensive_analysis.json" {
		t.Errorf("manifest = %+v", m)
	}

	w = e.get("/analyses/" + testAnalysisID + "/" + archive.FileComprehensive)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), testAnalysisID) {
		t.Errorf("file = %d %s", w.Code, w.Body)
	}

	if w := e.get("/analyses/evt_missing"); w.Code != http.StatusNotFound {
		t.Errorf("missing manifest status = %d", w.Code)
	}
	if w := e.get("/analyses/..%2f" + testAnalysisID + "/" + archive.FileComprehensive); w.Code != http.StatusNotFound {
		t.Errorf("escaped id status = %d", w.Code)
	}
}

func TestDownload_ResultsDisabled(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest("GET", "/analyses/"+testAnalysisID+"/"+archive.FileComprehensive, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCoachingGuide(t *testing.T) {
	env := newTestEnv(t)
	env.recordEvent(t, "call1.pdf",
		"Close every call by booking the next meeting on the calendar",
		"Offer two concrete options instead of asking a yes or no question",
	)

	w := env.do(httptest.NewRequest("GET", "/lessons/coaching-guide?per_section=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "## Closing Specialist") || !strings.Contains(body, "2 unique lessons in 1 categories") {
		t.Errorf("guide = %s", body)
	}
	a := strings.Contains(body, "booking the next meeting")
	b := strings.Contains(body, "two concrete options")
	if a == b {
		t.Errorf("want exactly one lesson listed with per_section=1:\n%s", body)
	}

	if w := env.do(httptest.NewRequest("GET", "/lessons/coaching-guide?per_section=0", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("bad per_section status = %d", w.Code)
	}
}
