package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ferdiu/latex-server/internal/compiler"
	"github.com/ferdiu/latex-server/internal/events"
	"github.com/ferdiu/latex-server/internal/log"
	"github.com/ferdiu/latex-server/internal/metrics"
	"github.com/ferdiu/latex-server/internal/queue"
	"github.com/ferdiu/latex-server/internal/workspace"
)

type fakeQueue struct {
	jobs     map[string]*queue.Job
	enqueued []queue.EnqueueRequest
	synced   []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]*queue.Job)}
}

func (f *fakeQueue) Enqueue(_ context.Context, req queue.EnqueueRequest) (string, error) {
	f.enqueued = append(f.enqueued, req)
	id := fmt.Sprintf("job-%d", len(f.enqueued))
	f.jobs[id] = &queue.Job{
		ID:        id,
		Payload:   req.Payload,
		Status:    queue.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

func (f *fakeQueue) RecordSync(_ context.Context, id string, payload []byte, startedAt time.Time, res queue.Result) error {
	f.synced = append(f.synced, id)
	created := startedAt.UTC()
	completed := time.Now().UTC()
	job := &queue.Job{
		ID:               id,
		Payload:          payload,
		Status:           res.Status,
		SubmittedBy:      "sync",
		CreatedAt:        created,
		StartedAt:        &created,
		CompletedAt:      &completed,
		Passes:           res.Passes,
		BibliographyRuns: res.BibliographyRuns,
		Log:              res.Log,
		Artifact:         res.Artifact,
		LastError:        res.LastError,
	}
	if res.ArtifactDigest != "" {
		digest := res.ArtifactDigest
		job.ArtifactDigest = &digest
	}
	f.jobs[id] = job
	return nil
}

func (f *fakeQueue) GetJob(_ context.Context, jobID string) (*queue.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeQueue) Depth(context.Context) (int, error) { return len(f.enqueued), nil }

type recorderSpy struct {
	metrics.NoopRecorder
	durations int
	passes    []int
	bibRuns   int
	outcomes  map[metrics.OutcomeLabel]int
}

func (r *recorderSpy) ObserveCompileDuration(time.Duration) { r.durations++ }
func (r *recorderSpy) ObservePasses(n int)                  { r.passes = append(r.passes, n) }
func (r *recorderSpy) IncBibliographyRun()                  { r.bibRuns++ }
func (r *recorderSpy) IncOutcome(o metrics.OutcomeLabel) {
	if r.outcomes == nil {
		r.outcomes = make(map[metrics.OutcomeLabel]int)
	}
	r.outcomes[o]++
}

type fakeCompiler struct {
	outcome compiler.Outcome
	err     error
	lastReq compiler.Request
}

func (f *fakeCompiler) Compile(_ context.Context, _ string, req compiler.Request) (compiler.Outcome, error) {
	f.lastReq = req
	return f.outcome, f.err
}

func newTestServer(t *testing.T, apiKey string, q JobQueuer, c CompileService) *httptest.Server {
	t.Helper()
	s := New(Config{
		Listen:  "127.0.0.1:0",
		APIKey:  apiKey,
		Version: "test",
	}, q, c, events.NewHub(16), nil, nil, log.WithComponent("api"))
	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func TestRootHealthCheck(t *testing.T) {
	ts := newTestServer(t, "", newFakeQueue(), &fakeCompiler{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body RootResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != "LaTeX Compilation Server" {
		t.Fatalf("body = %+v", body)
	}
}

func TestCompileSyncSuccess(t *testing.T) {
	fc := &fakeCompiler{outcome: compiler.Outcome{
		Log:          "=== Initial LaTeX compilation ===\nok",
		Artifact:     []byte("%PDF-1.5 fake"),
		EnginePasses: 1,
	}}
	ts := newTestServer(t, "", newFakeQueue(), fc)

	resp, err := http.Post(ts.URL+"/compile", "application/json",
		strings.NewReader(`{"main": "\\documentclass{article}"}`))
	if err != nil {
		t.Fatalf("POST /compile: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body CompileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(body.File)
	if err != nil {
		t.Fatalf("file is not base64: %v", err)
	}
	if string(decoded) != "%PDF-1.5 fake" {
		t.Fatalf("artifact round trip = %q", decoded)
	}
	if !strings.Contains(body.Log, "Initial LaTeX compilation") {
		t.Fatalf("log = %q", body.Log)
	}
	if fc.lastReq.Main != "\\documentclass{article}" {
		t.Fatalf("compiler did not receive main: %q", fc.lastReq.Main)
	}
}

func TestCompileSyncPersistsResultAndMetrics(t *testing.T) {
	fq := newFakeQueue()
	fc := &fakeCompiler{outcome: compiler.Outcome{
		Log:              "ok",
		Artifact:         []byte("%PDF-1.5 fake"),
		EnginePasses:     2,
		BibliographyRuns: 1,
	}}
	spy := &recorderSpy{}
	s := New(Config{Version: "test"}, fq, fc, events.NewHub(16), spy, nil, log.WithComponent("api"))
	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(ts.Close)

	payload := `{"main": "x"}`
	resp, err := http.Post(ts.URL+"/compile", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /compile: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if len(fq.synced) != 1 {
		t.Fatalf("synced runs = %d, want 1", len(fq.synced))
	}
	job, err := fq.GetJob(context.Background(), fq.synced[0])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != queue.StatusSucceeded || job.Passes != 2 || job.BibliographyRuns != 1 {
		t.Fatalf("stored job = %+v", job)
	}
	if job.ArtifactDigest == nil || *job.ArtifactDigest == "" {
		t.Fatalf("stored job has no artifact digest")
	}
	if !bytes.Equal(job.Payload, []byte(payload)) {
		t.Fatalf("stored payload = %q", job.Payload)
	}

	// The run is inspectable like any queued job.
	getResp, err := http.Get(ts.URL + "/jobs/" + fq.synced[0])
	if err != nil {
		t.Fatalf("GET /jobs/{id}: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", getResp.StatusCode)
	}
	var stored JobResponse
	if err := json.NewDecoder(getResp.Body).Decode(&stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.File != base64.StdEncoding.EncodeToString([]byte("%PDF-1.5 fake")) {
		t.Fatalf("stored File = %q", stored.File)
	}

	if spy.durations != 1 {
		t.Fatalf("durations observed = %d", spy.durations)
	}
	if len(spy.passes) != 1 || spy.passes[0] != 2 {
		t.Fatalf("passes observed = %v", spy.passes)
	}
	if spy.bibRuns != 1 {
		t.Fatalf("bibliography runs = %d", spy.bibRuns)
	}
	if spy.outcomes[metrics.OutcomeSuccess] != 1 {
		t.Fatalf("outcomes = %v", spy.outcomes)
	}
}

func TestCompileSyncFailureReturnsEmptyFile(t *testing.T) {
	fq := newFakeQueue()
	fc := &fakeCompiler{outcome: compiler.Outcome{
		Log:      "boom\n=== ERROR: PDF file was not generated ===",
		Artifact: nil,
	}}
	ts := newTestServer(t, "", fq, fc)

	resp, err := http.Post(ts.URL+"/compile", "application/json", strings.NewReader(`{"main": "x"}`))
	if err != nil {
		t.Fatalf("POST /compile: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on document failure", resp.StatusCode)
	}
	var body CompileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.File != "" {
		t.Fatalf("File = %q, want empty", body.File)
	}

	if len(fq.synced) != 1 {
		t.Fatalf("synced runs = %d, want 1", len(fq.synced))
	}
	job, err := fq.GetJob(context.Background(), fq.synced[0])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("stored status = %q, want failed", job.Status)
	}
	if job.LastError == nil || *job.LastError != "PDF file was not generated" {
		t.Fatalf("stored LastError = %v", job.LastError)
	}
}

func TestCompileSyncInvalidPathIs400(t *testing.T) {
	fc := &fakeCompiler{err: fmt.Errorf("%w: \"../x\" escapes the workspace root", workspace.ErrInvalidPath)}
	ts := newTestServer(t, "", newFakeQueue(), fc)

	resp, err := http.Post(ts.URL+"/compile", "application/json",
		strings.NewReader(`{"main": "x", "files": {"../x": "y"}}`))
	if err != nil {
		t.Fatalf("POST /compile: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCompileSyncBadJSONIs400(t *testing.T) {
	ts := newTestServer(t, "", newFakeQueue(), &fakeCompiler{})

	resp, err := http.Post(ts.URL+"/compile", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("POST /compile: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitAndFetchJob(t *testing.T) {
	fq := newFakeQueue()
	ts := newTestServer(t, "", fq, &fakeCompiler{})

	payload := `{"main": "queued doc"}`
	resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var accepted JobAcceptedResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.JobID == "" || accepted.Status != string(queue.StatusQueued) {
		t.Fatalf("accepted = %+v", accepted)
	}
	if len(fq.enqueued) != 1 || !bytes.Equal(fq.enqueued[0].Payload, []byte(payload)) {
		t.Fatalf("enqueued = %#v", fq.enqueued)
	}

	getResp, err := http.Get(ts.URL + "/jobs/" + accepted.JobID)
	if err != nil {
		t.Fatalf("GET /jobs/{id}: %v", err)
	}
	defer getResp.Body.Close()

	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", getResp.StatusCode)
	}
	var job JobResponse
	if err := json.NewDecoder(getResp.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.JobID != accepted.JobID || job.Status != string(queue.StatusQueued) {
		t.Fatalf("job = %+v", job)
	}
}

func TestSubmitJobRejectsInvalidPayload(t *testing.T) {
	fq := newFakeQueue()
	ts := newTestServer(t, "", fq, &fakeCompiler{})

	resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(`{"files": {}}`))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(fq.enqueued) != 0 {
		t.Fatalf("invalid payload reached the queue")
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestServer(t, "", newFakeQueue(), &fakeCompiler{})

	resp, err := http.Get(ts.URL + "/jobs/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	ts := newTestServer(t, "topsecret", newFakeQueue(), &fakeCompiler{
		outcome: compiler.Outcome{Log: "ok", Artifact: []byte("%PDF")},
	})

	// No token.
	resp, err := http.Post(ts.URL+"/compile", "application/json", strings.NewReader(`{"main": "x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Wrong token.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/compile", strings.NewReader(`{"main": "x"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong-token status = %d, want 401", resp.StatusCode)
	}

	// Correct token.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/compile", strings.NewReader(`{"main": "x"}`))
	req.Header.Set("Authorization", "Bearer topsecret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200 without auth", resp.StatusCode)
	}
}
