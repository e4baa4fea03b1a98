package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/ferdiu/latex-server/internal/compiler"
	"github.com/ferdiu/latex-server/internal/events"
	"github.com/ferdiu/latex-server/internal/metrics"
	"github.com/ferdiu/latex-server/internal/queue"
	"github.com/ferdiu/latex-server/internal/workspace"
)

const maxRequestBytes = 64 * 1024 * 1024

// handleRoot handles GET / (no auth), the legacy health check.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RootResponse{
		Status:  "ok",
		Service: "LaTeX Compilation Server",
		Version: s.config.Version,
	})
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
	})
}

// handleCompile handles POST /compile: a synchronous compilation that holds
// the connection until the run finishes.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	select {
	case s.syncSemaphore <- struct{}{}:
		defer func() { <-s.syncSemaphore }()
	default:
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent compilations")
		return
	}

	req, body, ok := s.decodeCompileRequest(w, r)
	if !ok {
		return
	}

	runID := uuid.NewString()
	s.logger.Info("compilation request received", "run_id", runID, "files", len(req.Files)+1)

	start := time.Now()
	out, err := s.compiler.Compile(r.Context(), runID, req.ToCompiler())
	if err != nil {
		if errors.Is(err, workspace.ErrInvalidPath) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("compilation failed", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "compilation error: "+err.Error())
		return
	}
	elapsed := time.Since(start)

	encoded := ""
	if out.Artifact != nil {
		encoded = base64.StdEncoding.EncodeToString(out.Artifact)
	} else {
		s.logger.Error("compilation failed to produce PDF", "run_id", runID)
	}

	// Sync runs land in the same jobs table as queued ones, so they stay
	// inspectable through GET /jobs/{id} and count in the metrics.
	res := syncResult(out)
	if err := s.queue.RecordSync(r.Context(), runID, body, start, res); err != nil {
		s.logger.Error("failed to record sync compilation", "run_id", runID, "error", err)
	}
	s.observeCompile(out, elapsed)

	s.hub.Publish(events.TypeCompileSync, events.JobEvent{
		JobID:    runID,
		Status:   string(res.Status),
		Passes:   out.EnginePasses,
		Duration: elapsed.Round(time.Millisecond).String(),
	})

	respondJSON(w, http.StatusOK, CompileResponse{Log: out.Log, File: encoded})
}

// syncResult converts a compilation outcome into the stored job result shape.
func syncResult(out compiler.Outcome) queue.Result {
	res := queue.Result{
		Passes:           out.EnginePasses,
		BibliographyRuns: out.BibliographyRuns,
		Log:              out.Log,
		Artifact:         out.Artifact,
	}
	if out.Artifact == nil {
		res.Status = queue.StatusFailed
		msg := "PDF file was not generated"
		res.LastError = &msg
		return res
	}
	res.Status = queue.StatusSucceeded
	sum := blake3.Sum256(out.Artifact)
	res.ArtifactDigest = fmt.Sprintf("%x", sum[:])
	return res
}

func (s *Server) observeCompile(out compiler.Outcome, elapsed time.Duration) {
	s.recorder.ObserveCompileDuration(elapsed)
	s.recorder.ObservePasses(out.EnginePasses)
	for i := 0; i < out.BibliographyRuns; i++ {
		s.recorder.IncBibliographyRun()
	}
	for _, rec := range out.Records {
		if rec.TimedOut {
			s.recorder.IncTimeout()
		}
	}
	if out.Artifact != nil {
		s.recorder.IncOutcome(metrics.OutcomeSuccess)
	} else {
		s.recorder.IncOutcome(metrics.OutcomeFailed)
	}
}

// handleSubmitJob handles POST /jobs: queue a compilation for the workers.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Validate the payload up front so bad requests fail fast instead of in
	// a worker.
	var req CompileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Payload:     body,
		SubmittedBy: "api",
	})
	if err != nil {
		s.logger.Error("failed to enqueue job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	s.hub.Publish(events.TypeJobQueued, events.JobEvent{JobID: jobID, Status: string(queue.StatusQueued)})
	s.logger.Info("job enqueued via API", "job_id", jobID)

	respondJSON(w, http.StatusAccepted, JobAcceptedResponse{JobID: jobID, Status: string(queue.StatusQueued)})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.queue.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to load job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	resp := JobResponse{
		JobID:            job.ID,
		Status:           string(job.Status),
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
		Passes:           job.Passes,
		BibliographyRuns: job.BibliographyRuns,
		Log:              job.Log,
	}
	if job.Artifact != nil {
		resp.File = base64.StdEncoding.EncodeToString(job.Artifact)
	}
	if job.ArtifactDigest != nil {
		resp.ArtifactDigest = *job.ArtifactDigest
	}
	if job.LastError != nil {
		resp.Error = *job.LastError
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeCompileRequest(w http.ResponseWriter, r *http.Request) (CompileRequest, []byte, bool) {
	var req CompileRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return req, nil, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, nil, false
	}
	return req, body, true
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
