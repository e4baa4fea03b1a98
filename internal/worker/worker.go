package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ferdiu/latex-server/internal/api"
	"github.com/ferdiu/latex-server/internal/compiler"
	"github.com/ferdiu/latex-server/internal/events"
	"github.com/ferdiu/latex-server/internal/log"
	"github.com/ferdiu/latex-server/internal/metrics"
	"github.com/ferdiu/latex-server/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks github.com/ferdiu/latex-server/internal/worker CompileService,JobQueue

// CompileService is the compilation surface the pool depends on. Satisfied by
// *compiler.Compiler; mocked in tests.
type CompileService interface {
	Compile(ctx context.Context, runID string, req compiler.Request) (compiler.Outcome, error)
}

// JobQueue is the queue surface the pool depends on.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, res queue.Result) error
	Depth(ctx context.Context) (int, error)
}

// Pool runs a fixed number of workers that poll the queue and execute
// compilation jobs.
type Pool struct {
	queue    JobQueue
	compiler CompileService
	hub      *events.Hub
	recorder metrics.Recorder
	count    int
	poll     time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	active int
}

func NewPool(q JobQueue, c CompileService, hub *events.Hub, rec metrics.Recorder, count int, poll time.Duration) *Pool {
	if count <= 0 {
		count = 1
	}
	if poll <= 0 {
		poll = time.Second
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Pool{
		queue:    q,
		compiler: c,
		hub:      hub,
		recorder: rec,
		count:    count,
		poll:     poll,
		logger:   log.WithComponent("worker"),
	}
}

// Run starts the workers and blocks until ctx is canceled and all workers
// have drained their in-flight job.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool starting", "workers", p.count, "poll_interval", p.poll.String())

	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i + 1)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("dequeue failed", "worker", id, "error", err)
			}
		} else if job != nil {
			p.execute(ctx, id, job)
			if depth, err := p.queue.Depth(ctx); err == nil {
				p.recorder.SetQueueDepth(depth)
			}
			// Claim the next job right away; the poll interval only paces an
			// idle (or erroring) queue.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) execute(ctx context.Context, workerID int, job *queue.Job) {
	jobLogger := log.WithJob(job.ID)
	jobLogger.Info("job started", "worker", workerID, "submitted_by", job.SubmittedBy)
	p.hub.Publish(events.TypeJobStarted, events.JobEvent{JobID: job.ID, Status: string(queue.StatusRunning)})

	p.mu.Lock()
	p.active++
	p.recorder.SetActiveJobs(p.active)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.recorder.SetActiveJobs(p.active)
		p.mu.Unlock()
	}()

	start := time.Now()
	res := p.runJob(ctx, job)
	elapsed := time.Since(start)

	p.recorder.ObserveCompileDuration(elapsed)
	p.recorder.ObservePasses(res.Passes)
	for i := 0; i < res.BibliographyRuns; i++ {
		p.recorder.IncBibliographyRun()
	}

	eventType := events.TypeJobCompleted
	outcome := metrics.OutcomeSuccess
	if res.Status != queue.StatusSucceeded {
		eventType = events.TypeJobFailed
		outcome = metrics.OutcomeFailed
	}
	p.recorder.IncOutcome(outcome)

	if err := p.queue.Complete(ctx, job.ID, res); err != nil {
		jobLogger.Error("failed to record job result", "error", err)
	}

	ev := events.JobEvent{
		JobID:    job.ID,
		Status:   string(res.Status),
		Passes:   res.Passes,
		Duration: elapsed.Round(time.Millisecond).String(),
	}
	if res.LastError != nil {
		ev.Error = *res.LastError
	}
	p.hub.Publish(eventType, ev)
	jobLogger.Info("job finished", "status", res.Status, "passes", res.Passes, "duration", elapsed.Round(time.Millisecond).String())
}

func (p *Pool) runJob(ctx context.Context, job *queue.Job) queue.Result {
	var body api.CompileRequest
	if err := json.Unmarshal(job.Payload, &body); err != nil {
		msg := fmt.Sprintf("decode job payload: %v", err)
		return queue.Result{Status: queue.StatusFailed, LastError: &msg}
	}

	out, err := p.compiler.Compile(ctx, job.ID, body.ToCompiler())
	if err != nil {
		msg := err.Error()
		return queue.Result{Status: queue.StatusFailed, LastError: &msg}
	}

	res := queue.Result{
		Passes:           out.EnginePasses,
		BibliographyRuns: out.BibliographyRuns,
		Log:              out.Log,
		Artifact:         out.Artifact,
	}
	for _, rec := range out.Records {
		if rec.TimedOut {
			p.recorder.IncTimeout()
		}
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
