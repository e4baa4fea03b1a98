package metrics

import "time"

// OutcomeLabel enumerates terminal compilation outcomes for counters.
type OutcomeLabel string

const (
	OutcomeSuccess OutcomeLabel = "success"
	OutcomeFailed  OutcomeLabel = "failed"
)

// Recorder defines observability hooks for compilation metrics. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe on the
// NoopRecorder so injection stays optional.
type Recorder interface {
	ObserveCompileDuration(d time.Duration)
	ObservePasses(n int)
	IncOutcome(outcome OutcomeLabel)
	IncTimeout()
	IncBibliographyRun()
	SetActiveJobs(n int)
	SetQueueDepth(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCompileDuration(time.Duration) {}
func (NoopRecorder) ObservePasses(int)                    {}
func (NoopRecorder) IncOutcome(OutcomeLabel)              {}
func (NoopRecorder) IncTimeout()                          {}
func (NoopRecorder) IncBibliographyRun()                  {}
func (NoopRecorder) SetActiveJobs(int)                    {}
func (NoopRecorder) SetQueueDepth(int)                    {}
