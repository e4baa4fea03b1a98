package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder backed by a Prometheus registry.
type PrometheusRecorder struct {
	compileDuration prom.Histogram
	passes          prom.Histogram
	outcomes        *prom.CounterVec
	timeouts        prom.Counter
	bibliography    prom.Counter
	activeJobs      prom.Gauge
	queueDepth      prom.Gauge
}

// NewPrometheusRecorder constructs and registers the compilation metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		compileDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "latex_server",
			Name:      "compile_duration_seconds",
			Help:      "Total duration of a compilation run",
			Buckets:   prom.DefBuckets,
		}),
		passes: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "latex_server",
			Name:      "compile_passes",
			Help:      "Engine passes consumed per run",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		outcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "latex_server",
			Name:      "compile_outcomes_total",
			Help:      "Compilation outcomes by final status",
		}, []string{"outcome"}),
		timeouts: prom.NewCounter(prom.CounterOpts{
			Namespace: "latex_server",
			Name:      "command_timeouts_total",
			Help:      "Subprocesses killed by the per-command timeout",
		}),
		bibliography: prom.NewCounter(prom.CounterOpts{
			Namespace: "latex_server",
			Name:      "bibliography_runs_total",
			Help:      "Bibliography tool invocations",
		}),
		activeJobs: prom.NewGauge(prom.GaugeOpts{
			Namespace: "latex_server",
			Name:      "active_jobs",
			Help:      "Compilations currently running",
		}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "latex_server",
			Name:      "queue_depth",
			Help:      "Jobs waiting to be claimed",
		}),
	}
	reg.MustRegister(pr.compileDuration, pr.passes, pr.outcomes, pr.timeouts, pr.bibliography, pr.activeJobs, pr.queueDepth)
	return pr
}

func (p *PrometheusRecorder) ObserveCompileDuration(d time.Duration) {
	if p == nil || p.compileDuration == nil {
		return
	}
	p.compileDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObservePasses(n int) {
	if p == nil || p.passes == nil {
		return
	}
	p.passes.Observe(float64(n))
}

func (p *PrometheusRecorder) IncOutcome(outcome OutcomeLabel) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncTimeout() {
	if p == nil || p.timeouts == nil {
		return
	}
	p.timeouts.Inc()
}

func (p *PrometheusRecorder) IncBibliographyRun() {
	if p == nil || p.bibliography == nil {
		return
	}
	p.bibliography.Inc()
}

func (p *PrometheusRecorder) SetActiveJobs(n int) {
	if p == nil || p.activeJobs == nil {
		return
	}
	p.activeJobs.Set(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

// HTTPHandler serves the registry in the Prometheus exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
