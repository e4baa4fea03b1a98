package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ferdiu/latex-server/internal/compiler"
	"github.com/ferdiu/latex-server/internal/events"
	"github.com/ferdiu/latex-server/internal/metrics"
	"github.com/ferdiu/latex-server/internal/queue"
)

// JobQueuer defines the queue operations the API needs.
type JobQueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	RecordSync(ctx context.Context, id string, payload []byte, startedAt time.Time, res queue.Result) error
	GetJob(ctx context.Context, jobID string) (*queue.Job, error)
	Depth(ctx context.Context) (int, error)
}

// CompileService defines the synchronous compilation surface.
type CompileService interface {
	Compile(ctx context.Context, runID string, req compiler.Request) (compiler.Outcome, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is a bearer token; when empty the API is open.
	APIKey            string
	Version           string
	MaxConcurrentSync int
}

// Server is the HTTP API server.
type Server struct {
	config        Config
	queue         JobQueuer
	compiler      CompileService
	hub           *events.Hub
	recorder      metrics.Recorder
	metrics       http.Handler
	logger        *slog.Logger
	server        *http.Server
	startedAt     time.Time
	syncSemaphore chan struct{}
}

// New creates an API server. rec may be nil to skip metrics recording;
// metricsHandler may be nil to leave /metrics unmounted.
func New(config Config, q JobQueuer, c CompileService, hub *events.Hub, rec metrics.Recorder, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if config.MaxConcurrentSync <= 0 {
		config.MaxConcurrentSync = 4
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Server{
		config:        config,
		queue:         q,
		compiler:      c,
		hub:           hub,
		recorder:      rec,
		metrics:       metricsHandler,
		logger:        logger,
		startedAt:     time.Now(),
		syncSemaphore: make(chan struct{}, config.MaxConcurrentSync),
	}
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // Synchronous compiles can run many passes.
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/compile", s.handleCompile)
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
