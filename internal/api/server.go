package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/mentor/internal/jobs"
	"github.com/MikeSquared-Agency/mentor/internal/ledger"
	"github.com/MikeSquared-Agency/mentor/internal/metrics"
)

// Lessons is the read side of the lesson ledger.
type Lessons interface {
	MetricsSummary() ledger.Summary
	AuditTrailTail(n int) []ledger.EventSummary
	EventCount() int
	PlateauReport() ledger.PlateauReport
	CategoryBreakdown() []ledger.CategorySummary
	Lessons() []ledger.LessonRecord
}

// Jobs queues uploaded transcripts for analysis.
type Jobs interface {
	Submit(id, filename, path string) jobs.Job
	Get(id string) (jobs.Job, bool)
	List() []jobs.Job
}

type Options struct {
	Port        int
	UploadDir   string
	MaxUploadMB int
	Gatherer    prometheus.Gatherer
	// NATSStatus reports the bus connection state on /health. Nil when NATS
	// is not configured.
	NATSStatus func() string
	// Results serves saved analysis files. Nil disables the download routes.
	Results Results
}

type Server struct {
	router    *chi.Mux
	http      *http.Server
	lessons   Lessons
	jobs      Jobs
	results   Results
	uploadDir string
	maxUpload int64
	natsState func() string
	logger    *slog.Logger
}

func NewServer(opts Options, lessons Lessons, queue Jobs, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	maxMB := opts.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 32
	}

	s := &Server{
		router:    router,
		lessons:   lessons,
		jobs:      queue,
		results:   opts.Results,
		uploadDir: opts.UploadDir,
		maxUpload: int64(maxMB) << 20,
		natsState: opts.NATSStatus,
		logger:    logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Post("/upload", s.upload)
	router.Get("/status/{jobID}", s.jobStatus)
	router.Get("/jobs", s.listJobs)
	router.Get("/results/{jobID}", s.jobResults)
	router.Get("/download/{jobID}/{fileType}", s.downloadJobFile)
	router.Get("/analyses/{analysisID}", s.analysisManifest)
	router.Get("/analyses/{analysisID}/{fileType}", s.downloadAnalysisFile)

	router.Route("/lessons", func(r chi.Router) {
		r.Get("/metrics", s.lessonMetrics)
		r.Get("/audit-trail", s.auditTrail)
		r.Get("/plateau-status", s.plateauStatus)
		r.Get("/categories", s.categories)
		r.Get("/coaching-guide", s.coachingGuide)
	})

	if opts.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.natsState != nil {
		body["nats"] = s.natsState()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
