// Package api serves loitering analysis over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/loiter.report/internal/alertpub"
	"github.com/banshee-data/loiter.report/internal/db"
	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/loiter"
	"github.com/banshee-data/loiter.report/internal/metrics"
	"github.com/banshee-data/loiter.report/internal/pipeline"
	"github.com/banshee-data/loiter.report/internal/timeutil"
	"github.com/banshee-data/loiter.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultMaxUploadBytes caps the size of a video upload.
const DefaultMaxUploadBytes = 512 << 20

// AlertPublisher delivers alert documents. *alertpub.Publisher satisfies it.
type AlertPublisher interface {
	Publish(ctx context.Context, msg alertpub.Message) error
}

// Options configures a Server. Analyzer and UploadDir are required for
// POST /analyze; the other fields are optional.
type Options struct {
	Analyzer       *pipeline.Analyzer
	DB             *db.DB // nil disables persistence and the /api routes
	Metrics        *metrics.Metrics
	Publisher      AlertPublisher
	UploadDir      string
	MaxUploadBytes int64
	Clock          timeutil.Clock
}

// Server handles analysis requests. Each request gets its own session.
type Server struct {
	analyzer       *pipeline.Analyzer
	db             *db.DB
	metrics        *metrics.Metrics
	publisher      AlertPublisher
	uploadDir      string
	maxUploadBytes int64
	clock          timeutil.Clock
}

// NewServer builds a Server from opts.
func NewServer(opts Options) *Server {
	s := &Server{
		analyzer:       opts.Analyzer,
		db:             opts.DB,
		metrics:        opts.Metrics,
		publisher:      opts.Publisher,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
		clock:          opts.Clock,
	}
	if s.analyzer == nil {
		s.analyzer = pipeline.NewAnalyzer(nil, nil)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.uploadDir == "" {
		s.uploadDir = os.TempDir()
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = DefaultMaxUploadBytes
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the routes without middleware.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /analyze/detections", s.handleAnalyzeDetections)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/sessions/{id}/chart", s.sessionChart)
	mux.HandleFunc("GET /api/sessions/{id}/plot.png", s.sessionPlot)
	mux.HandleFunc("GET /api/sessions/{id}/export.xlsx", s.sessionWorkbook)
	mux.HandleFunc("GET /api/alerts", s.listAlerts)

	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return mux
}

// Handler returns the routes wrapped in LoggingMiddleware.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}

// Start serves on address until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"message": "Loitering Detection API is running."})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":    "ok",
		"service":   "loiterd",
		"version":   version.Version,
		"git_sha":   version.GitSHA,
		"database":  s.db != nil,
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

// runSession wraps one analysis with metrics, persistence and alert
// publication. Persistence and publication failures are logged and do not
// fail the request.
func (s *Server) runSession(ctx context.Context, analyze func(context.Context, ...pipeline.Observer) (loiter.Report, error)) (loiter.Report, error) {
	start := s.clock.Now()
	s.metrics.SessionStarted()
	report, err := analyze(ctx, s.metrics)
	s.metrics.SessionFinished(outcomeFor(err), report, s.clock.Since(start))
	if err != nil {
		return report, err
	}

	if s.db == nil {
		return report, nil
	}
	alert, err := s.db.RecordSession(&report)
	if err != nil {
		log.Printf("persist session %s: %v", report.SessionID, err)
		return report, nil
	}
	if s.publisher != nil {
		msg := alertpub.MessageFromReport(report, alert.AlertID)
		err := s.publisher.Publish(context.WithoutCancel(ctx), msg)
		s.metrics.AlertPublished(err)
		if err != nil {
			log.Printf("publish alert for session %s: %v", report.SessionID, err)
		}
	}
	return report, nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeFailed
	}
}
