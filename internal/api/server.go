package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

//go:embed static/index.html
var staticFiles embed.FS

// Runner executes one pipeline run. *crawler.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, source string) (crawler.Summary, error)
	Catalog() *catalog.Catalog
}

// Subscriber hands out live progress streams. *sinks.BroadcastSink
// satisfies it.
type Subscriber interface {
	Subscribe(buffer int) (<-chan progress.Event, func())
}

// Server wires HTTP handlers to the pipeline, the progress stream and run
// history.
type Server struct {
	router       chi.Router
	runner       Runner
	events       Subscriber
	runs         *RunHandler
	streamBuffer int
	keepAlive    time.Duration
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes. events and runs
// may be nil; their routes then answer 503.
func NewServer(
	runner Runner,
	events Subscriber,
	runs store.RunRepository,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:       runner,
		events:       events,
		runs:         NewRunHandler(runs, logger.Named("runs")),
		streamBuffer: cfg.Progress.StreamBuffer,
		keepAlive:    defaultKeepAlive,
		logger:       logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/", s.index)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/events", s.streamEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.listSources)
		r.Get("/runs", s.runs.ListRuns)
		r.Get("/runs/{run_id}", s.runs.GetRun)
	})

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawl/{source}", s.crawl)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	page, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		s.logger.Warn("index write failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	crawler.Summary
}

type crawlError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	source := chi.URLParam(r, "source")
	summary, err := s.runner.Run(r.Context(), source)
	if err != nil {
		if errors.Is(err, crawler.ErrUnknownSource) {
			writeJSON(w, http.StatusNotFound, crawlError{Status: "error", Message: err.Error()})
			return
		}
		s.logger.Error("crawl failed", zap.String("source", source), zap.Error(err))
		display := summary.Display
		if display == "" {
			display = source
		}
		resp := crawlError{
			Status:  "error",
			Message: fmt.Sprintf("%s data crawling failed: %v", display, err),
		}
		if summary.RunID != uuid.Nil {
			resp.RunID = summary.RunID.String()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, crawlResponse{
		Status:  "success",
		Message: fmt.Sprintf("%s data crawling completed.", summary.Display),
		Summary: summary,
	})
}

type sourceDTO struct {
	Name        string            `json:"name"`
	Display     string            `json:"display"`
	Aliases     []string          `json:"aliases,omitempty"`
	Strategy    string            `json:"strategy"`
	Listing     bool              `json:"listing"`
	Identifiers int               `json:"identifiers"`
	Columns     []string          `json:"columns"`
	Artifacts   catalog.Artifacts `json:"artifacts"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	schemas := s.runner.Catalog().Sources()
	out := make([]sourceDTO, 0, len(schemas))
	for _, schema := range schemas {
		out = append(out, sourceDTO{
			Name:        schema.Name,
			Display:     schema.Display,
			Aliases:     schema.Aliases,
			Strategy:    string(schema.Strategy),
			Listing:     schema.HasListing(),
			Identifiers: len(schema.Identifiers),
			Columns:     schema.Columns,
			Artifacts:   schema.Artifacts,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.Stack("stack"))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
