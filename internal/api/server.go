// Package api exposes the import and evaluation workflow over HTTP.
// Authentication and authorization are handled by the deployment in front
// of this handler.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/importer"
	"github.com/sells-group/adoption-cli/internal/progress"
)

// Config for the HTTP API handler.
type Config struct {
	Service        *importer.Service
	Broker         *progress.Broker
	CORSOrigins    []string
	MaxUploadBytes int64
	// ForceEvaluate is the default for the force query parameter.
	ForceEvaluate bool
}

type server struct {
	svc       *importer.Service
	broker    *progress.Broker
	maxUpload int64
	forceEval bool
	heartbeat time.Duration
}

// New returns the API router.
func New(cfg Config) http.Handler {
	s := &server{
		svc:       cfg.Service,
		broker:    cfg.Broker,
		maxUpload: cfg.MaxUploadBytes,
		forceEval: cfg.ForceEvaluate,
		heartbeat: 15 * time.Second,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 20 << 20
	}
	return s.routes(cfg.CORSOrigins)
}

func (s *server) routes(origins []string) chi.Router {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/plans/{planID}", func(r chi.Router) {
		r.Post("/imports", s.handlePreview)
		r.Post("/evaluate", s.handleEvaluatePlan)
		r.Get("/template", s.handleTemplate)
	})
	r.Route("/imports/{sessionID}", func(r chi.Router) {
		r.Get("/", s.handleGetPreview)
		r.Post("/execute", s.handleExecute)
		r.Get("/events", s.handleEvents)
	})
	r.Post("/tasks/{taskID}/evaluate", s.handleEvaluateTask)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
