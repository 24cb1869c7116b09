// Package httpapi exposes the meal plan service over JSON HTTP.
package httpapi

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"mealsynth/internal/metrics"
	"mealsynth/internal/planner"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds the HTTP layer settings.
type Config struct {
	JWTSecret      string
	DataDir        string
	RequestTimeout time.Duration
}

// HealthReporter reports the health of the engine's storage and recent
// generation work. *metrics.Store implements it.
type HealthReporter interface {
	Health(ctx context.Context, window time.Duration) (metrics.Health, error)
}

// Server routes API requests to the planner service.
type Server struct {
	cfg      Config
	service  *planner.Service
	surveys  planner.SurveyStore
	health   HealthReporter
	gatherer prometheus.Gatherer
	validate *validator.Validate
	logger   *zap.Logger
	router   *chi.Mux
}

// NewServer creates a Server. health may be nil, in which case /health
// reports process metrics only. gatherer may be nil, in which case /metrics
// is not mounted.
func NewServer(cfg Config, service *planner.Service, surveys planner.SurveyStore, health HealthReporter, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 3 * time.Minute
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		cfg:      cfg,
		service:  service,
		surveys:  surveys,
		health:   health,
		gatherer: gatherer,
		validate: validate,
		logger:   logger,
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))
		r.Use(Identity([]byte(s.cfg.JWTSecret)))

		r.Post("/surveys", s.handleSaveSurvey)

		r.Route("/meals", func(r chi.Router) {
			r.Post("/generate-home", s.handleGenerate(planner.PipelineHome))
			r.Post("/generate-restaurants", s.handleGenerate(planner.PipelineRestaurant))
			r.Get("/status", s.handleStatus)
			r.Get("/current", s.handleCurrent)
			r.Post("/preferences", s.handlePreferences)
		})
	})

	return r
}
