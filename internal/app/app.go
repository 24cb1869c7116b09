// Package app wires the configured infrastructure into a meal plan service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mealsynth/internal/config"
	"mealsynth/internal/database"
	"mealsynth/internal/enrichment"
	"mealsynth/internal/llm"
	"mealsynth/internal/metrics"
	"mealsynth/internal/planner"
	"mealsynth/internal/restaurant"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// imageCacheTTL is how long Redis keeps a resolved dish image.
const imageCacheTTL = 30 * 24 * time.Hour

// App holds the application's dependencies.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *database.DB
	Surveys  *planner.SurveyRepository
	Plans    *planner.PlanRepository
	Metrics  *metrics.Store
	Registry *prometheus.Registry
	Service  *planner.Service

	closers []func() error
}

// New builds every dependency named by cfg. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	textGen, err := newTextGenerator(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := textGen.(llm.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	catalog, err := loadCatalog(cfg.RestaurantCatalogPath, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Surveys = planner.NewSurveyRepository(db.SQL)
	a.Plans = planner.NewPlanRepository(db.SQL)
	a.Metrics = metrics.NewStore(db)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(a.Metrics, metrics.NewCollectors(a.Registry), logger)

	deps := planner.ServiceDeps{
		Surveys:          a.Surveys,
		Plans:            a.Plans,
		Home:             planner.NewHomeGenerator(textGen, logger),
		Restaurants:      planner.NewRestaurantGenerator(textGen, catalog, restaurant.NewMenuScraper(logger), logger),
		ImageConcurrency: enrichment.DefaultImageConcurrency,
		Runner:           enrichment.NewRunner(time.Minute, logger),
		Recorder:         recorder,
		Logger:           logger,
		MaxRegenerations: cfg.MaxRegenerations,
	}

	if cfg.PexelsAPIKey != "" {
		deps.Images = enrichment.NewPexelsClient(cfg.PexelsAPIKey, a.imageCache(ctx), logger)
	} else {
		logger.Warn("PEXELS_API_KEY not set, meals use stock images")
		deps.Images = enrichment.FallbackFinder{}
	}
	if cfg.PriceLookupURL != "" {
		deps.Prices = enrichment.NewHTTPPriceTrigger(cfg.PriceLookupURL)
	}

	a.Service = planner.NewService(deps)
	return a, nil
}

// imageCache prefers Redis when configured and reachable, the SQLite
// food_images table otherwise.
func (a *App) imageCache(ctx context.Context) enrichment.ImageCache {
	if a.Config.RedisAddr == "" {
		return enrichment.NewSQLiteImageCache(a.DB.SQL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.Logger.Warn("redis unavailable, caching images in sqlite", zap.String("addr", a.Config.RedisAddr), zap.Error(err))
		_ = client.Close()
		return enrichment.NewSQLiteImageCache(a.DB.SQL)
	}
	a.closers = append(a.closers, client.Close)
	return enrichment.NewRedisImageCache(client, imageCacheTTL)
}

// DataDir is the directory holding the database file.
func (a *App) DataDir() string {
	return filepath.Dir(a.Config.DatabasePath)
}

// Shutdown waits for detached work, then closes every resource.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Service != nil {
		if err := a.Service.Runner().Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("background tasks did not finish: %w", err))
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newTextGenerator(ctx context.Context, cfg *config.Config) (llm.TextGenerator, error) {
	switch cfg.LLMProvider {
	case config.ProviderGroq:
		return llm.NewGroqGenerator(cfg.GroqAPIKey, cfg.GroqModel), nil
	default:
		gen, err := llm.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, 0.7)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return gen, nil
	}
}

// loadCatalog reads the restaurant catalog. A missing file yields an empty
// catalog, which makes every restaurant run report no candidates.
func loadCatalog(path string, logger *zap.Logger) (*restaurant.Catalog, error) {
	if path == "" {
		return &restaurant.Catalog{}, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("restaurant catalog not found", zap.String("path", path))
		return &restaurant.Catalog{}, nil
	}
	return restaurant.LoadCatalog(path)
}
