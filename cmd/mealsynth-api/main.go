package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealsynth/internal/app"
	"mealsynth/internal/config"
	"mealsynth/internal/httpapi"
	"mealsynth/internal/logger"
	"mealsynth/internal/telegram"

	"go.uber.org/zap"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer lg.Sync()

	ctx := context.Background()

	// 2. Wire database, generators, enrichment and metrics
	application, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// 3. HTTP API
	api := httpapi.NewServer(httpapi.Config{
		JWTSecret: cfg.JWTSecret,
		DataDir:   application.DataDir(),
	}, application.Service, application.Surveys, application.Metrics, application.Registry, lg)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())

	// 4. Telegram Bot, when configured
	if cfg.TelegramBotToken != "" {
		bot, err := telegram.NewBot(telegram.Config{
			Token:          cfg.TelegramBotToken,
			WebhookURL:     cfg.TelegramWebhookURL,
			AllowedUserIDs: cfg.TelegramAllowedUserIDs,
			AdminID:        cfg.AdminTelegramID,
			DataDir:        application.DataDir(),
		}, application.Service, application.Metrics, lg)
		if err != nil {
			log.Fatalf("Failed to initialize Telegram Bot: %v", err)
		}
		mux.HandleFunc("/webhook", bot.HandleWebhook)
	}

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		lg.Info("server listening", zap.String("port", cfg.Port), zap.String("llm_provider", cfg.LLMProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}
	if err := application.Shutdown(ctxShutdown); err != nil {
		lg.Error("shutdown incomplete", zap.Error(err))
	}

	lg.Info("server exiting")
}
