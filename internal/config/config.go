package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported text generation providers.
const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// Config holds the configuration for the application.
type Config struct {
	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string

	PexelsAPIKey string

	DatabasePath          string
	RedisAddr             string
	RedisPassword         string
	PriceLookupURL        string
	RestaurantCatalogPath string

	Port             string
	JWTSecret        string
	LogLevel         string
	LogFormat        string
	MaxRegenerations int

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("GROQ_MODEL", "llama-3.3-70b-versatile")
	v.SetDefault("DATABASE_PATH", "data/mealsynth.db")
	v.SetDefault("RESTAURANT_CATALOG_PATH", "data/restaurants.yaml")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("MAX_REGENERATIONS", 2)
}

// NewFromEnv creates a new Config object from environment variables.
// A .env file in the working directory is loaded first when present.
func NewFromEnv() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	geminiAPIKey := v.GetString("GEMINI_API_KEY")
	groqAPIKey := v.GetString("GROQ_API_KEY")

	provider := strings.ToLower(v.GetString("LLM_PROVIDER"))
	if provider == "" {
		// Prefer Gemini when both keys are present
		provider = ProviderGemini
		if geminiAPIKey == "" && groqAPIKey != "" {
			provider = ProviderGroq
		}
	}

	switch provider {
	case ProviderGemini:
		if geminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	case ProviderGroq:
		if groqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", provider)
	}

	maxRegenerations := v.GetInt("MAX_REGENERATIONS")
	if maxRegenerations < 1 {
		return nil, fmt.Errorf("MAX_REGENERATIONS must be at least 1, got %d", maxRegenerations)
	}

	allowed, err := parseIDList(v.GetString("TELEGRAM_ALLOWED_USER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS: %w", err)
	}

	var adminID int64
	if raw := v.GetString("ADMIN_TELEGRAM_ID"); raw != "" {
		adminID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	return &Config{
		LLMProvider:            provider,
		GeminiAPIKey:           geminiAPIKey,
		GeminiModel:            v.GetString("GEMINI_MODEL"),
		GroqAPIKey:             groqAPIKey,
		GroqModel:              v.GetString("GROQ_MODEL"),
		PexelsAPIKey:           v.GetString("PEXELS_API_KEY"),
		DatabasePath:           v.GetString("DATABASE_PATH"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		PriceLookupURL:         v.GetString("PRICE_LOOKUP_URL"),
		RestaurantCatalogPath:  v.GetString("RESTAURANT_CATALOG_PATH"),
		Port:                   v.GetString("PORT"),
		JWTSecret:              v.GetString("JWT_SECRET"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
		MaxRegenerations:       maxRegenerations,
		TelegramBotToken:       v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL:     v.GetString("TELEGRAM_WEBHOOK_URL"),
		TelegramAllowedUserIDs: allowed,
		AdminTelegramID:        adminID,
	}, nil
}

func parseIDList(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
