package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mealsynth/internal/apperrors"
	"mealsynth/internal/metrics"
	"mealsynth/internal/planner"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of the Telegram API the bot talks to.
// *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Planner is the meal plan service as seen by the bot.
type Planner interface {
	GenerateAll(ctx context.Context, req planner.GenerateRequest) (home, restaurants *planner.GenerationOutcome, err error)
	Status(ctx context.Context, l planner.Lookup) (*planner.PlanStatusView, error)
	Current(ctx context.Context, l planner.Lookup) (*planner.CurrentPlan, error)
}

// UsageReader reads daily generation usage.
type UsageReader interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
	Health(ctx context.Context, window time.Duration) (metrics.Health, error)
}

// Config holds the bot settings.
type Config struct {
	Token          string
	WebhookURL     string
	AllowedUserIDs []int64
	AdminID        int64
	DataDir        string
	CommandTimeout time.Duration
}

// Bot answers Telegram commands with the meal plan of the sender.
type Bot struct {
	api     Sender
	planner Planner
	usage   UsageReader
	cfg     Config
	logger  *zap.Logger
}

// NewBot initializes the Telegram API and sets the webhook.
func NewBot(cfg Config, p Planner, usage UsageReader, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("telegram bot authorized", zap.String("account", api.Self.UserName))

	if cfg.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.WebhookURL, err)
		}
		resp, err := api.Request(wh)
		if err != nil {
			return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.WebhookURL, err)
		}
		logger.Info("webhook set", zap.String("response", resp.Description))
	}

	return newBot(api, cfg, p, usage, logger), nil
}

func newBot(api Sender, cfg Config, p Planner, usage UsageReader, logger *zap.Logger) *Bot {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	return &Bot{api: api, planner: p, usage: usage, cfg: cfg, logger: logger}
}

// HandleWebhook receives one update. Messages from users outside the
// allow-list are dropped.
func (b *Bot) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("error parsing update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.allowed(msg.From.ID) {
		b.logger.Warn("unauthorized access attempt",
			zap.Int64("telegram_user_id", msg.From.ID),
			zap.String("username", msg.From.UserName),
		)
		return
	}

	go b.processMessage(msg)
}

func (b *Bot) allowed(id int64) bool {
	for _, allowed := range b.cfg.AllowedUserIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()

	lookup := planner.Lookup{UserID: strconv.FormatInt(msg.From.ID, 10)}

	switch msg.Command() {
	case "plan":
		b.handlePlan(ctx, msg.Chat.ID, lookup)
	case "week":
		b.handleWeek(ctx, msg.Chat.ID, lookup)
	case "status":
		b.handleStatus(ctx, msg.Chat.ID, lookup)
	case "metrics":
		if msg.From.ID != b.cfg.AdminID {
			b.send(msg.Chat.ID, "⛔ *Access Denied*: Admin only.")
			return
		}
		b.handleMetrics(ctx, msg.Chat.ID)
	default:
		b.send(msg.Chat.ID, helpText)
	}
}

const helpText = "🍽 *Meal planner*\n\n" +
	"/plan - generate this week's plan\n" +
	"/week - show this week's meals\n" +
	"/status - plan readiness and regenerations left"

func (b *Bot) handlePlan(ctx context.Context, chatID int64, lookup planner.Lookup) {
	sent, err := b.api.Send(markdown(chatID, "🧑‍🍳 *Thinking...* \n(Planning home and restaurant meals)"))
	if err != nil {
		b.logger.Error("failed to send initial reply", zap.Error(err))
		return
	}

	// An existing plan for the week makes /plan a regeneration.
	status, err := b.planner.Status(ctx, lookup)
	if err != nil {
		b.edit(chatID, sent.MessageID, errorText("Error generating plan", err))
		return
	}

	home, restaurants, err := b.planner.GenerateAll(ctx, planner.GenerateRequest{Lookup: lookup, Regenerate: status.Exists})
	if err != nil {
		b.edit(chatID, sent.MessageID, errorText("Error generating plan", err))
		return
	}
	b.edit(chatID, sent.MessageID, formatOutcomes(home, restaurants))
}

func (b *Bot) handleWeek(ctx context.Context, chatID int64, lookup planner.Lookup) {
	current, err := b.planner.Current(ctx, lookup)
	if err != nil {
		b.send(chatID, errorText("No plan to show", err))
		return
	}
	b.send(chatID, formatWeekMarkdown(current.Week))
	if list := current.Plan.UserContext.GroceryList; list != nil && list.Len() > 0 {
		b.send(chatID, formatGroceryMarkdown(current.Plan))
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64, lookup planner.Lookup) {
	view, err := b.planner.Status(ctx, lookup)
	if err != nil {
		b.send(chatID, errorText("Error reading status", err))
		return
	}
	b.send(chatID, formatStatus(view))
}

func (b *Bot) handleMetrics(ctx context.Context, chatID int64) {
	usage, err := b.usage.GetDailyUsage(ctx, 7)
	if err != nil {
		b.logger.Error("failed to read usage", zap.Error(err))
		b.send(chatID, "❌ Error fetching metrics.")
		return
	}

	report, err := b.usage.Health(ctx, 24*time.Hour)
	if err != nil {
		b.logger.Warn("failed to read health report", zap.Error(err))
		report.System = metrics.GetSysHealth(b.cfg.DataDir)
	}
	health := report.System

	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent LLM Activity*\n")
	if len(usage) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• *%s*: %d tokens (%d calls, %d failed)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution, d.Failures)
	}

	sb.WriteString("\n🧠 *System Health*\n")
	fmt.Fprintf(&sb, "• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&sb, "• Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&sb, "• Disk Data: %s\n", health.DataDiskSize)
	fmt.Fprintf(&sb, "• Uptime: %s\n", health.Uptime)
	if err == nil {
		fmt.Fprintf(&sb, "• Database: %s (schema v%d)\n", report.Database.Size, report.Database.SchemaVersion)
		fmt.Fprintf(&sb, "• Last 24h: %d stages, %d failed\n", report.Generation.Stages, report.Generation.Failures)
	}

	b.send(chatID, sb.String())
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(markdown(chatID, text)); err != nil {
		b.logger.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("failed to edit message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func markdown(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return msg
}

func errorText(title string, err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return fmt.Sprintf("❌ *%s:* %s", title, escape(appErr.Message))
	}
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return fmt.Sprintf("❌ *%s:*\n```\n%v\n```", title, safeErr)
}
