package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mealsynth/internal/app"
	"mealsynth/internal/config"
	"mealsynth/internal/database"
	"mealsynth/internal/httpapi"
	"mealsynth/internal/logger"
	"mealsynth/internal/nutrition"
	"mealsynth/internal/planner"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "migrate":
		runMigrate(args)
	case "targets":
		runTargets(args)
	case "generate":
		runGenerate(args)
	case "show":
		runShow(args)
	case "usage":
		runUsage(args)
	case "metrics-cleanup":
		runMetricsCleanup(args)
	case "token":
		runToken(args)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: mealsynth <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  migrate            Apply database migrations")
	fmt.Println("  targets            Print nutrition targets for a profile")
	fmt.Println("  generate           Generate this week's plan for a survey")
	fmt.Println("  show               Print this week's resolved plan for a survey")
	fmt.Println("  usage              Print daily generation usage")
	fmt.Println("  metrics-cleanup    Remove old metric records")
	fmt.Println("  token              Mint an API bearer token for a user")
}

// openApp loads the configuration and wires the application.
func openApp(ctx context.Context) *app.App {
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	lg := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console"})
	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	return a
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}

func runMigrate(args []string) {
	cmd := flag.NewFlagSet("migrate", flag.ExitOnError)
	path := cmd.String("db", envOr("DATABASE_PATH", "data/mealsynth.db"), "SQLite database path")
	cmd.Parse(args)

	db, err := database.NewDB(*path)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	defer db.Close()

	version, err := database.RunMigrations(*path)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Printf("Database %s is at schema version %d.\n", *path, version)
}

func runTargets(args []string) {
	cmd := flag.NewFlagSet("targets", flag.ExitOnError)
	age := cmd.Int("age", 0, "Age in years")
	sex := cmd.String("sex", "", "male or female")
	height := cmd.Float64("height", 0, "Height in inches")
	weight := cmd.Float64("weight", 0, "Weight in pounds")
	activity := cmd.String("activity", string(nutrition.ModeratelyActive), "Activity level")
	goal := cmd.String("goal", string(nutrition.GeneralWellness), "Dietary goal")
	cmd.Parse(args)

	targets, err := nutrition.Calculate(nutrition.Profile{
		Age:           *age,
		Sex:           *sex,
		HeightInches:  *height,
		WeightPounds:  *weight,
		ActivityLevel: nutrition.ActivityLevel(*activity),
		Goal:          nutrition.Goal(*goal),
	})
	if err != nil {
		log.Fatalf("Cannot compute targets: %v", err)
	}
	printJSON(targets)
}

func runGenerate(args []string) {
	cmd := flag.NewFlagSet("generate", flag.ExitOnError)
	surveyID := cmd.String("survey", "", "Survey id")
	pipeline := cmd.String("pipeline", "both", "home, restaurant or both")
	regenerate := cmd.Bool("regenerate", false, "Count the run as a regeneration")
	cmd.Parse(args)

	if *surveyID == "" {
		log.Fatal("-survey is required")
	}

	ctx := context.Background()
	a := openApp(ctx)
	defer shutdown(a)

	req := planner.GenerateRequest{Lookup: planner.Lookup{SurveyID: *surveyID}, Regenerate: *regenerate}
	switch *pipeline {
	case planner.PipelineHome:
		out, err := a.Service.GenerateHome(ctx, req)
		if err != nil {
			log.Fatalf("Generation failed: %v", err)
		}
		printJSON(out)
	case planner.PipelineRestaurant:
		out, err := a.Service.GenerateRestaurants(ctx, req)
		if err != nil {
			log.Fatalf("Generation failed: %v", err)
		}
		printJSON(out)
	case "both":
		home, restaurants, err := a.Service.GenerateAll(ctx, req)
		if err != nil {
			log.Fatalf("Generation failed: %v", err)
		}
		printJSON([]*planner.GenerationOutcome{home, restaurants})
	default:
		log.Fatalf("Unknown pipeline %q", *pipeline)
	}
}

func runShow(args []string) {
	cmd := flag.NewFlagSet("show", flag.ExitOnError)
	surveyID := cmd.String("survey", "", "Survey id")
	cmd.Parse(args)

	if *surveyID == "" {
		log.Fatal("-survey is required")
	}

	ctx := context.Background()
	a := openApp(ctx)
	defer shutdown(a)

	current, err := a.Service.Current(ctx, planner.Lookup{SurveyID: *surveyID})
	if err != nil {
		log.Fatalf("Cannot load plan: %v", err)
	}
	printJSON(map[string]any{
		"planId": current.Plan.ID,
		"status": current.Plan.Status,
		"weekOf": current.Plan.WeekOf.Format("2006-01-02"),
		"week":   current.Week,
	})
}

func runUsage(args []string) {
	cmd := flag.NewFlagSet("usage", flag.ExitOnError)
	days := cmd.Int("days", 7, "Number of days to report")
	cmd.Parse(args)

	ctx := context.Background()
	a := openApp(ctx)
	defer shutdown(a)

	usage, err := a.Metrics.GetDailyUsage(ctx, *days)
	if err != nil {
		log.Fatalf("Cannot read usage: %v", err)
	}
	if len(usage) == 0 {
		fmt.Println("No usage recorded.")
		return
	}
	for _, d := range usage {
		fmt.Printf("%s  prompt=%d completion=%d calls=%d failures=%d\n",
			d.Date, d.TotalPrompt, d.TotalCompletion, d.TotalExecution, d.Failures)
	}
}

func runMetricsCleanup(args []string) {
	cmd := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
	days := cmd.Int("days", 30, "Keep records for the last N days")
	cmd.Parse(args)

	ctx := context.Background()
	a := openApp(ctx)
	defer shutdown(a)

	affected, err := a.Metrics.Cleanup(ctx, *days)
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}
	fmt.Printf("Successfully removed %d old metric records.\n", affected)
}

func runToken(args []string) {
	cmd := flag.NewFlagSet("token", flag.ExitOnError)
	userID := cmd.String("user", "", "User id placed in the token subject")
	ttl := cmd.Duration("ttl", 24*time.Hour, "Token lifetime")
	cmd.Parse(args)

	if *userID == "" {
		log.Fatal("-user is required")
	}
	secret := os.Getenv("JWT_SECRET")
	token, err := httpapi.IssueToken([]byte(secret), *userID, *ttl)
	if err != nil {
		log.Fatalf("Cannot issue token: %v", err)
	}
	fmt.Println(token)
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.Printf("Shutdown: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
