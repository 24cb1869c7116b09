package planner

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mealsynth/internal/llm"
	"mealsynth/internal/nutrition"
	"mealsynth/internal/restaurant"
	"mealsynth/internal/retry"
	"mealsynth/internal/shared"

	"go.uber.org/zap"
)

//go:embed restaurant_prompt.md
var restaurantPrompt string

const maxCandidateRestaurants = 8

// MenuCollector gathers menu text for restaurants.
type MenuCollector interface {
	Collect(ctx context.Context, restaurants []restaurant.Restaurant) []restaurant.Menu
}

// RestaurantRequest is the input of the restaurant pipeline.
type RestaurantRequest struct {
	Survey  *Survey
	Targets nutrition.Targets
	Weekly  nutrition.WeeklyTargets
}

// RestaurantResult is the output of the restaurant pipeline.
type RestaurantResult struct {
	Meals       []GeneratedMeal
	Restaurants []RestaurantSummary
	Stages      []shared.StageMeta
	Err         string
	Attempts    int
}

// RestaurantGenerator picks restaurant dishes for the restaurant slots of a week.
type RestaurantGenerator struct {
	textGen   llm.TextGenerator
	catalog   *restaurant.Catalog
	menus     MenuCollector
	logger    *zap.Logger
	retryOpts []retry.Option
}

// NewRestaurantGenerator creates a RestaurantGenerator.
func NewRestaurantGenerator(textGen llm.TextGenerator, catalog *restaurant.Catalog, menus MenuCollector, logger *zap.Logger, opts ...retry.Option) *RestaurantGenerator {
	base := []retry.Option{retry.WithPolicy(retry.Generation), retry.WithLogger(logger)}
	return &RestaurantGenerator{
		textGen:   textGen,
		catalog:   catalog,
		menus:     menus,
		logger:    logger.With(zap.String("pipeline", "restaurant")),
		retryOpts: append(base, opts...),
	}
}

type restaurantSlotPrompt struct {
	Day      string
	MealType MealType
	Calories int
}

type restaurantPromptData struct {
	Profile     nutrition.Profile
	Targets     nutrition.Targets
	Preferences Preferences
	Slots       []restaurantSlotPrompt
	Menus       []restaurant.Menu
}

type rawRestaurantMeal struct {
	Day               string   `json:"day"`
	MealType          MealType `json:"mealType"`
	Restaurant        string   `json:"restaurant"`
	Dish              string   `json:"dish"`
	Description       string   `json:"description"`
	Price             float64  `json:"price"`
	EstimatedCalories int      `json:"estimatedCalories"`
	Protein           int      `json:"protein"`
	Carbs             int      `json:"carbs"`
	Fat               int      `json:"fat"`
	Cuisine           string   `json:"cuisine"`
	OrderingURL       string   `json:"orderingUrl"`
}

// Generate selects one dish per restaurant slot of the survey schedule.
func (g *RestaurantGenerator) Generate(ctx context.Context, req RestaurantRequest) RestaurantResult {
	refs := req.Survey.EffectiveSchedule().Slots(LocationRestaurant)
	if len(refs) == 0 {
		return RestaurantResult{}
	}
	start := time.Now()

	prefs := req.Survey.Preferences
	candidates := g.catalog.Candidates(prefs.City, prefs.PreferredCuisines, maxCandidateRestaurants)
	if len(candidates) == 0 {
		return RestaurantResult{Err: "no restaurants available for " + cityLabel(prefs.City)}
	}

	menus := g.menus.Collect(ctx, candidates)
	if len(menus) == 0 {
		return RestaurantResult{Err: "no restaurant menus could be loaded"}
	}

	byName := make(map[string]restaurant.Restaurant, len(menus))
	summaries := make([]RestaurantSummary, 0, len(menus))
	for _, m := range menus {
		byName[strings.ToLower(m.Restaurant.Name)] = m.Restaurant
		summaries = append(summaries, RestaurantSummary{
			Name:    m.Restaurant.Name,
			Cuisine: m.Restaurant.Cuisine,
			City:    m.Restaurant.City,
			MenuURL: m.Restaurant.MenuURL,
		})
	}

	data := restaurantPromptData{
		Profile:     req.Survey.Profile,
		Targets:     req.Targets,
		Preferences: prefs,
		Menus:       menus,
	}
	wanted := make(map[string]bool, len(refs))
	for _, ref := range refs {
		wanted[ref.Key()] = true
		data.Slots = append(data.Slots, restaurantSlotPrompt{
			Day:      ref.Day,
			MealType: ref.MealType,
			Calories: slotTargetFor(HomeRequest{Targets: req.Targets, Weekly: req.Weekly}, ref).Calories,
		})
	}

	meta := shared.StageMeta{Stage: "selection", Pipeline: "restaurant"}
	prompt, err := renderPrompt("restaurant", restaurantPrompt, data)
	if err != nil {
		return RestaurantResult{Restaurants: summaries, Err: fmt.Sprintf("failed to build prompt: %v", err)}
	}

	var usage shared.TokenUsage
	res := retry.Do(ctx, "restaurant-meals", func(ctx context.Context) ([]GeneratedMeal, error) {
		resp, err := g.textGen.GenerateContent(ctx, prompt)
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)
		return parseRestaurantMeals(resp.Content, wanted, byName)
	}, g.retryOpts...)

	meta.Usage = usage
	meta.Latency = time.Since(start)
	meta.Attempts = res.Attempts
	meta.Success = res.Success

	out := RestaurantResult{Restaurants: summaries, Stages: []shared.StageMeta{meta}, Attempts: res.Attempts}
	if !res.Success {
		g.logger.Error("restaurant selection failed", zap.Int("attempts", res.Attempts), zap.String("error", res.Err))
		out.Err = "restaurant meal generation failed: " + res.Err
		return out
	}

	out.Meals = res.Data
	sortMeals(out.Meals)
	if missing := len(refs) - len(out.Meals); missing > 0 {
		out.Err = fmt.Sprintf("restaurant meal generation left %d of %d slots empty", missing, len(refs))
	}

	g.logger.Info("restaurant meals selected",
		zap.Int("meals", len(out.Meals)),
		zap.Int("restaurants", len(menus)),
		zap.Duration("latency", meta.Latency),
	)
	return out
}

func parseRestaurantMeals(content string, wanted map[string]bool, known map[string]restaurant.Restaurant) ([]GeneratedMeal, error) {
	var raw struct {
		Meals []rawRestaurantMeal `json:"meals"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(content)), &raw); err != nil {
		return nil, retry.Malformed(err)
	}

	var meals []GeneratedMeal
	seen := make(map[string]bool)
	for _, r := range raw.Meals {
		day := strings.ToLower(strings.TrimSpace(r.Day))
		mt := MealType(strings.ToLower(string(r.MealType)))
		key := SlotKey(day, mt)
		if !wanted[key] || seen[key] || strings.TrimSpace(r.Dish) == "" {
			continue
		}
		seen[key] = true

		opt := MealOption{
			Name:        r.Dish,
			Description: r.Description,
			Calories:    r.EstimatedCalories,
			Protein:     r.Protein,
			Carbs:       r.Carbs,
			Fat:         r.Fat,
			Source:      SourceRestaurant,
			Restaurant:  r.Restaurant,
			Price:       r.Price,
			Cuisine:     r.Cuisine,
		}
		if rest, ok := known[strings.ToLower(r.Restaurant)]; ok {
			opt.Restaurant = rest.Name
			if opt.Cuisine == "" {
				opt.Cuisine = rest.Cuisine
			}
			if r.OrderingURL == "" {
				r.OrderingURL = rest.OrderingURL
			}
		}
		if r.OrderingURL != "" {
			opt.OrderingLinks = []string{r.OrderingURL}
		}

		meals = append(meals, GeneratedMeal{Day: day, MealType: mt, Primary: opt})
	}

	if len(meals) == 0 {
		return nil, retry.Malformed(fmt.Errorf("no usable restaurant meals in response"))
	}
	return meals, nil
}

func cityLabel(city string) string {
	if city == "" {
		return "any city"
	}
	return city
}
