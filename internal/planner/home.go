package planner

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"mealsynth/internal/llm"
	"mealsynth/internal/nutrition"
	"mealsynth/internal/retry"
	"mealsynth/internal/shared"
	"mealsynth/internal/shopping"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed home_prompt.md
var homePrompt string

//go:embed grocery_prompt.md
var groceryPrompt string

// homeChunks splits the week into groups of days planned by one call each.
var homeChunks = [][]string{
	{"monday", "tuesday"},
	{"wednesday", "thursday"},
	{"friday", "saturday", "sunday"},
}

// HomeRequest is the input of the home pipeline.
type HomeRequest struct {
	Survey  *Survey
	Targets nutrition.Targets
	Weekly  nutrition.WeeklyTargets
}

// HomeResult is the output of the home pipeline. Err is set when any part
// of the generation failed; Meals then holds whatever did succeed.
type HomeResult struct {
	Meals       []GeneratedMeal
	GroceryList *shopping.List
	Stages      []shared.StageMeta
	Err         string
	Attempts    int
}

// HomeGenerator plans home-cooked meals with a language model.
type HomeGenerator struct {
	textGen   llm.TextGenerator
	logger    *zap.Logger
	retryOpts []retry.Option
}

// NewHomeGenerator creates a HomeGenerator. Retry options default to the
// Generation policy.
func NewHomeGenerator(textGen llm.TextGenerator, logger *zap.Logger, opts ...retry.Option) *HomeGenerator {
	base := []retry.Option{retry.WithPolicy(retry.Generation), retry.WithLogger(logger)}
	return &HomeGenerator{
		textGen:   textGen,
		logger:    logger.With(zap.String("pipeline", "home")),
		retryOpts: append(base, opts...),
	}
}

type slotPrompt struct {
	Day      string
	MealType MealType
	nutrition.MealTarget
}

type homePromptData struct {
	Profile     nutrition.Profile
	Targets     nutrition.Targets
	Preferences Preferences
	Slots       []slotPrompt
}

type homeChunkResult struct {
	meals []GeneratedMeal
	meta  shared.StageMeta
	err   string
}

// Generate plans every home slot of the survey schedule.
func (g *HomeGenerator) Generate(ctx context.Context, req HomeRequest) HomeResult {
	schedule := req.Survey.EffectiveSchedule()
	refs := schedule.Slots(LocationHome)
	if len(refs) == 0 {
		return HomeResult{}
	}

	var chunks [][]SlotRef
	for _, days := range homeChunks {
		var chunk []SlotRef
		for _, ref := range refs {
			if slices.Contains(days, ref.Day) {
				chunk = append(chunk, ref)
			}
		}
		if len(chunk) > 0 {
			chunks = append(chunks, chunk)
		}
	}

	results := make([]homeChunkResult, len(chunks))
	var eg errgroup.Group
	for i, chunk := range chunks {
		eg.Go(func() error {
			results[i] = g.generateChunk(ctx, req, chunk)
			return nil
		})
	}
	_ = eg.Wait()

	var out HomeResult
	var failures []string
	for _, r := range results {
		out.Meals = append(out.Meals, r.meals...)
		out.Stages = append(out.Stages, r.meta)
		out.Attempts += r.meta.Attempts
		if r.err != "" {
			failures = append(failures, r.meta.Stage+": "+r.err)
		}
	}
	sortMeals(out.Meals)

	if len(failures) > 0 {
		out.Err = "home meal generation failed: " + strings.Join(failures, "; ")
	}

	if len(out.Meals) > 0 {
		list, meta := g.groceryList(ctx, req.Survey.Preferences, out.Meals)
		out.GroceryList = list
		out.Stages = append(out.Stages, meta)
	}

	return out
}

func (g *HomeGenerator) generateChunk(ctx context.Context, req HomeRequest, chunk []SlotRef) homeChunkResult {
	stage := chunk[0].Day + "-" + chunk[len(chunk)-1].Day
	start := time.Now()

	data := homePromptData{
		Profile:     req.Survey.Profile,
		Targets:     req.Targets,
		Preferences: req.Survey.Preferences,
	}
	for _, ref := range chunk {
		data.Slots = append(data.Slots, slotPrompt{Day: ref.Day, MealType: ref.MealType, MealTarget: slotTargetFor(req, ref)})
	}

	meta := shared.StageMeta{Stage: stage, Pipeline: "home"}
	prompt, err := renderPrompt("home", homePrompt, data)
	if err != nil {
		return homeChunkResult{meta: meta, err: fmt.Sprintf("failed to build prompt: %v", err)}
	}

	wanted := make(map[string]bool, len(chunk))
	for _, ref := range chunk {
		wanted[ref.Key()] = true
	}

	var usage shared.TokenUsage
	res := retry.Do(ctx, "home-meals/"+stage, func(ctx context.Context) ([]GeneratedMeal, error) {
		resp, err := g.textGen.GenerateContent(ctx, prompt)
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)
		return parseHomeMeals(resp.Content, wanted)
	}, g.retryOpts...)

	meta.Usage = usage
	meta.Latency = time.Since(start)
	meta.Attempts = res.Attempts
	meta.Success = res.Success

	if !res.Success {
		g.logger.Error("home chunk failed", zap.String("stage", stage), zap.Int("attempts", res.Attempts), zap.String("error", res.Err))
		return homeChunkResult{meta: meta, err: res.Err}
	}

	g.logger.Info("home chunk generated",
		zap.String("stage", stage),
		zap.Int("meals", len(res.Data)),
		zap.Int("attempts", res.Attempts),
		zap.Duration("latency", meta.Latency),
	)
	return homeChunkResult{meals: res.Data, meta: meta}
}

func slotTargetFor(req HomeRequest, ref SlotRef) nutrition.MealTarget {
	if day, ok := req.Weekly.Days[ref.Day]; ok {
		if t := day.For(string(ref.MealType)); t != nil {
			return t.MealTarget
		}
	}
	switch ref.MealType {
	case Breakfast:
		return req.Targets.MealTargets.Breakfast
	case Lunch:
		return req.Targets.MealTargets.Lunch
	default:
		return req.Targets.MealTargets.Dinner
	}
}

// parseHomeMeals decodes a {"meals": [...]} response and keeps the meals
// for wanted slots. A response with none of them is malformed.
func parseHomeMeals(content string, wanted map[string]bool) ([]GeneratedMeal, error) {
	var raw struct {
		Meals []GeneratedMeal `json:"meals"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(content)), &raw); err != nil {
		return nil, retry.Malformed(err)
	}

	var meals []GeneratedMeal
	seen := make(map[string]bool)
	for _, m := range raw.Meals {
		m.Day = strings.ToLower(strings.TrimSpace(m.Day))
		m.MealType = MealType(strings.ToLower(string(m.MealType)))
		key := SlotKey(m.Day, m.MealType)
		if !wanted[key] || seen[key] || m.Primary.IsEmpty() {
			continue
		}
		seen[key] = true

		m.Primary.Source = SourceHome
		if m.Alternative.IsEmpty() {
			m.Alternative = nil
		} else {
			m.Alternative.Source = SourceHome
		}
		meals = append(meals, m)
	}

	if len(meals) == 0 {
		return nil, retry.Malformed(fmt.Errorf("no usable meals in response"))
	}
	return meals, nil
}

type groceryPromptData struct {
	Budget float64
	Meals  []shopping.MealIngredients
}

// groceryList consolidates the ingredients of meals. When the model cannot
// produce a list, one is derived directly from the ingredients.
func (g *HomeGenerator) groceryList(ctx context.Context, prefs Preferences, meals []GeneratedMeal) (*shopping.List, shared.StageMeta) {
	start := time.Now()
	ingredients := mealIngredients(meals)
	meta := shared.StageMeta{Stage: "grocery", Pipeline: "home"}

	prompt, err := renderPrompt("grocery", groceryPrompt, groceryPromptData{Budget: prefs.WeeklyBudget, Meals: ingredients})
	if err != nil {
		g.logger.Error("failed to build grocery prompt", zap.Error(err))
		return shopping.BuildFallback(ingredients), meta
	}

	var usage shared.TokenUsage
	res := retry.Do(ctx, "grocery-list", func(ctx context.Context) (*shopping.List, error) {
		resp, err := g.textGen.GenerateContent(ctx, prompt)
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)

		var list shopping.List
		if err := json.Unmarshal([]byte(llm.CleanJSON(resp.Content)), &list); err != nil {
			return nil, retry.Malformed(err)
		}
		if list.Len() == 0 {
			return nil, retry.Malformed(fmt.Errorf("empty grocery list"))
		}
		return &list, nil
	}, g.retryOpts...)

	meta.Usage = usage
	meta.Latency = time.Since(start)
	meta.Attempts = res.Attempts
	meta.Success = res.Success

	if !res.Success {
		g.logger.Warn("grocery list generation failed, using fallback", zap.String("error", res.Err))
		return shopping.BuildFallback(ingredients), meta
	}
	return shopping.EnhanceWithUsage(res.Data, ingredients), meta
}

func mealIngredients(meals []GeneratedMeal) []shopping.MealIngredients {
	out := make([]shopping.MealIngredients, 0, len(meals))
	for _, m := range meals {
		out = append(out, shopping.MealIngredients{
			Day:         m.Day,
			MealType:    string(m.MealType),
			DishName:    m.Primary.Name,
			Ingredients: m.Primary.Ingredients,
		})
	}
	return out
}

func sortMeals(meals []GeneratedMeal) {
	order := map[MealType]int{Breakfast: 0, Lunch: 1, Dinner: 2}
	sort.SliceStable(meals, func(i, j int) bool {
		di, dj := DayIndex(meals[i].Day), DayIndex(meals[j].Day)
		if di != dj {
			return di < dj
		}
		return order[meals[i].MealType] < order[meals[j].MealType]
	})
}

