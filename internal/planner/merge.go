package planner

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"mealsynth/internal/shared"
)

// MergeDays combines a freshly generated partial week (incoming) with the
// stored one (existing). Restaurant slots outrank home slots whichever side
// they come from; between slots of the same source the incoming one wins,
// and an empty incoming slot never erases stored content. The result does
// not share memory with either input and is ordered Monday to Sunday.
func MergeDays(incoming, existing []DayPlan) []DayPlan {
	merged := make([]DayPlan, len(incoming))
	for i, d := range incoming {
		merged[i] = d.clone()
	}
	if existing == nil {
		sortDays(merged)
		return merged
	}

	used := make([]bool, len(existing))
	for i := range merged {
		j := matchDay(existing, used, merged[i])
		if j < 0 {
			continue
		}
		used[j] = true
		ex := existing[j]

		for _, mt := range MealTypes {
			merged[i].Meals.Set(mt, mergeSlot(merged[i].Meals.Get(mt), ex.Meals.Get(mt)))
		}
		if merged[i].Date == "" {
			merged[i].Date = ex.Date
		}
		if merged[i].PlannedMeals == (PlannedMeals{}) {
			merged[i].PlannedMeals = ex.PlannedMeals
		}
	}

	for j, ex := range existing {
		if !used[j] {
			merged = append(merged, ex.clone())
		}
	}

	sortDays(merged)
	return merged
}

func mergeSlot(in, ex *MealSlot) *MealSlot {
	if ex != nil && ex.Source == SourceRestaurant && (in == nil || in.Source != SourceRestaurant) {
		return ex.clone()
	}
	if in == nil {
		return ex.clone()
	}
	return in
}

// matchDay finds the unused day of days with the same name, falling back to
// the same date.
func matchDay(days []DayPlan, used []bool, d DayPlan) int {
	if d.Day != "" {
		for j, c := range days {
			if !used[j] && strings.EqualFold(c.Day, d.Day) {
				return j
			}
		}
	}
	if d.Date != "" {
		for j, c := range days {
			if !used[j] && c.Date == d.Date {
				return j
			}
		}
	}
	return -1
}

func sortDays(days []DayPlan) {
	sort.SliceStable(days, func(i, j int) bool {
		a, b := DayIndex(days[i].Day), DayIndex(days[j].Day)
		if a != b {
			return a < b
		}
		return days[i].Date < days[j].Date
	})
}

// MergeContext folds the document produced by one pipeline run into the
// stored document. Days go through MergeDays, a completed generator stays
// completed, and stored overrides survive. A generator that completes again
// replaces the stage records and skip reason of its previous run.
func MergeContext(existing *UserContext, incoming UserContext) UserContext {
	if existing == nil {
		out := incoming
		out.Days = MergeDays(incoming.Days, nil)
		return out
	}

	out := UserContext{
		Days:                MergeDays(incoming.Days, existing.Days),
		NutritionTargets:    existing.NutritionTargets,
		HomeMeals:           existing.HomeMeals,
		RestaurantMeals:     existing.RestaurantMeals,
		GroceryList:         existing.GroceryList,
		SelectedMealOptions: mergeMaps(existing.SelectedMealOptions, incoming.SelectedMealOptions),
		DailySummaries:      existing.DailySummaries,
	}
	if incoming.NutritionTargets != nil {
		out.NutritionTargets = incoming.NutritionTargets
	}
	if incoming.HomeMeals != nil {
		out.HomeMeals = incoming.HomeMeals
	}
	if incoming.RestaurantMeals != nil {
		out.RestaurantMeals = incoming.RestaurantMeals
	}
	if incoming.GroceryList != nil {
		out.GroceryList = incoming.GroceryList
	}
	if incoming.DailySummaries != nil {
		out.DailySummaries = incoming.DailySummaries
	}

	em, im := existing.Metadata, incoming.Metadata
	stages := slices.Clip(em.Stages)
	if im.Generators.HomeMeals == GeneratorCompleted {
		stages = stagesWithout(stages, PipelineHome)
	}
	if im.Generators.RestaurantMeals == GeneratorCompleted {
		stages = stagesWithout(stages, PipelineRestaurant)
	}
	out.Metadata = PlanMetadata{
		Generators: GeneratorFlags{
			HomeMeals:       mergeState(em.Generators.HomeMeals, im.Generators.HomeMeals),
			RestaurantMeals: mergeState(em.Generators.RestaurantMeals, im.Generators.RestaurantMeals),
		},
		Skipped:     mergeMaps(em.Skipped, im.Skipped),
		Errors:      mergeMaps(em.Errors, im.Errors),
		TimingsMS:   mergeMaps(em.TimingsMS, im.TimingsMS),
		Stages:      append(stages, im.Stages...),
		Restaurants: em.Restaurants,
	}
	if im.Restaurants != nil {
		out.Metadata.Restaurants = im.Restaurants
	}
	if im.Generators.HomeMeals == GeneratorCompleted {
		delete(out.Metadata.Errors, generatorHome)
		if im.Skipped[generatorHome] == "" {
			delete(out.Metadata.Skipped, generatorHome)
		}
	}
	if im.Generators.RestaurantMeals == GeneratorCompleted {
		delete(out.Metadata.Errors, generatorRestaurant)
		if im.Skipped[generatorRestaurant] == "" {
			delete(out.Metadata.Skipped, generatorRestaurant)
		}
	}
	return out
}

// stagesWithout returns a copy of stages minus those of pipeline.
func stagesWithout(stages []shared.StageMeta, pipeline string) []shared.StageMeta {
	return slices.DeleteFunc(slices.Clone(stages), func(st shared.StageMeta) bool {
		return st.Pipeline == pipeline
	})
}

// Generator names used as metadata keys.
const (
	generatorHome       = "homeMeals"
	generatorRestaurant = "restaurantMeals"
)

func mergeState(existing, incoming GeneratorState) GeneratorState {
	switch {
	case existing == GeneratorCompleted || incoming == GeneratorCompleted:
		return GeneratorCompleted
	case incoming != "" && incoming != GeneratorPending:
		return incoming
	case existing != "":
		return existing
	default:
		return GeneratorPending
	}
}

// mergeMaps returns the union of both maps, incoming entries winning.
func mergeMaps[K comparable, V any](existing, incoming map[K]V) map[K]V {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make(map[K]V, len(existing)+len(incoming))
	maps.Copy(out, existing)
	maps.Copy(out, incoming)
	return out
}
