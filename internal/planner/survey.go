package planner

import (
	"strings"
	"time"

	"mealsynth/internal/nutrition"
)

// Preferences are the food preferences collected by the survey.
type Preferences struct {
	City               string   `json:"city,omitempty"`
	PreferredCuisines  []string `json:"preferredCuisines,omitempty"`
	PreferredFoods     []string `json:"preferredFoods,omitempty"`
	DietPrefs          []string `json:"dietPrefs,omitempty"`
	Allergies          []string `json:"foodAllergies,omitempty"`
	StrictExclusions   []string `json:"strictExclusions,omitempty"`
	WeeklyBudget       float64  `json:"weeklyBudget,omitempty"`
	MaxCookTimeMinutes int      `json:"maxCookTime,omitempty"`
}

// Survey is a user's answers: the profile, the weekly schedule and preferences.
type Survey struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	Profile     nutrition.Profile `json:"profile"`
	Schedule    WeeklySchedule    `json:"weeklyMealSchedule,omitempty"`
	Preferences Preferences       `json:"preferences"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// EffectiveSchedule returns the survey schedule with every missing day or
// slot eaten at home.
func (s *Survey) EffectiveSchedule() WeeklySchedule {
	out := AllHome()
	for day, pm := range s.Schedule {
		day = strings.ToLower(day)
		if DayIndex(day) < 0 {
			continue
		}
		out[day] = PlannedMeals{
			Breakfast: orHome(pm.Breakfast),
			Lunch:     orHome(pm.Lunch),
			Dinner:    orHome(pm.Dinner),
		}
	}
	return out
}

func orHome(l MealLocation) MealLocation {
	if l == "" {
		return LocationHome
	}
	return l
}
