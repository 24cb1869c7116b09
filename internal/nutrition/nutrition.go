// Package nutrition turns a user profile into daily and per-meal calorie and macro targets.
package nutrition

import (
	"errors"
	"math"
	"strings"
)

// ActivityLevel is the self-reported activity bucket from the survey.
type ActivityLevel string

const (
	Sedentary        ActivityLevel = "SEDENTARY"
	LightlyActive    ActivityLevel = "LIGHTLY_ACTIVE"
	ModeratelyActive ActivityLevel = "MODERATELY_ACTIVE"
	VeryActive       ActivityLevel = "VERY_ACTIVE"
	ExtremelyActive  ActivityLevel = "EXTREMELY_ACTIVE"
)

// Goal is the user's primary dietary goal.
type Goal string

const (
	WeightLoss      Goal = "WEIGHT_LOSS"
	MuscleGain      Goal = "MUSCLE_GAIN"
	Endurance       Goal = "ENDURANCE"
	GeneralWellness Goal = "GENERAL_WELLNESS"
)

var activityMultipliers = map[ActivityLevel]float64{
	Sedentary:        1.2,
	LightlyActive:    1.375,
	ModeratelyActive: 1.55,
	VeryActive:       1.725,
	ExtremelyActive:  1.9,
}

// Share of daily macros given to each meal type.
const (
	BreakfastRatio = 0.25
	LunchRatio     = 0.32
	DinnerRatio    = 0.38
	SnackRatio     = 0.05
)

// Profile is the snapshot of survey answers used for target calculation.
// Height is in inches and weight in pounds.
type Profile struct {
	Age           int           `json:"age"`
	Sex           string        `json:"sex"`
	HeightInches  float64       `json:"height"`
	WeightPounds  float64       `json:"weight"`
	ActivityLevel ActivityLevel `json:"activityLevel"`
	Goal          Goal          `json:"goal"`
}

// MealTarget is the calorie and macro envelope for one meal.
type MealTarget struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Carbs    int `json:"carbs"`
	Fat      int `json:"fat"`
}

// MealTargets holds the envelope for every meal type.
type MealTargets struct {
	Breakfast MealTarget `json:"breakfast"`
	Lunch     MealTarget `json:"lunch"`
	Dinner    MealTarget `json:"dinner"`
	Snack     MealTarget `json:"snack"`
}

// Targets are the daily targets derived from a Profile.
type Targets struct {
	DailyCalories int         `json:"dailyCalories"`
	DailyProtein  int         `json:"dailyProtein"`
	DailyCarbs    int         `json:"dailyCarbs"`
	DailyFat      int         `json:"dailyFat"`
	MealTargets   MealTargets `json:"mealTargets"`
}

// Macros are daily gram targets plus the calorie figure they were derived from.
type Macros struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Carbs    int `json:"carbs"`
	Fat      int `json:"fat"`
}

// ErrIncompleteProfile is matched by every IncompleteProfileError.
var ErrIncompleteProfile = errors.New("insufficient profile")

// IncompleteProfileError lists the profile fields that were absent.
type IncompleteProfileError struct {
	Missing []string
}

func (e *IncompleteProfileError) Error() string {
	return "insufficient profile: missing " + strings.Join(e.Missing, ", ")
}

func (e *IncompleteProfileError) Is(target error) bool {
	return target == ErrIncompleteProfile
}

// Validate reports which of age, sex, height and weight are missing.
func (p Profile) Validate() error {
	var missing []string
	if p.Age <= 0 {
		missing = append(missing, "age")
	}
	if strings.TrimSpace(p.Sex) == "" {
		missing = append(missing, "sex")
	}
	if p.HeightInches <= 0 {
		missing = append(missing, "height")
	}
	if p.WeightPounds <= 0 {
		missing = append(missing, "weight")
	}
	if len(missing) > 0 {
		return &IncompleteProfileError{Missing: missing}
	}
	return nil
}

// withDefaults fills activity level and goal, which the survey may leave blank.
func (p Profile) withDefaults() Profile {
	if _, ok := activityMultipliers[p.ActivityLevel]; !ok {
		p.ActivityLevel = ModeratelyActive
	}
	switch p.Goal {
	case WeightLoss, MuscleGain, Endurance, GeneralWellness:
	default:
		p.Goal = GeneralWellness
	}
	return p
}

func round(v float64) int {
	return int(math.Round(v))
}

// BMR uses the Mifflin-St Jeor equation.
func BMR(p Profile) int {
	heightCm := p.HeightInches * 2.54
	weightKg := p.WeightPounds * 0.453592

	bmr := 10*weightKg + 6.25*heightCm - 5*float64(p.Age)
	if strings.EqualFold(strings.TrimSpace(p.Sex), "male") {
		bmr += 5
	} else {
		bmr -= 161
	}
	return round(bmr)
}

// TDEE scales BMR by the activity multiplier.
func TDEE(p Profile) int {
	p = p.withDefaults()
	return round(float64(BMR(p)) * activityMultipliers[p.ActivityLevel])
}

// TargetCalories adjusts TDEE for the goal.
func TargetCalories(p Profile) int {
	p = p.withDefaults()
	tdee := float64(TDEE(p))
	switch p.Goal {
	case WeightLoss:
		return round(tdee * 0.8)
	case MuscleGain:
		return round(tdee * 1.15)
	case Endurance:
		return round(tdee * 1.1)
	default:
		return round(tdee)
	}
}

// DailyMacros splits the target calories into protein, carbs and fat grams.
func DailyMacros(p Profile) Macros {
	p = p.withDefaults()
	calories := TargetCalories(p)

	var proteinRatio, fatRatio float64
	switch p.Goal {
	case WeightLoss:
		proteinRatio, fatRatio = 0.35, 0.25
	case MuscleGain:
		proteinRatio, fatRatio = 0.30, 0.25
	case Endurance:
		proteinRatio, fatRatio = 0.20, 0.25
	default:
		proteinRatio, fatRatio = 0.25, 0.30
	}
	carbRatio := 1 - proteinRatio - fatRatio

	c := float64(calories)
	return Macros{
		Calories: calories,
		Protein:  round(c * proteinRatio / 4),
		Carbs:    round(c * carbRatio / 4),
		Fat:      round(c * fatRatio / 9),
	}
}

func allocate(m Macros, ratio float64) MealTarget {
	return MealTarget{
		Calories: round(float64(m.Calories) * ratio),
		Protein:  round(float64(m.Protein) * ratio),
		Carbs:    round(float64(m.Carbs) * ratio),
		Fat:      round(float64(m.Fat) * ratio),
	}
}

// Calculate derives daily targets and per-meal envelopes. It never substitutes
// defaults for age, sex, height or weight: an incomplete profile is an error.
func Calculate(p Profile) (Targets, error) {
	if err := p.Validate(); err != nil {
		return Targets{}, err
	}

	m := DailyMacros(p)
	return Targets{
		DailyCalories: m.Calories,
		DailyProtein:  m.Protein,
		DailyCarbs:    m.Carbs,
		DailyFat:      m.Fat,
		MealTargets: MealTargets{
			Breakfast: allocate(m, BreakfastRatio),
			Lunch:     allocate(m, LunchRatio),
			Dinner:    allocate(m, DinnerRatio),
			Snack:     allocate(m, SnackRatio),
		},
	}, nil
}
