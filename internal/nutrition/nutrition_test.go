package nutrition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceProfile() Profile {
	return Profile{
		Age:           30,
		Sex:           "female",
		HeightInches:  65,
		WeightPounds:  140,
		ActivityLevel: ModeratelyActive,
		Goal:          GeneralWellness,
	}
}

func TestCalculateReferenceProfile(t *testing.T) {
	targets, err := Calculate(referenceProfile())
	require.NoError(t, err)

	assert.Equal(t, 2102, targets.DailyCalories)
	assert.Equal(t, 131, targets.DailyProtein)
	assert.Equal(t, 236, targets.DailyCarbs)
	assert.Equal(t, 70, targets.DailyFat)

	assert.Equal(t, 526, targets.MealTargets.Breakfast.Calories)
	assert.Equal(t, 673, targets.MealTargets.Lunch.Calories)
	assert.Equal(t, 799, targets.MealTargets.Dinner.Calories)
	assert.Equal(t, 105, targets.MealTargets.Snack.Calories)
}

func TestCalculateAllocationSumsToDaily(t *testing.T) {
	profiles := []Profile{
		referenceProfile(),
		{Age: 40, Sex: "male", HeightInches: 70, WeightPounds: 180, ActivityLevel: Sedentary, Goal: WeightLoss},
		{Age: 22, Sex: "Male", HeightInches: 74, WeightPounds: 210, ActivityLevel: ExtremelyActive, Goal: MuscleGain},
		{Age: 55, Sex: "female", HeightInches: 60, WeightPounds: 118, ActivityLevel: LightlyActive, Goal: Endurance},
		{Age: 35, Sex: "nonbinary", HeightInches: 68, WeightPounds: 160},
	}

	for _, p := range profiles {
		targets, err := Calculate(p)
		require.NoError(t, err)

		mt := targets.MealTargets
		sum := mt.Breakfast.Calories + mt.Lunch.Calories + mt.Dinner.Calories + mt.Snack.Calories
		assert.InDelta(t, targets.DailyCalories, sum, 4, "profile %+v", p)
	}
}

func TestCalculateGoalAdjustments(t *testing.T) {
	p := Profile{Age: 40, Sex: "male", HeightInches: 70, WeightPounds: 180, ActivityLevel: Sedentary, Goal: WeightLoss}

	assert.Equal(t, 1733, BMR(p))
	assert.Equal(t, 2080, TDEE(p))

	m := DailyMacros(p)
	assert.Equal(t, 1664, m.Calories)
	assert.Equal(t, 146, m.Protein)
	assert.Equal(t, 166, m.Carbs)
	assert.Equal(t, 46, m.Fat)
}

func TestCalculateDefaultsActivityAndGoal(t *testing.T) {
	p := referenceProfile()
	p.ActivityLevel = ""
	p.Goal = ""

	targets, err := Calculate(p)
	require.NoError(t, err)
	assert.Equal(t, 2102, targets.DailyCalories)
}

func TestCalculateRejectsIncompleteProfile(t *testing.T) {
	t.Run("AllMissing", func(t *testing.T) {
		_, err := Calculate(Profile{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrIncompleteProfile))

		var incomplete *IncompleteProfileError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, []string{"age", "sex", "height", "weight"}, incomplete.Missing)
	})

	t.Run("OnlyWeightMissing", func(t *testing.T) {
		p := referenceProfile()
		p.WeightPounds = 0

		_, err := Calculate(p)
		var incomplete *IncompleteProfileError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, []string{"weight"}, incomplete.Missing)
		assert.Contains(t, err.Error(), "weight")
	})
}
