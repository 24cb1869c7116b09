package planner

import (
	"fmt"
	"time"
)

var testWeek = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func homeOption(name string, calories int) MealOption {
	return MealOption{Name: name, Calories: calories, Protein: 20, Carbs: 40, Fat: 10, Source: SourceHome}
}

func restaurantOption(name string, calories int) MealOption {
	return MealOption{Name: name, Calories: calories, Protein: 35, Carbs: 50, Fat: 25, Source: SourceRestaurant, Restaurant: "Trattoria"}
}

// dinnersOutSchedule eats every dinner at a restaurant and everything else at home.
func dinnersOutSchedule() WeeklySchedule {
	s := make(WeeklySchedule)
	for _, d := range WeekDays {
		s[d] = PlannedMeals{Breakfast: LocationHome, Lunch: LocationHome, Dinner: LocationRestaurant}
	}
	return s
}

// homeMealsFor returns one home meal with an alternative per home slot of schedule.
func homeMealsFor(schedule WeeklySchedule) []GeneratedMeal {
	var meals []GeneratedMeal
	for _, ref := range schedule.Slots(LocationHome) {
		alt := homeOption(fmt.Sprintf("%s %s alt", ref.Day, ref.MealType), 450)
		meals = append(meals, GeneratedMeal{
			Day:         ref.Day,
			MealType:    ref.MealType,
			Primary:     homeOption(fmt.Sprintf("%s %s", ref.Day, ref.MealType), 500),
			Alternative: &alt,
		})
	}
	return meals
}

func restaurantMealsFor(schedule WeeklySchedule) []GeneratedMeal {
	var meals []GeneratedMeal
	for _, ref := range schedule.Slots(LocationRestaurant) {
		meals = append(meals, GeneratedMeal{
			Day:      ref.Day,
			MealType: ref.MealType,
			Primary:  restaurantOption(fmt.Sprintf("%s %s special", ref.Day, ref.MealType), 700),
		})
	}
	return meals
}
