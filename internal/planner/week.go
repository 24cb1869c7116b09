package planner

import (
	"strings"
	"time"
)

// StartOfWeek returns Monday 00:00 UTC of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BuildSkeleton returns seven empty days starting at weekOf, each carrying
// its planned meals. A nil schedule means every slot is eaten at home.
func BuildSkeleton(weekOf time.Time, schedule WeeklySchedule) []DayPlan {
	if len(schedule) == 0 {
		schedule = AllHome()
	}
	days := make([]DayPlan, len(WeekDays))
	for i, name := range WeekDays {
		days[i] = DayPlan{
			Day:          name,
			Date:         weekOf.AddDate(0, 0, i).Format("2006-01-02"),
			PlannedMeals: schedule[name],
		}
	}
	return days
}

// PlaceMeals copies meals into the slots of days planned at loc. Meals for
// slots planned elsewhere are dropped. The input days are not modified.
func PlaceMeals(days []DayPlan, meals []GeneratedMeal, loc MealLocation) []DayPlan {
	source := SourceHome
	if loc == LocationRestaurant {
		source = SourceRestaurant
	}

	out := make([]DayPlan, len(days))
	index := make(map[string]int, len(days))
	for i, d := range days {
		out[i] = d.clone()
		index[strings.ToLower(d.Day)] = i
	}

	for _, m := range meals {
		i, ok := index[strings.ToLower(m.Day)]
		if !ok || out[i].PlannedMeals.For(m.MealType) != loc {
			continue
		}
		slot := &MealSlot{Primary: m.Primary.clone(), Source: source}
		slot.Primary.Source = source
		if !m.Alternative.IsEmpty() {
			alt := m.Alternative.clone()
			alt.Source = source
			slot.Alternative = &alt
		}
		out[i].Meals.Set(m.MealType, slot)
	}
	return out
}
