package nutrition

import (
	"math"
	"strings"
)

// Slot sources used for per-day targets.
const (
	SlotHome       = "home"
	SlotRestaurant = "restaurant"
	SlotSkipped    = "skipped"
)

// DaySlots records where each meal of a day is eaten: home, restaurant or skipped.
type DaySlots struct {
	Breakfast string
	Lunch     string
	Dinner    string
}

// SlotTarget is a meal envelope tagged with the slot's source.
type SlotTarget struct {
	MealTarget
	Source string `json:"source"`
}

// DayTargets holds the slot envelopes for one day. Skipped slots are nil.
type DayTargets struct {
	Breakfast *SlotTarget `json:"breakfast"`
	Lunch     *SlotTarget `json:"lunch"`
	Dinner    *SlotTarget `json:"dinner"`
}

// WeeklyTargets are per-day targets for a schedule.
type WeeklyTargets struct {
	DailyCalories int                   `json:"dailyCalories"`
	Macros        Macros                `json:"macros"`
	Days          map[string]DayTargets `json:"days"`
}

// RestaurantCalories is a known restaurant meal whose calories count against the day.
type RestaurantCalories struct {
	Day      string `json:"day"`
	MealType string `json:"mealType"`
	Calories int    `json:"calories"`
}

const singleHomeSlotCap = 1200

func slotTarget(m Macros, calories int, source string) *SlotTarget {
	proportion := 0.0
	if m.Calories > 0 {
		proportion = float64(calories) / float64(m.Calories)
	}
	return &SlotTarget{
		MealTarget: MealTarget{
			Calories: calories,
			Protein:  round(float64(m.Protein) * proportion),
			Carbs:    round(float64(m.Carbs) * proportion),
			Fat:      round(float64(m.Fat) * proportion),
		},
		Source: source,
	}
}

func normalizeSource(s string) string {
	switch strings.ToLower(s) {
	case SlotRestaurant:
		return SlotRestaurant
	case "no-meal", SlotSkipped:
		return SlotSkipped
	default:
		return SlotHome
	}
}

// Weekly spreads the daily targets over the eaten meals of each scheduled day.
// The breakfast/lunch/dinner ratios are renormalised over the non-skipped slots.
func Weekly(p Profile, schedule map[string]DaySlots) (WeeklyTargets, error) {
	if err := p.Validate(); err != nil {
		return WeeklyTargets{}, err
	}
	m := DailyMacros(p)

	w := WeeklyTargets{
		DailyCalories: m.Calories,
		Macros:        m,
		Days:          make(map[string]DayTargets, len(schedule)),
	}

	for day, slots := range schedule {
		sources := [3]string{normalizeSource(slots.Breakfast), normalizeSource(slots.Lunch), normalizeSource(slots.Dinner)}
		ratios := [3]float64{BreakfastRatio, LunchRatio, DinnerRatio}

		total := 0.0
		for i, src := range sources {
			if src != SlotSkipped {
				total += ratios[i]
			}
		}

		var targets [3]*SlotTarget
		for i, src := range sources {
			if src == SlotSkipped || total == 0 {
				continue
			}
			calories := round(float64(m.Calories) * ratios[i] / total)
			targets[i] = slotTarget(m, calories, src)
		}
		w.Days[strings.ToLower(day)] = DayTargets{Breakfast: targets[0], Lunch: targets[1], Dinner: targets[2]}
	}
	return w, nil
}

// For returns the envelope of mealType, nil when the slot is skipped.
func (d DayTargets) For(mealType string) *SlotTarget {
	if s := d.slot(mealType); s != nil {
		return *s
	}
	return nil
}

func (d *DayTargets) slot(mealType string) **SlotTarget {
	switch mealType {
	case "breakfast":
		return &d.Breakfast
	case "lunch":
		return &d.Lunch
	case "dinner":
		return &d.Dinner
	}
	return nil
}

// AdjustForRestaurantBudget subtracts known restaurant calories from each day and
// redistributes the remainder over that day's home slots. A single remaining home
// slot takes everything up to 1200 kcal; two slots split 40/60.
func AdjustForRestaurantBudget(w WeeklyTargets, restaurant []RestaurantCalories) WeeklyTargets {
	if len(restaurant) == 0 || len(w.Days) == 0 {
		return w
	}

	days := make(map[string]DayTargets, len(w.Days))
	for k, v := range w.Days {
		days[k] = v
	}

	for _, rc := range restaurant {
		key := strings.ToLower(rc.Day)
		dt, ok := days[key]
		if !ok {
			continue
		}

		remaining := w.DailyCalories - rc.Calories
		if remaining < 0 {
			remaining = 0
		}

		var homeSlots []string
		for _, mt := range []string{"breakfast", "lunch", "dinner"} {
			if mt == rc.MealType {
				continue
			}
			if s := *dt.slot(mt); s != nil && s.Source == SlotHome {
				homeSlots = append(homeSlots, mt)
			}
		}

		switch len(homeSlots) {
		case 1:
			calories := int(math.Min(float64(remaining), singleHomeSlotCap))
			*dt.slot(homeSlots[0]) = slotTarget(w.Macros, calories, SlotHome)
		case 2:
			smaller := round(float64(remaining) * 0.4)
			*dt.slot(homeSlots[0]) = slotTarget(w.Macros, smaller, SlotHome)
			*dt.slot(homeSlots[1]) = slotTarget(w.Macros, remaining-smaller, SlotHome)
		}
		days[key] = dt
	}

	w.Days = days
	return w
}
