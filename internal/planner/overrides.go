package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// OptionChoice picks one of the two options of a slot.
type OptionChoice string

const (
	OptionPrimary     OptionChoice = "primary"
	OptionAlternative OptionChoice = "alternative"
)

// Override is a user choice for one slot: either a toggle between the
// slot's own options or a swap that shows an option of another slot.
//
// On the wire a toggle is the bare string "primary" or "alternative" and a
// swap is {"isCustomSwap":true,"sourceDay":..,"sourceMealType":..,"sourceOption":..}.
type Override struct {
	Choice         OptionChoice
	IsCustomSwap   bool
	SourceDay      string
	SourceMealType MealType
	SourceOption   OptionChoice
}

// Toggle returns an override selecting choice within the slot itself.
func Toggle(choice OptionChoice) Override {
	return Override{Choice: choice}
}

// Swap returns an override showing the option at (day, mealType, option).
func Swap(day string, mealType MealType, option OptionChoice) Override {
	return Override{IsCustomSwap: true, SourceDay: day, SourceMealType: mealType, SourceOption: option}
}

type swapJSON struct {
	IsCustomSwap   bool         `json:"isCustomSwap"`
	SourceDay      string       `json:"sourceDay"`
	SourceMealType MealType     `json:"sourceMealType"`
	SourceOption   OptionChoice `json:"sourceOption"`
}

// MarshalJSON implements json.Marshaler.
func (o Override) MarshalJSON() ([]byte, error) {
	if o.IsCustomSwap {
		return json.Marshal(swapJSON{
			IsCustomSwap:   true,
			SourceDay:      o.SourceDay,
			SourceMealType: o.SourceMealType,
			SourceOption:   o.SourceOption,
		})
	}
	return json.Marshal(string(o.Choice))
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Override) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = Override{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = Override{Choice: OptionChoice(s)}
		return nil
	}

	var sw swapJSON
	if err := json.Unmarshal(data, &sw); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}
	*o = Override{
		IsCustomSwap:   sw.IsCustomSwap,
		SourceDay:      sw.SourceDay,
		SourceMealType: sw.SourceMealType,
		SourceOption:   sw.SourceOption,
	}
	if !sw.IsCustomSwap {
		// An object without the swap flag falls back to the primary option.
		o.Choice = OptionPrimary
	}
	return nil
}

// Validate checks the override against the known enumerations.
func (o Override) Validate() error {
	if o.IsCustomSwap {
		if DayIndex(o.SourceDay) < 0 {
			return fmt.Errorf("unknown source day %q", o.SourceDay)
		}
		if !o.SourceMealType.Valid() {
			return fmt.Errorf("unknown source meal type %q", o.SourceMealType)
		}
		if o.SourceOption != OptionPrimary && o.SourceOption != OptionAlternative {
			return fmt.Errorf("unknown source option %q", o.SourceOption)
		}
		return nil
	}
	if o.Choice != OptionPrimary && o.Choice != OptionAlternative {
		return fmt.Errorf("unknown option %q", o.Choice)
	}
	return nil
}

// OptionID builds the flattened id "{day}-{mealType}-{option}".
func OptionID(day string, mealType MealType, option OptionChoice) string {
	return SlotKey(day, mealType) + "-" + string(option)
}

// CollectedOption is one option of the week with its address.
type CollectedOption struct {
	ID       string       `json:"id"`
	Day      string       `json:"day"`
	MealType MealType     `json:"mealType"`
	Option   OptionChoice `json:"option"`
	Meal     MealOption   `json:"meal"`
}

// CollectOptions flattens the primary and alternative option of every
// non-empty slot of the week.
func CollectOptions(days []DayPlan) []CollectedOption {
	var out []CollectedOption
	for _, d := range days {
		day := strings.ToLower(d.Day)
		for _, mt := range MealTypes {
			slot := d.Meals.Get(mt)
			if slot == nil {
				continue
			}
			if !slot.Primary.IsEmpty() {
				out = append(out, CollectedOption{
					ID: OptionID(day, mt, OptionPrimary), Day: day, MealType: mt,
					Option: OptionPrimary, Meal: slot.Primary.clone(),
				})
			}
			if !slot.Alternative.IsEmpty() {
				out = append(out, CollectedOption{
					ID: OptionID(day, mt, OptionAlternative), Day: day, MealType: mt,
					Option: OptionAlternative, Meal: slot.Alternative.clone(),
				})
			}
		}
	}
	return out
}

// Resolve returns the option displayed for (day, mealType) given the user
// overrides. A swap whose source no longer exists resolves to nothing.
func Resolve(days []DayPlan, overrides map[string]Override, day string, mealType MealType) (*MealOption, bool) {
	return resolveWith(days, nil, overrides, day, mealType)
}

func resolveWith(days []DayPlan, options map[string]MealOption, overrides map[string]Override, day string, mealType MealType) (*MealOption, bool) {
	ov, hasOverride := overrides[SlotKey(day, mealType)]

	if hasOverride && ov.IsCustomSwap {
		id := OptionID(ov.SourceDay, ov.SourceMealType, ov.SourceOption)
		if options == nil {
			options = indexOptions(days)
		}
		meal, ok := options[id]
		if !ok {
			return nil, false
		}
		meal = meal.clone()
		return &meal, true
	}

	slot := findSlot(days, day, mealType)
	if slot == nil {
		return nil, false
	}
	if hasOverride && ov.Choice == OptionAlternative && !slot.Alternative.IsEmpty() {
		alt := slot.Alternative.clone()
		return &alt, true
	}
	primary := slot.Primary.clone()
	return &primary, true
}

func indexOptions(days []DayPlan) map[string]MealOption {
	opts := CollectOptions(days)
	index := make(map[string]MealOption, len(opts))
	for _, o := range opts {
		index[o.ID] = o.Meal
	}
	return index
}

func findSlot(days []DayPlan, day string, mealType MealType) *MealSlot {
	for i := range days {
		if strings.EqualFold(days[i].Day, day) {
			return days[i].Meals.Get(mealType)
		}
	}
	return nil
}

// ResolvedMeal is the meal displayed for one slot.
type ResolvedMeal struct {
	MealType MealType     `json:"mealType"`
	Location MealLocation `json:"location"`
	Meal     *MealOption  `json:"meal"`
	Override *Override    `json:"override,omitempty"`
}

// ResolvedDay is one day of the displayed week.
type ResolvedDay struct {
	Day      string         `json:"day"`
	Date     string         `json:"date,omitempty"`
	Meals    []ResolvedMeal `json:"meals"`
	Calories int            `json:"calories"`
	Protein  int            `json:"protein"`
	Carbs    int            `json:"carbs"`
	Fat      int            `json:"fat"`
}

// ResolveWeek resolves every slot of the plan with its stored overrides.
func ResolveWeek(plan *MealPlan) []ResolvedDay {
	if plan == nil {
		return nil
	}
	days := plan.UserContext.Days
	overrides := plan.UserContext.SelectedMealOptions
	options := indexOptions(days)

	out := make([]ResolvedDay, 0, len(days))
	for _, d := range days {
		rd := ResolvedDay{Day: d.Day, Date: d.Date}
		for _, mt := range MealTypes {
			rm := ResolvedMeal{MealType: mt, Location: d.PlannedMeals.For(mt)}
			if ov, ok := overrides[SlotKey(d.Day, mt)]; ok {
				rm.Override = &ov
			}
			if meal, ok := resolveWith(days, options, overrides, d.Day, mt); ok {
				rm.Meal = meal
				rd.Calories += meal.Calories
				rd.Protein += meal.Protein
				rd.Carbs += meal.Carbs
				rd.Fat += meal.Fat
			}
			rd.Meals = append(rd.Meals, rm)
		}
		out = append(out, rd)
	}
	return out
}
