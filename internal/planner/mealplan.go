package planner

import (
	"fmt"
	"strings"
	"time"

	"mealsynth/internal/nutrition"
	"mealsynth/internal/shared"
	"mealsynth/internal/shopping"
)

// PlanStatus represents the readiness of a meal plan.
type PlanStatus string

const (
	StatusPending  PlanStatus = "pending"
	StatusPartial  PlanStatus = "partial"
	StatusComplete PlanStatus = "complete"
)

// Source tags which pipeline produced a slot or option.
type Source string

const (
	SourceHome       Source = "home"
	SourceRestaurant Source = "restaurant"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceHome || s == SourceRestaurant
}

// MealType is one of the three planned meals of a day.
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
)

// MealTypes lists the meal types in display order.
var MealTypes = []MealType{Breakfast, Lunch, Dinner}

// Valid reports whether mt is a known meal type.
func (mt MealType) Valid() bool {
	return mt == Breakfast || mt == Lunch || mt == Dinner
}

// WeekDays lists the day names Monday through Sunday.
var WeekDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayIndex returns the position of day within the week, or -1.
func DayIndex(day string) int {
	day = strings.ToLower(day)
	for i, d := range WeekDays {
		if d == day {
			return i
		}
	}
	return -1
}

// MealLocation says where the user eats a given meal.
type MealLocation string

const (
	LocationHome       MealLocation = "home"
	LocationRestaurant MealLocation = "restaurant"
	LocationNoMeal     MealLocation = "no-meal"
)

// PlannedMeals is the schedule of one day.
type PlannedMeals struct {
	Breakfast MealLocation `json:"breakfast"`
	Lunch     MealLocation `json:"lunch"`
	Dinner    MealLocation `json:"dinner"`
}

// For returns the location of mt.
func (p PlannedMeals) For(mt MealType) MealLocation {
	switch mt {
	case Breakfast:
		return p.Breakfast
	case Lunch:
		return p.Lunch
	case Dinner:
		return p.Dinner
	}
	return ""
}

// WeeklySchedule maps a day name to its planned meals.
type WeeklySchedule map[string]PlannedMeals

// AllHome is the schedule used when the user supplied none.
func AllHome() WeeklySchedule {
	s := make(WeeklySchedule, len(WeekDays))
	for _, d := range WeekDays {
		s[d] = PlannedMeals{Breakfast: LocationHome, Lunch: LocationHome, Dinner: LocationHome}
	}
	return s
}

// Count returns how many slots of the week are planned at loc.
func (s WeeklySchedule) Count(loc MealLocation) int {
	n := 0
	for _, d := range WeekDays {
		pm, ok := s[d]
		if !ok {
			continue
		}
		for _, mt := range MealTypes {
			if pm.For(mt) == loc {
				n++
			}
		}
	}
	return n
}

// Slots lists the (day, mealType) pairs planned at loc in week order.
func (s WeeklySchedule) Slots(loc MealLocation) []SlotRef {
	var refs []SlotRef
	for _, d := range WeekDays {
		pm, ok := s[d]
		if !ok {
			continue
		}
		for _, mt := range MealTypes {
			if pm.For(mt) == loc {
				refs = append(refs, SlotRef{Day: d, MealType: mt})
			}
		}
	}
	return refs
}

// NutritionSlots converts the schedule to the shape the nutrition package uses.
func (s WeeklySchedule) NutritionSlots() map[string]nutrition.DaySlots {
	out := make(map[string]nutrition.DaySlots, len(s))
	for d, pm := range s {
		out[d] = nutrition.DaySlots{
			Breakfast: string(pm.Breakfast),
			Lunch:     string(pm.Lunch),
			Dinner:    string(pm.Dinner),
		}
	}
	return out
}

// SlotRef addresses one slot of the week.
type SlotRef struct {
	Day      string   `json:"day"`
	MealType MealType `json:"mealType"`
}

// Key returns the "{day}-{mealType}" form used by overrides.
func (r SlotRef) Key() string {
	return SlotKey(r.Day, r.MealType)
}

// SlotKey builds the "{day}-{mealType}" key for a slot.
func SlotKey(day string, mt MealType) string {
	return strings.ToLower(day) + "-" + string(mt)
}

// MealOption is a single servable choice.
type MealOption struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Calories        int      `json:"calories"`
	Protein         int      `json:"protein"`
	Carbs           int      `json:"carbs"`
	Fat             int      `json:"fat"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	Source          Source   `json:"source"`
	Restaurant      string   `json:"restaurant,omitempty"`
	Price           float64  `json:"price,omitempty"`
	OrderingLinks   []string `json:"orderingLinks,omitempty"`
	Cuisine         string   `json:"cuisine,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Ingredients     []string `json:"ingredients,omitempty"`
	Instructions    []string `json:"instructions,omitempty"`
	CookTimeMinutes int      `json:"cookTime,omitempty"`
	SearchTerms     string   `json:"searchTerms,omitempty"`
}

// IsEmpty reports whether the option carries no dish.
func (o *MealOption) IsEmpty() bool {
	return o == nil || strings.TrimSpace(o.Name) == ""
}

func (o MealOption) clone() MealOption {
	c := o
	c.OrderingLinks = append([]string(nil), o.OrderingLinks...)
	c.Tags = append([]string(nil), o.Tags...)
	c.Ingredients = append([]string(nil), o.Ingredients...)
	c.Instructions = append([]string(nil), o.Instructions...)
	return c
}

// MealSlot holds the options offered for one (day, mealType).
type MealSlot struct {
	Primary     MealOption  `json:"primary"`
	Alternative *MealOption `json:"alternative,omitempty"`
	Source      Source      `json:"source"`
}

func (s *MealSlot) clone() *MealSlot {
	if s == nil {
		return nil
	}
	c := &MealSlot{Primary: s.Primary.clone(), Source: s.Source}
	if s.Alternative != nil {
		alt := s.Alternative.clone()
		c.Alternative = &alt
	}
	return c
}

// DayMeals holds the three slots of a day. A nil slot is empty.
type DayMeals struct {
	Breakfast *MealSlot `json:"breakfast"`
	Lunch     *MealSlot `json:"lunch"`
	Dinner    *MealSlot `json:"dinner"`
}

// Get returns the slot for mt.
func (m *DayMeals) Get(mt MealType) *MealSlot {
	switch mt {
	case Breakfast:
		return m.Breakfast
	case Lunch:
		return m.Lunch
	case Dinner:
		return m.Dinner
	}
	return nil
}

// Set replaces the slot for mt.
func (m *DayMeals) Set(mt MealType, slot *MealSlot) {
	switch mt {
	case Breakfast:
		m.Breakfast = slot
	case Lunch:
		m.Lunch = slot
	case Dinner:
		m.Dinner = slot
	}
}

// DayPlan is the plan for a single day.
type DayPlan struct {
	Day          string       `json:"day"`
	Date         string       `json:"date,omitempty"`
	Meals        DayMeals     `json:"meals"`
	PlannedMeals PlannedMeals `json:"plannedMeals"`
}

func (d DayPlan) clone() DayPlan {
	c := d
	c.Meals = DayMeals{
		Breakfast: d.Meals.Breakfast.clone(),
		Lunch:     d.Meals.Lunch.clone(),
		Dinner:    d.Meals.Dinner.clone(),
	}
	return c
}

// GeneratedMeal is a flat record produced by a generator before it is
// placed into days.
type GeneratedMeal struct {
	Day         string      `json:"day"`
	MealType    MealType    `json:"mealType"`
	Primary     MealOption  `json:"primary"`
	Alternative *MealOption `json:"alternative,omitempty"`
}

// GeneratorState is the completion flag of one generator.
type GeneratorState string

const (
	GeneratorPending   GeneratorState = "pending"
	GeneratorCompleted GeneratorState = "completed"
	GeneratorFailed    GeneratorState = "failed"
)

// GeneratorFlags holds the completion flag of each generator.
type GeneratorFlags struct {
	HomeMeals       GeneratorState `json:"homeMeals"`
	RestaurantMeals GeneratorState `json:"restaurantMeals"`
}

// PlanMetadata is operational bookkeeping stored next to the plan.
type PlanMetadata struct {
	Generators  GeneratorFlags      `json:"generators"`
	Skipped     map[string]string   `json:"skipped,omitempty"`
	Errors      map[string]string   `json:"errors,omitempty"`
	TimingsMS   map[string]int64    `json:"timingsMs,omitempty"`
	Stages      []shared.StageMeta  `json:"stages,omitempty"`
	Restaurants []RestaurantSummary `json:"restaurants,omitempty"`
}

// RestaurantSummary describes a restaurant the restaurant pipeline chose from.
type RestaurantSummary struct {
	Name    string `json:"name"`
	Cuisine string `json:"cuisine,omitempty"`
	City    string `json:"city,omitempty"`
	MenuURL string `json:"menuUrl,omitempty"`
}

// UserContext is the nested document persisted with each plan.
type UserContext struct {
	Days                []DayPlan                `json:"days"`
	NutritionTargets    *nutrition.Targets       `json:"nutritionTargets,omitempty"`
	HomeMeals           []GeneratedMeal          `json:"homeMeals,omitempty"`
	RestaurantMeals     []GeneratedMeal          `json:"restaurantMeals,omitempty"`
	GroceryList         *shopping.List           `json:"groceryList,omitempty"`
	Metadata            PlanMetadata             `json:"metadata"`
	SelectedMealOptions map[string]Override      `json:"selectedMealOptions,omitempty"`
	DailySummaries      []nutrition.DailySummary `json:"dailySummaries,omitempty"`
}

// Validate checks the enumerations of the document.
func (uc *UserContext) Validate() error {
	seen := make(map[string]bool, len(uc.Days))
	for _, d := range uc.Days {
		key := strings.ToLower(d.Day)
		if key == "" {
			key = d.Date
		}
		if key == "" {
			return fmt.Errorf("day without name or date")
		}
		if d.Day != "" && DayIndex(d.Day) < 0 {
			return fmt.Errorf("unknown day %q", d.Day)
		}
		if seen[key] {
			return fmt.Errorf("duplicate day %q", key)
		}
		seen[key] = true

		for _, mt := range MealTypes {
			slot := d.Meals.Get(mt)
			if slot == nil {
				continue
			}
			if !slot.Source.Valid() {
				return fmt.Errorf("%s %s: invalid slot source %q", key, mt, slot.Source)
			}
			if slot.Primary.Source != "" && !slot.Primary.Source.Valid() {
				return fmt.Errorf("%s %s: invalid option source %q", key, mt, slot.Primary.Source)
			}
		}
	}

	for _, list := range [][]GeneratedMeal{uc.HomeMeals, uc.RestaurantMeals} {
		for _, m := range list {
			if !m.MealType.Valid() {
				return fmt.Errorf("generated meal for %q has invalid meal type %q", m.Day, m.MealType)
			}
		}
	}
	return nil
}

// MealPlan is the persisted weekly plan for one survey.
type MealPlan struct {
	ID                string      `json:"id"`
	SurveyID          string      `json:"surveyId"`
	UserID            string      `json:"userId,omitempty"`
	WeekOf            time.Time   `json:"weekOf"`
	Status            PlanStatus  `json:"status"`
	RegenerationCount int         `json:"regenerationCount"`
	UserContext       UserContext `json:"userContext"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}
