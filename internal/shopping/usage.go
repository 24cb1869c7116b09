package shopping

import (
	"regexp"
	"sort"
	"strings"
)

var dayOrder = map[string]int{
	"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3,
	"friday": 4, "saturday": 5, "sunday": 6,
}

// Checked in order, first substring match wins.
var perishabilityTable = []struct {
	key   string
	value Perishability
}{
	{"chicken", PerishabilityHigh}, {"ground beef", PerishabilityHigh}, {"beef", PerishabilityHigh},
	{"fish", PerishabilityHigh}, {"salmon", PerishabilityHigh}, {"shrimp", PerishabilityHigh},
	{"ground turkey", PerishabilityHigh}, {"fresh herbs", PerishabilityHigh}, {"cilantro", PerishabilityHigh},
	{"parsley", PerishabilityHigh}, {"basil", PerishabilityHigh}, {"berries", PerishabilityHigh},
	{"strawberries", PerishabilityHigh}, {"raspberries", PerishabilityHigh}, {"lettuce", PerishabilityHigh},
	{"spinach", PerishabilityHigh}, {"mixed greens", PerishabilityHigh}, {"avocado", PerishabilityHigh},
	{"banana", PerishabilityHigh}, {"milk", PerishabilityHigh}, {"cream", PerishabilityHigh},
	{"yogurt", PerishabilityHigh},

	{"eggs", PerishabilityMedium}, {"cheese", PerishabilityMedium}, {"tofu", PerishabilityMedium},
	{"bell pepper", PerishabilityMedium}, {"broccoli", PerishabilityMedium}, {"carrots", PerishabilityMedium},
	{"zucchini", PerishabilityMedium}, {"tomatoes", PerishabilityMedium}, {"cucumber", PerishabilityMedium},
	{"mushrooms", PerishabilityMedium}, {"apples", PerishabilityMedium}, {"oranges", PerishabilityMedium},
	{"grapes", PerishabilityMedium}, {"butter", PerishabilityMedium}, {"bread", PerishabilityMedium},
}

var units = map[string]bool{
	"cup": true, "cups": true, "tbsp": true, "tsp": true, "tablespoon": true, "tablespoons": true,
	"teaspoon": true, "teaspoons": true, "oz": true, "ounce": true, "ounces": true, "lb": true,
	"lbs": true, "pound": true, "pounds": true, "g": true, "gram": true, "grams": true, "kg": true,
	"ml": true, "l": true, "liter": true, "liters": true, "clove": true, "cloves": true,
	"slice": true, "slices": true, "can": true, "cans": true, "package": true, "packages": true,
	"bag": true, "bags": true, "pinch": true, "dash": true, "pieces": true, "piece": true,
}

var sizeWords = map[string]bool{"small": true, "medium": true, "large": true, "extra-large": true, "xl": true}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	whitespace    = regexp.MustCompile(`\s+`)
	quantityToken = regexp.MustCompile(`^[\d/.+-]+$`)
	nonLetters    = regexp.MustCompile(`[^a-z\s]`)
)

// PerishabilityOf classifies an ingredient; unknown items are shelf stable.
func PerishabilityOf(ingredient string) Perishability {
	lower := strings.ToLower(ingredient)
	for _, p := range perishabilityTable {
		if strings.Contains(lower, p.key) {
			return p.value
		}
	}
	return PerishabilityLow
}

// ExtractIngredientName drops leading quantities, units and size words
// from an ingredient line ("2 cups of large spinach" -> "spinach").
func ExtractIngredientName(raw string) string {
	cleaned := strings.ToLower(raw)
	cleaned = parenthetical.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, ",", " ")
	cleaned = strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))

	parts := strings.Split(cleaned, " ")
	i := 0
	for i < len(parts) && (quantityToken.MatchString(parts[i]) || units[parts[i]]) {
		i++
	}
	if i < len(parts) && parts[i] == "of" {
		i++
	}
	if i < len(parts) && sizeWords[parts[i]] {
		i++
	}

	name := strings.TrimSpace(strings.Join(parts[i:], " "))
	if name == "" {
		return cleaned
	}
	return name
}

// NormalizeKey reduces an item name to lowercase letters and single spaces.
func NormalizeKey(value string) string {
	s := nonLetters.ReplaceAllString(strings.ToLower(value), "")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

type usageIndex struct {
	keys   []string
	usages map[string][]Usage
}

func buildUsageIndex(meals []MealIngredients) usageIndex {
	idx := usageIndex{usages: make(map[string][]Usage)}
	for _, m := range meals {
		day := strings.ToLower(m.Day)
		if day == "" {
			continue
		}
		mealType := m.MealType
		if mealType == "" {
			mealType = "meal"
		}
		dish := m.DishName
		if dish == "" {
			dish = "Meal"
		}
		for _, ingredient := range m.Ingredients {
			key := NormalizeKey(ExtractIngredientName(ingredient))
			if key == "" {
				continue
			}
			if _, ok := idx.usages[key]; !ok {
				idx.keys = append(idx.keys, key)
			}
			idx.usages[key] = append(idx.usages[key], Usage{Day: day, Meal: mealType, DishName: dish})
		}
	}
	return idx
}

func (idx usageIndex) find(itemName string) []Usage {
	key := NormalizeKey(itemName)
	if u, ok := idx.usages[key]; ok {
		return u
	}
	if key == "" {
		return nil
	}
	for _, k := range idx.keys {
		if strings.Contains(k, key) || strings.Contains(key, k) {
			return idx.usages[k]
		}
	}
	return nil
}

// FirstUseDay returns the earliest weekday among usages, or "unknown".
func FirstUseDay(usages []Usage) string {
	if len(usages) == 0 {
		return "unknown"
	}
	sorted := make([]Usage, len(usages))
	copy(sorted, usages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return dayRank(sorted[i].Day) < dayRank(sorted[j].Day)
	})
	return sorted[0].Day
}

func dayRank(day string) int {
	if r, ok := dayOrder[day]; ok {
		return r
	}
	return -1
}

// EnhanceWithUsage annotates every item of list with the meals it is used
// in, its first use day and its perishability.
func EnhanceWithUsage(list *List, meals []MealIngredients) *List {
	if list == nil || len(meals) == 0 {
		return list
	}
	idx := buildUsageIndex(meals)

	out := *list
	for _, c := range out.categories() {
		items := make([]Item, len(*c))
		for i, item := range *c {
			usages := idx.find(item.Name)
			item.UsedInMeals = usages
			item.FirstUseDay = FirstUseDay(usages)
			item.Perishability = PerishabilityOf(item.Name)
			items[i] = item
		}
		*c = items
	}
	return &out
}

// BuildFallback derives a grocery list straight from meal ingredients when
// no consolidated list could be generated. Everything lands in PantryStaples.
func BuildFallback(meals []MealIngredients) *List {
	idx := buildUsageIndex(meals)
	list := &List{Fallback: true}
	for _, key := range idx.keys {
		usages := idx.usages[key]
		list.PantryStaples = append(list.PantryStaples, Item{
			Name:          key,
			Quantity:      "varies",
			Category:      "pantryStaples",
			UsedInMeals:   usages,
			FirstUseDay:   FirstUseDay(usages),
			Perishability: PerishabilityOf(key),
		})
	}
	return list
}
