package shopping

// Perishability tells how soon an item should be used after purchase.
type Perishability string

const (
	PerishabilityHigh   Perishability = "high"
	PerishabilityMedium Perishability = "medium"
	PerishabilityLow    Perishability = "low"
)

// Usage records one meal an item is used in.
type Usage struct {
	Day      string `json:"day"`
	Meal     string `json:"meal"`
	DishName string `json:"dishName"`
}

// Item is a single grocery list line.
type Item struct {
	Name          string        `json:"name"`
	Quantity      string        `json:"quantity"`
	Unit          string        `json:"unit,omitempty"`
	Category      string        `json:"category,omitempty"`
	Uses          string        `json:"uses,omitempty"`
	EstimatedCost float64       `json:"estimatedCost,omitempty"`
	UsedInMeals   []Usage       `json:"usedInMeals"`
	FirstUseDay   string        `json:"firstUseDay"`
	Perishability Perishability `json:"perishability"`
}

// List is a categorized grocery list for the home meals of one week.
type List struct {
	Proteins           []Item  `json:"proteins"`
	Vegetables         []Item  `json:"vegetables"`
	Grains             []Item  `json:"grains"`
	Dairy              []Item  `json:"dairy"`
	PantryStaples      []Item  `json:"pantryStaples"`
	Snacks             []Item  `json:"snacks"`
	TotalEstimatedCost float64 `json:"totalEstimatedCost,omitempty"`
	Fallback           bool    `json:"fallback,omitempty"`
}

// MealIngredients is the ingredient view of a planned home meal.
type MealIngredients struct {
	Day         string
	MealType    string
	DishName    string
	Ingredients []string
}

// categories returns pointers to each category slice in display order.
func (l *List) categories() []*[]Item {
	return []*[]Item{&l.Proteins, &l.Vegetables, &l.Grains, &l.Dairy, &l.PantryStaples, &l.Snacks}
}

// Items returns every item of the list in category order.
func (l *List) Items() []Item {
	if l == nil {
		return nil
	}
	var items []Item
	for _, c := range l.categories() {
		items = append(items, *c...)
	}
	return items
}

// Len returns the number of items on the list.
func (l *List) Len() int {
	return len(l.Items())
}
