package planner

// DeriveStatus computes plan readiness from the generator flags and the
// sources present in the days. A generator that had no slots to fill is
// recorded as skipped and does not need content of its own.
func DeriveStatus(uc UserContext) PlanStatus {
	gen := uc.Metadata.Generators
	homeDone := gen.HomeMeals == GeneratorCompleted
	restaurantDone := gen.RestaurantMeals == GeneratorCompleted

	switch {
	case homeDone && restaurantDone:
		hasHome, hasRestaurant := sourcesPresent(uc.Days)
		needHome := uc.Metadata.Skipped[generatorHome] == ""
		needRestaurant := uc.Metadata.Skipped[generatorRestaurant] == ""
		if (hasHome || !needHome) && (hasRestaurant || !needRestaurant) {
			return StatusComplete
		}
		return StatusPartial
	case homeDone || restaurantDone:
		return StatusPartial
	default:
		return StatusPending
	}
}

func sourcesPresent(days []DayPlan) (home, restaurant bool) {
	for _, d := range days {
		for _, mt := range MealTypes {
			slot := d.Meals.Get(mt)
			if slot == nil {
				continue
			}
			for _, opt := range []*MealOption{&slot.Primary, slot.Alternative} {
				if opt.IsEmpty() {
					continue
				}
				src := opt.Source
				if src == "" {
					src = slot.Source
				}
				switch src {
				case SourceHome:
					home = true
				case SourceRestaurant:
					restaurant = true
				}
			}
		}
	}
	return home, restaurant
}
