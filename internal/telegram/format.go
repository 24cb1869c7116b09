package telegram

import (
	"fmt"
	"strings"

	"mealsynth/internal/planner"
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escape makes free text safe inside legacy Markdown.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatOutcomes(outcomes ...*planner.GenerationOutcome) string {
	var sb strings.Builder
	sb.WriteString("📅 *Weekly Meal Plan*\n\n")

	var last *planner.GenerationOutcome
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		label := title(out.Pipeline)
		switch {
		case out.Skipped:
			fmt.Fprintf(&sb, "• %s: nothing scheduled\n", label)
		case out.Error != "":
			fmt.Fprintf(&sb, "• %s: ⚠️ %d meals, %s\n", label, len(out.Meals), escape(out.Error))
		default:
			fmt.Fprintf(&sb, "• %s: ✅ %d meals\n", label, len(out.Meals))
		}
		if !out.Saved && !out.Skipped && len(out.Meals) > 0 {
			fmt.Fprintf(&sb, "  _%s meals could not be saved_\n", label)
		}
		if out.Saved {
			last = out
		}
	}

	if last != nil {
		fmt.Fprintf(&sb, "\n*Status:* %s\n*Regenerations used:* %d\n", last.Status, last.RegenerationCount)
		sb.WriteString("\nSend /week to see your meals.")
	}
	return sb.String()
}

func formatWeekMarkdown(week []planner.ResolvedDay) string {
	var sb strings.Builder
	sb.WriteString("📅 *This Week*\n")

	for _, day := range week {
		fmt.Fprintf(&sb, "\n*%s*", title(day.Day))
		if day.Calories > 0 {
			fmt.Fprintf(&sb, " (%d kcal)", day.Calories)
		}
		sb.WriteString("\n")
		for _, m := range day.Meals {
			label := title(string(m.MealType))
			switch {
			case m.Meal != nil:
				fmt.Fprintf(&sb, "• %s: %s", label, escape(m.Meal.Name))
				if m.Meal.Restaurant != "" {
					fmt.Fprintf(&sb, " @ %s", escape(m.Meal.Restaurant))
				}
				if m.Meal.Calories > 0 {
					fmt.Fprintf(&sb, " (%d kcal)", m.Meal.Calories)
				}
				sb.WriteString("\n")
			case m.Location == planner.LocationNoMeal:
				fmt.Fprintf(&sb, "• %s: _skipped_\n", label)
			default:
				fmt.Fprintf(&sb, "• %s: _pending_\n", label)
			}
		}
	}
	return sb.String()
}

func formatGroceryMarkdown(plan *planner.MealPlan) string {
	list := plan.UserContext.GroceryList

	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	for _, item := range list.Items() {
		fmt.Fprintf(&sb, "• %s", escape(item.Name))
		if q := strings.TrimSpace(item.Quantity + " " + item.Unit); q != "" {
			fmt.Fprintf(&sb, " (%s)", escape(q))
		}
		if item.FirstUseDay != "" {
			fmt.Fprintf(&sb, " - first used %s", title(item.FirstUseDay))
		}
		sb.WriteString("\n")
	}
	if list.TotalEstimatedCost > 0 {
		fmt.Fprintf(&sb, "\n*Estimated total:* $%.2f\n", list.TotalEstimatedCost)
	}
	return sb.String()
}

func formatStatus(view *planner.PlanStatusView) string {
	if !view.Exists {
		return fmt.Sprintf("🗓 No plan yet for the week of *%s*.\nSend /plan to create one.", view.WeekOf.Format("2006-01-02"))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🗓 *Week of %s*\n\n", view.WeekOf.Format("2006-01-02"))
	fmt.Fprintf(&sb, "*Status:* %s\n", view.Status)
	fmt.Fprintf(&sb, "• Home meals: %s\n", view.Generators.HomeMeals)
	fmt.Fprintf(&sb, "• Restaurant meals: %s\n", view.Generators.RestaurantMeals)
	fmt.Fprintf(&sb, "*Regenerations left:* %d\n", view.RemainingRegenerations)
	for generator, msg := range view.Errors {
		fmt.Fprintf(&sb, "⚠️ %s: %s\n", escape(generator), escape(msg))
	}
	return sb.String()
}
