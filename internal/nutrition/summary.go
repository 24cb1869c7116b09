package nutrition

import "math"

// Summary statuses for a day's planned calories against the target.
const (
	StatusOnTarget = "on-target"
	StatusUnder    = "under"
	StatusOver     = "over"
	StatusWarning  = "warning"
)

// SlotCalories is the planned energy of one slot.
type SlotCalories struct {
	Calories int    `json:"calories"`
	Source   string `json:"source"`
}

// DayCalories is the input row for DailySummaries.
type DayCalories struct {
	Day       string       `json:"day"`
	Breakfast SlotCalories `json:"breakfast"`
	Lunch     SlotCalories `json:"lunch"`
	Dinner    SlotCalories `json:"dinner"`
}

// DailySummary compares one day's plan with the daily target.
type DailySummary struct {
	Day       string      `json:"day"`
	Target    int         `json:"target"`
	Planned   int         `json:"planned"`
	Breakdown DayCalories `json:"breakdown"`
	Deviation float64     `json:"deviation"`
	Status    string      `json:"status"`
}

// ClassifyDeviation maps a percentage deviation onto a summary status.
func ClassifyDeviation(deviation float64) string {
	switch {
	case math.Abs(deviation) <= 10:
		return StatusOnTarget
	case deviation < -15:
		return StatusUnder
	case deviation > 15:
		return StatusOver
	default:
		return StatusWarning
	}
}

// DailySummaries reports planned calories per day against dailyTarget.
func DailySummaries(days []DayCalories, dailyTarget int) []DailySummary {
	out := make([]DailySummary, 0, len(days))
	for _, d := range days {
		planned := d.Breakfast.Calories + d.Lunch.Calories + d.Dinner.Calories
		deviation := 0.0
		if dailyTarget > 0 {
			deviation = float64(planned-dailyTarget) / float64(dailyTarget) * 100
		}
		out = append(out, DailySummary{
			Day:       d.Day,
			Target:    dailyTarget,
			Planned:   planned,
			Breakdown: d,
			Deviation: deviation,
			Status:    ClassifyDeviation(deviation),
		})
	}
	return out
}
