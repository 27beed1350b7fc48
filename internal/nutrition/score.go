package nutrition

import "math"

const (
	MinFoodScore = 1
	MaxFoodScore = 5
)

// FoodScore rates a meal from 1 to 5. It starts at 3, rewards protein and fiber,
// penalises sodium and calories, then clamps and rounds to the nearest integer.
func FoodScore(r Record) int {
	score := 3.0

	switch {
	case r.Protein > 20:
		score += 1
	case r.Protein > 10:
		score += 0.5
	}

	switch {
	case r.Fiber > 5:
		score += 1
	case r.Fiber > 3:
		score += 0.5
	}

	switch {
	case r.Sodium > 800:
		score -= 1
	case r.Sodium > 500:
		score -= 0.5
	}

	switch {
	case r.Calories > 600:
		score -= 1
	case r.Calories > 400:
		score -= 0.5
	}

	score = math.Max(MinFoodScore, math.Min(MaxFoodScore, score))
	return int(math.Round(score))
}
