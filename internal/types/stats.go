package types

import "github.com/pageza/nutrilog/backend/internal/nutrition"

// DailySummary is the read model served by the admin API and the "today" command.
type DailySummary struct {
	ExternalID   string           `json:"external_id"`
	Date         string           `json:"date"`
	Totals       nutrition.Record `json:"totals"`
	MealCount    int              `json:"meal_count"`
	AverageScore float64          `json:"average_score"`
	CalorieGoal  int              `json:"calorie_goal"`
	CalorieDelta float64          `json:"calorie_delta"`
}

type HistoryResponse struct {
	ExternalID string         `json:"external_id"`
	Days       []DailySummary `json:"days"`
}
