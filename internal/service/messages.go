package service

import (
	"math"
	"strconv"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// LowConfidenceThreshold is the confidence below which a result is flagged as rough.
const LowConfidenceThreshold = 0.7

func kcal(v float64) string {
	return strconv.Itoa(int(math.Round(v)))
}

func grams(v float64) string {
	return formatNumber(round1(v))
}

// analysisMessages renders a logged meal as separate chat messages.
func analysisMessages(m *i18n.Manager, lang string, result *analysis.Result) []string {
	r := result.Record
	msgs := []string{
		m.T(lang, "analysis.result",
			"description", result.Description,
			"calories", kcal(r.Calories),
			"protein", grams(r.Protein),
			"carbs", grams(r.Carbs),
			"fat", grams(r.Fat),
			"fiber", grams(r.Fiber),
			"sodium", kcal(r.Sodium),
		),
		m.T(lang, "analysis.score", "score", result.Score),
	}
	if result.Degraded || result.Confidence < LowConfidenceThreshold {
		msgs = append(msgs, m.T(lang, "analysis.low_confidence"))
	}
	return msgs
}

// dailyProgress renders the day's running total against the goal. It is empty when the
// user has no goal.
func dailyProgress(m *i18n.Manager, lang string, stats *models.DailyStats) string {
	if stats == nil || stats.CalorieGoal <= 0 {
		return ""
	}
	remaining := float64(stats.CalorieGoal) - stats.TotalCalories
	if remaining >= 0 {
		return m.T(lang, "analysis.daily",
			"total", kcal(stats.TotalCalories), "goal", stats.CalorieGoal, "remaining", kcal(remaining))
	}
	return m.T(lang, "analysis.daily_over",
		"total", kcal(stats.TotalCalories), "goal", stats.CalorieGoal, "over", kcal(-remaining))
}

func todaySummary(m *i18n.Manager, lang string, stats *models.DailyStats) string {
	if stats == nil || stats.MealCount == 0 {
		return m.T(lang, "today.empty")
	}
	return m.T(lang, "today.summary",
		"date", stats.Date,
		"calories", kcal(stats.TotalCalories),
		"meals", stats.MealCount,
		"protein", grams(stats.TotalProtein),
		"carbs", grams(stats.TotalCarbs),
		"fat", grams(stats.TotalFat),
		"goal", stats.CalorieGoal,
	)
}

func appendQuiz(resp *types.ChatResponse, reply *QuizReply) {
	if reply == nil {
		return
	}
	for _, msg := range reply.Messages {
		resp.AddText(msg.Text, msg.QuickReplies...)
	}
}
