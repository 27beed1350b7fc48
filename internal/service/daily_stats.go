package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/types"
)

const MaxHistoryDays = 90

// DailyStatsService recomputes and reads per-day totals. Days are calendar days in the
// user's timezone, falling back to defaultTimezone.
type DailyStatsService struct {
	db              *gorm.DB
	defaultTimezone string
	now             Clock
	logger          *zap.Logger
}

var _ IDailyStatsService = (*DailyStatsService)(nil)

func NewDailyStatsService(db *gorm.DB, defaultTimezone string, logger *zap.Logger) *DailyStatsService {
	return &DailyStatsService{
		db:              db,
		defaultTimezone: defaultTimezone,
		now:             time.Now,
		logger:          logger.Named("daily_stats"),
	}
}

// WithClock replaces the time source.
func (s *DailyStatsService) WithClock(now Clock) *DailyStatsService {
	s.now = now
	return s
}

// LocalDate returns the user's calendar date for t.
func (s *DailyStatsService) LocalDate(user *models.User, t time.Time) string {
	return t.In(user.Location(s.defaultTimezone)).Format(models.DateLayout)
}

// Today returns the user's current calendar date.
func (s *DailyStatsService) Today(user *models.User) string {
	return s.LocalDate(user, s.now())
}

// DayBounds returns [start, end) of date in the user's timezone, in UTC.
func (s *DailyStatsService) DayBounds(user *models.User, date string) (time.Time, time.Time, error) {
	loc := user.Location(s.defaultTimezone)
	start, err := time.ParseInLocation(models.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Validation(fmt.Sprintf("invalid date %q", date), "date")
	}
	return start.UTC(), start.AddDate(0, 0, 1).UTC(), nil
}

// Recompute rebuilds the user's stats for date from every logged entry of that day.
// Calling it again without new entries yields the same row.
func (s *DailyStatsService) Recompute(ctx context.Context, userID uuid.UUID, date string) (*models.DailyStats, error) {
	var stats *models.DailyStats
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		stats, err = s.recompute(tx, user, date)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, storeError("recompute daily stats", err)
	}
	return stats, nil
}

// RecomputeAt recomputes the day containing t.
func (s *DailyStatsService) RecomputeAt(ctx context.Context, user *models.User, t time.Time) (*models.DailyStats, error) {
	return s.Recompute(ctx, user.ID, s.LocalDate(user, t))
}

// recompute sums the day's entries and overwrites the (user, date) row inside tx.
func (s *DailyStatsService) recompute(tx *gorm.DB, user *models.User, date string) (*models.DailyStats, error) {
	start, end, err := s.DayBounds(user, date)
	if err != nil {
		return nil, err
	}

	var entries []models.FoodLogEntry
	if err := tx.Where("user_id = ? AND created_at >= ? AND created_at < ?", user.ID, start, end).
		Order("created_at").Find(&entries).Error; err != nil {
		return nil, err
	}

	stats := models.DailyStats{UserID: user.ID, Date: date, CalorieGoal: user.CalorieGoal()}
	scoreSum := 0
	for _, e := range entries {
		totals := stats.Totals().Add(e.Record())
		stats.TotalCalories, stats.TotalProtein, stats.TotalCarbs = totals.Calories, totals.Protein, totals.Carbs
		stats.TotalFat, stats.TotalFiber, stats.TotalSodium = totals.Fat, totals.Fiber, totals.Sodium
		scoreSum += e.FoodScore
	}
	stats.MealCount = len(entries)
	if stats.MealCount > 0 {
		stats.AverageScore = round1(float64(scoreSum) / float64(stats.MealCount))
	}
	stats.TotalCalories, stats.TotalProtein = round1(stats.TotalCalories), round1(stats.TotalProtein)
	stats.TotalCarbs, stats.TotalFat = round1(stats.TotalCarbs), round1(stats.TotalFat)
	stats.TotalFiber, stats.TotalSodium = round1(stats.TotalFiber), round1(stats.TotalSodium)
	stats.CalorieDelta = round1(stats.TotalCalories - float64(stats.CalorieGoal))

	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_calories", "total_protein", "total_carbs", "total_fat", "total_fiber", "total_sodium",
			"meal_count", "average_score", "calorie_goal", "calorie_delta", "updated_at",
		}),
	}).Create(&stats).Error
	if err != nil {
		return nil, err
	}

	// the conflict path keeps the existing primary key
	var stored models.DailyStats
	if err := tx.Where("user_id = ? AND date = ?", user.ID, date).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// Get returns the stored stats for a day, or ErrStatsNotFound.
func (s *DailyStatsService) Get(ctx context.Context, userID uuid.UUID, date string) (*models.DailyStats, error) {
	var stats models.DailyStats
	err := s.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStatsNotFound
	}
	if err != nil {
		return nil, storeError("load daily stats", err)
	}
	return &stats, nil
}

// History returns up to days stored rows ending today, newest first.
func (s *DailyStatsService) History(ctx context.Context, user *models.User, days int) ([]models.DailyStats, error) {
	if days <= 0 {
		days = 7
	}
	if days > MaxHistoryDays {
		days = MaxHistoryDays
	}
	today := s.Today(user)
	end, err := time.Parse(models.DateLayout, today)
	if err != nil {
		return nil, err
	}
	from := end.AddDate(0, 0, -(days - 1)).Format(models.DateLayout)

	var rows []models.DailyStats
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ? AND date <= ?", user.ID, from, today).
		Order("date DESC").
		Find(&rows).Error
	if err != nil {
		return nil, storeError("load stats history", err)
	}
	return rows, nil
}

// Summary renders a stats row for the read-only API.
func Summary(user *models.User, stats *models.DailyStats) types.DailySummary {
	return types.DailySummary{
		ExternalID:   user.ExternalID,
		Date:         stats.Date,
		Totals:       stats.Totals(),
		MealCount:    stats.MealCount,
		AverageScore: stats.AverageScore,
		CalorieGoal:  stats.CalorieGoal,
		CalorieDelta: stats.CalorieDelta,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
