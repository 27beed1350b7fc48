package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// DateLayout is the calendar date format stored in DailyStats.Date.
const DateLayout = "2006-01-02"

// DailyStats holds one user's totals for one calendar day in the user's timezone.
// Rows are only written by the aggregator, always as a full recompute.
type DailyStats struct {
	ID     uuid.UUID `gorm:"type:varchar(36);primarykey" json:"id"`
	UserID uuid.UUID `gorm:"type:varchar(36);not null;uniqueIndex:idx_daily_stats_user_date,priority:1" json:"user_id"`
	Date   string    `gorm:"size:10;not null;uniqueIndex:idx_daily_stats_user_date,priority:2" json:"date"`

	TotalCalories float64 `gorm:"not null" json:"total_calories"`
	TotalProtein  float64 `gorm:"not null" json:"total_protein"`
	TotalCarbs    float64 `gorm:"not null" json:"total_carbs"`
	TotalFat      float64 `gorm:"not null" json:"total_fat"`
	TotalFiber    float64 `gorm:"not null" json:"total_fiber"`
	TotalSodium   float64 `gorm:"not null" json:"total_sodium"`
	MealCount     int     `gorm:"not null" json:"meal_count"`
	AverageScore  float64 `gorm:"not null" json:"average_score"`

	CalorieGoal  int     `gorm:"not null" json:"calorie_goal"`
	CalorieDelta float64 `gorm:"not null" json:"calorie_delta"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DailyStats) TableName() string {
	return "daily_stats"
}

func (s *DailyStats) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Totals returns the summed nutrients as a canonical record.
func (s DailyStats) Totals() nutrition.Record {
	return nutrition.Record{
		Calories: s.TotalCalories,
		Protein:  s.TotalProtein,
		Carbs:    s.TotalCarbs,
		Fat:      s.TotalFat,
		Fiber:    s.TotalFiber,
		Sodium:   s.TotalSodium,
	}
}
