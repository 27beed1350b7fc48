package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/models"
)

// LogOutcome is the result of recording an analysed meal.
type LogOutcome struct {
	Entry *models.FoodLogEntry
	Stats *models.DailyStats
	// Duplicate is set when the chat message was already logged; Entry is the original.
	Duplicate bool
}

// FoodLogService persists analysed meals and keeps the day's stats in step.
type FoodLogService struct {
	db     *gorm.DB
	stats  *DailyStatsService
	now    Clock
	logger *zap.Logger
}

var _ IFoodLogService = (*FoodLogService)(nil)

func NewFoodLogService(db *gorm.DB, stats *DailyStatsService, logger *zap.Logger) *FoodLogService {
	return &FoodLogService{
		db:     db,
		stats:  stats,
		now:    time.Now,
		logger: logger.Named("food_log"),
	}
}

// WithClock replaces the time source.
func (s *FoodLogService) WithClock(now Clock) *FoodLogService {
	s.now = now
	return s
}

// Record stores result as a new entry and recomputes the day it falls on, in one
// transaction. A non-empty messageID that was already logged for the user is not
// logged again.
func (s *FoodLogService) Record(ctx context.Context, user *models.User, result *analysis.Result, messageID string) (*LogOutcome, error) {
	if messageID != "" {
		existing, err := s.findByMessage(s.db.WithContext(ctx), user, messageID)
		if err != nil {
			return nil, storeError("check logged message", err)
		}
		if existing != nil {
			return s.duplicate(ctx, user, existing)
		}
	}

	entry := &models.FoodLogEntry{
		UserID:      user.ID,
		CreatedAt:   s.now().UTC(),
		FoodScore:   result.Score,
		Method:      result.Method,
		Source:      string(result.Source),
		Confidence:  result.Confidence,
		Description: result.Description,
		RawInputRef: result.RawInputRef,
	}
	entry.SetRecord(result.Record)
	if messageID != "" {
		id := messageID
		entry.SourceMessageID = &id
	}

	outcome := &LogOutcome{Entry: entry}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Concurrent logs for one user recompute one at a time, each seeing the
		// entries committed before it.
		locked, err := lockUser(tx, user.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		stats, err := s.stats.recompute(tx, locked, s.stats.LocalDate(locked, entry.CreatedAt))
		if err != nil {
			return err
		}
		outcome.Stats = stats
		return nil
	})
	if err != nil {
		if messageID != "" && isUniqueViolation(err) {
			existing, findErr := s.findByMessage(s.db.WithContext(ctx), user, messageID)
			if findErr == nil && existing != nil {
				return s.duplicate(ctx, user, existing)
			}
		}
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, storeError("record food log", err)
	}

	s.logger.Info("meal logged",
		zap.String("user_id", user.ID.String()),
		zap.String("method", string(entry.Method)),
		zap.String("source", entry.Source),
		zap.Float64("calories", entry.Calories),
		zap.Int("food_score", entry.FoodScore),
		zap.String("date", outcome.Stats.Date),
	)
	return outcome, nil
}

func (s *FoodLogService) duplicate(ctx context.Context, user *models.User, entry *models.FoodLogEntry) (*LogOutcome, error) {
	s.logger.Info("duplicate chat message ignored",
		zap.String("user_id", user.ID.String()),
		zap.Stringp("message_id", entry.SourceMessageID),
	)
	outcome := &LogOutcome{Entry: entry, Duplicate: true}
	stats, err := s.stats.Get(ctx, user.ID, s.stats.LocalDate(user, entry.CreatedAt))
	if err != nil && !errors.Is(err, ErrStatsNotFound) {
		return nil, err
	}
	outcome.Stats = stats
	return outcome, nil
}

func (s *FoodLogService) findByMessage(db *gorm.DB, user *models.User, messageID string) (*models.FoodLogEntry, error) {
	var entry models.FoodLogEntry
	err := db.Where("user_id = ? AND source_message_id = ?", user.ID, messageID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Entries returns the user's entries for a calendar date, oldest first.
func (s *FoodLogService) Entries(ctx context.Context, user *models.User, date string) ([]models.FoodLogEntry, error) {
	start, end, err := s.stats.DayBounds(user, date)
	if err != nil {
		return nil, err
	}
	var entries []models.FoodLogEntry
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", user.ID, start, end).
		Order("created_at").
		Find(&entries).Error
	if err != nil {
		return nil, storeError("load food log", err)
	}
	return entries, nil
}
